package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port         string   `yaml:"port"`
		ReadTimeout  string   `yaml:"read_timeout"`
		WriteTimeout string   `yaml:"write_timeout"`
		CORSOrigins  []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Attempts struct {
		// LockTTL bounds how long a crashed holder can block a (user, topic) key.
		LockTTL    string `yaml:"lock_ttl"`
		LockWait   string `yaml:"lock_wait"`
		MaxRetries int    `yaml:"max_retries"`
	} `yaml:"attempts"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// MaxRetries returns the configured attempt-number retry budget, defaulting to 3.
func (c Config) MaxRetries() int {
	if c.Attempts.MaxRetries <= 0 {
		return 3
	}
	return c.Attempts.MaxRetries
}
