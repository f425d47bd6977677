package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"school-quiz-service/internal/config"
	"school-quiz-service/internal/infra/postgres"
	"school-quiz-service/internal/logger"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), *configPath)
		},
	}
}

func runMigrations(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()
	return runMigrationsWithConfig(ctx, cfg, log)
}

func runMigrationsWithConfig(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	db := postgres.OpenBun(cfg.Postgres.URL)
	defer db.Close()

	applied, err := postgres.Migrate(ctx, db)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		log.Info("schema up to date")
		return nil
	}
	log.Info("migrations applied", "migrations", applied)
	return nil
}
