package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"school-quiz-service/internal/app"
	"school-quiz-service/internal/config"
	"school-quiz-service/internal/domain"
	"school-quiz-service/internal/infra/memory"
	"school-quiz-service/internal/infra/postgres"
	redislock "school-quiz-service/internal/infra/redis"
	"school-quiz-service/internal/logger"
	transport "school-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var store app.Store
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
		pool, db, err := postgres.Open(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		defer db.Close()
		store = postgres.NewStore(pool, db, cfg.MaxRetries())
	} else {
		log.Warn("postgres url not configured, serving demo data from memory")
		mem, err := demoStore(ctx)
		if err != nil {
			return err
		}
		store = mem
	}

	var locker app.AttemptLocker = memory.NewKeyLock()
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		locker = redislock.NewAttemptLock(redisClient, config.TTLDuration(cfg.Attempts.LockTTL, 10*time.Second))
	}

	service := app.NewQuizService(store, locker,
		app.WithLockWait(config.TTLDuration(cfg.Attempts.LockWait, 5*time.Second)),
		app.WithLogger(log),
	)
	handler := transport.NewHandler(service, log)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      handler.Routes(cfg.Server.CORSOrigins),
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	go func() {
		log.Info("starting quiz service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// demoStore seeds a small school for running without Postgres.
func demoStore(ctx context.Context) (*memory.Store, error) {
	store := memory.NewStore()
	schoolID := store.AddSchool("Demo School", "")
	for _, name := range []string{"alice", "bob"} {
		if _, err := store.AddStudent(name, "password", schoolID, "6B"); err != nil {
			return nil, err
		}
	}
	if _, err := store.AddUser("teacher", "password", domain.RoleTeacher, schoolID); err != nil {
		return nil, err
	}
	if _, err := store.AddUser("admin", "password", domain.RoleAdmin, schoolID); err != nil {
		return nil, err
	}

	imported, err := store.ImportQuestionBank(ctx, domain.QuestionBank{
		Subject: "Mathematics",
		Class:   "6B",
		Topic:   "Fractions",
		Questions: []domain.QuestionRow{
			{Text: "What is 1/2 + 1/4?", OptionA: "3/4", OptionB: "2/6", OptionC: "1/8", OptionD: "1", CorrectAnswer: "A", Explanation: "1/2 is 2/4, and 2/4 + 1/4 = 3/4."},
			{Text: "Which fraction is largest?", OptionA: "1/3", OptionB: "2/5", OptionC: "1/2", OptionD: "3/8", CorrectAnswer: "C"},
		},
	})
	if err != nil {
		return nil, err
	}
	store.AddCurriculum(schoolID, "6B", imported.SubjectID)
	return store, nil
}
