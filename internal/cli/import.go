package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"school-quiz-service/internal/app"
	"school-quiz-service/internal/config"
	"school-quiz-service/internal/domain"
	"school-quiz-service/internal/infra/postgres"
	"school-quiz-service/internal/logger"
)

// NewImportCmd loads a YAML question bank into Postgres.
func NewImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <bank.yaml>",
		Short: "Import a question bank for one subject, class and topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), *configPath, args[0])
		},
	}
}

// NewHashPasswordCmd prints a bcrypt hash for provisioning users by hand.
func NewHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash suitable for users.password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
}

func readQuestionBank(path string) (domain.QuestionBank, error) {
	var bank domain.QuestionBank
	data, err := os.ReadFile(path)
	if err != nil {
		return bank, err
	}
	if err := yaml.Unmarshal(data, &bank); err != nil {
		return bank, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := validator.New().Struct(bank); err != nil {
		return bank, fmt.Errorf("%w: %s: %v", domain.ErrValidation, path, err)
	}
	return bank, nil
}

func runImport(ctx context.Context, configPath, bankPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()

	bank, err := readQuestionBank(bankPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	pool, db, err := postgres.Open(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	defer db.Close()

	service := app.NewQuizService(postgres.NewStore(pool, db, cfg.MaxRetries()), nil, app.WithLogger(log))
	result, err := service.ImportQuestionBank(ctx, bank)
	if err != nil {
		return err
	}
	log.Info("import finished", "file", bankPath, "subject_id", result.SubjectID, "topic_id", result.TopicID, "imported", result.Imported)
	return nil
}
