package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"school-quiz-service/internal/infra/postgres/migrations"
)

// OpenBun opens a bun handle over the pgdriver connector.
func OpenBun(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// Open connects both handles the Store needs. Callers own closing them.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, *bun.DB, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	db := OpenBun(dsn)
	if err := db.PingContext(ctx); err != nil {
		pool.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, db, nil
}

// Migrate applies pending schema migrations and returns the names applied.
func Migrate(ctx context.Context, db *bun.DB) ([]string, error) {
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	names := make([]string, 0, len(group.Migrations))
	for _, m := range group.Migrations {
		names = append(names, m.Name)
	}
	return names, nil
}
