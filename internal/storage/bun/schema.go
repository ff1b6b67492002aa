package bunstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/hostcloudpe/notihub/pkg/domain"
)

// Open creates a bun DB over SQLite and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("bunstore: open sqlite: %w", err)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())
	if _, err := sqldb.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("bunstore: enable foreign keys: %w", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the adapter's tables when they do not exist.
func EnsureSchema(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*domain.Notification)(nil),
		(*domain.NotificationRecipient)(nil),
		(*domain.Subject)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("bunstore: create table for %T: %w", model, err)
		}
	}
	return nil
}
