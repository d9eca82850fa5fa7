package authcore

import (
	"context"
	"database/sql"

	"github.com/MrEthical07/authcore/internal/stores"
	"go.uber.org/zap"
)

// Migrate applies the embedded schema migrations to db. dialect is
// "postgres" or "sqlite". It is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB, dialect string, logger *zap.Logger) error {
	d, err := stores.ParseDialect(dialect)
	if err != nil {
		return err
	}
	return stores.Migrate(ctx, db, d, logger)
}
