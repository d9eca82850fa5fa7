package stores

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/MrEthical07/authcore/internal/stores/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// goose keeps its base FS, dialect and logger in package globals.
var gooseMu sync.Mutex

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

func (d Dialect) gooseDialect() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite3"
}

// Migrate applies every embedded migration that has not run yet.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{l: logger.Sugar()})
	if err := goose.SetDialect(dialect.gooseDialect()); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

type gooseLogger struct {
	l *zap.SugaredLogger
}

func (g gooseLogger) Printf(format string, v ...any) { g.l.Infof(format, v...) }

// Fatalf must not exit the host process.
func (g gooseLogger) Fatalf(format string, v ...any) { g.l.Errorf(format, v...) }
