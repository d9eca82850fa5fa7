// Command authcore-demo serves the authcore engine as a small JSON API.
//
// It reads a TOML file (see -config), migrates the database, and serves
// registration, login with MFA, password and account management, a guarded
// admin report, health and Prometheus metrics. Mails are written to the log.
//
//	authcore-demo -config authcore-demo.toml
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUTHCORE_DEMO_CONFIG"), "path to the TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	fc, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(fc.LogLevel, fc.LogJSON)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := fc.engineConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, fc.Database.Dialect, fc.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := authcore.Migrate(ctx, db, fc.Database.Dialect, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	redisOpts, err := redis.ParseURL(fc.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	engine, err := authcore.New().
		WithConfig(cfg).
		WithDB(db).
		WithRedis(rdb).
		WithLogger(logger).
		WithAuditSink(authcore.NewZapAuditSink(logger)).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	go runCleanup(ctx, engine, logger, fc.CleanupInterval.Duration)

	srv := &http.Server{
		Addr:              fc.Listen,
		Handler:           (&server{engine: engine, logger: logger}).routes(fc.AdminRole),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", fc.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func openDB(ctx context.Context, dialect, dsn string) (*sql.DB, error) {
	driver := "pgx"
	if dialect == "sqlite" {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return db, nil
}

// runCleanup purges expired and long-revoked tokens every interval until
// ctx is done.
func runCleanup(ctx context.Context, engine *authcore.Engine, logger *zap.Logger, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := engine.CleanupExpiredTokens(ctx)
			if err != nil {
				logger.Warn("token cleanup failed", zap.Error(err))
				continue
			}
			logger.Info("token cleanup", zap.Int64("removed", report.Total()))
		}
	}
}
