package store

import (
	"context"
	"fmt"
	"log/slog"

	"presence/internal/account"
	"presence/internal/biometric"
	"presence/internal/config"
	"presence/internal/presence"
)

// Backend is everything a process reads and writes, on one backing store.
type Backend interface {
	presence.Store
	biometric.TemplateStore
	account.Store
	Healthy(ctx context.Context) bool
	Close() error
}

var (
	_ Backend = (*Memory)(nil)
	_ Backend = (*SQL)(nil)
)

// Open returns the backend named by cfg.StoreBackend with its schema in
// place.
func Open(ctx context.Context, cfg config.App, logger *slog.Logger) (Backend, error) {
	var (
		db  *SQL
		err error
	)
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory store; state is lost on restart")
		return NewMemory(), nil
	case "postgres":
		db, err = OpenPostgres(ctx, cfg.DatabaseURL)
	case "sqlite":
		db, err = OpenSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	logger.Info("store ready", "backend", cfg.StoreBackend)
	return db, nil
}
