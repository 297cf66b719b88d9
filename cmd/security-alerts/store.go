package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/afikmenashe/security-alerting/internal/config"
	"github.com/afikmenashe/security-alerting/internal/pending"
	"github.com/afikmenashe/security-alerting/pkg/shared"
)

// openStore returns the configured pending store and a function releasing it.
// A nil store disables crash recovery.
func openStore(ctx context.Context, cfg config.PendingConfig, logger *slog.Logger) (pending.Store, func(), error) {
	noop := func() {}

	switch cfg.Store {
	case config.StoreNone:
		logger.Warn("Pending alert store disabled, in-flight alerts are lost on crash")
		return nil, noop, nil

	case config.StoreFile:
		store, err := pending.NewFileStore(cfg.Dir, logger.With("component", "pending_file_store"))
		if err != nil {
			return nil, noop, err
		}
		logger.Info("Using file pending store", "dir", cfg.Dir)
		return store, noop, nil

	case config.StoreRedis:
		client, err := shared.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("Using Redis pending store", "addr", cfg.RedisAddr, "key", cfg.RedisKey)
		return pending.NewRedisStore(client, cfg.RedisKey), func() { client.Close() }, nil

	case config.StorePostgres:
		logger.Info("Connecting to PostgreSQL pending store", "dsn", shared.MaskDSN(cfg.PostgresDSN))
		store, err := pending.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { store.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("unknown pending store %q", cfg.Store)
	}
}
