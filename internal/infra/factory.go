package infra

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/ai_mon/internal/config"
	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

// OpenStateStore opens the backend selected by cfg.Store.Backend.
func OpenStateStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (domain.StateStore, error) {
	switch cfg.Store.Backend {
	case config.BackendEncrypted:
		provider := ResolveKeyProvider(cfg.DataDir())
		key, err := EnsureKey(provider)
		if err != nil {
			return nil, fmt.Errorf("failed to get store key: %w", err)
		}
		store, err := NewEncryptedStore(ctx, cfg.StorePath(), key)
		if err != nil {
			return nil, err
		}
		logger.Debug("opened encrypted store", zap.String("path", store.Path()))
		return store, nil

	case config.BackendSQLite:
		store, err := NewSQLiteStore(ctx, cfg.StorePath())
		if err != nil {
			return nil, err
		}
		logger.Debug("opened sqlite store", zap.String("path", store.Path()))
		return store, nil

	case config.BackendFile:
		store, err := NewFileStore(cfg.StorePath())
		if err != nil {
			return nil, err
		}
		logger.Debug("opened file store", zap.String("path", store.Path()))
		return store, nil

	case config.BackendRedis:
		store, err := NewRedisStore(ctx, RedisOptions{
			Address:  cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			Prefix:   cfg.Store.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		logger.Debug("opened redis store",
			zap.String("addr", cfg.Store.RedisAddr),
			zap.Int("db", cfg.Store.RedisDB))
		return store, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}
