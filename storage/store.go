// Package storage provides the string keyed byte store account metadata is
// persisted in.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

var logger = logrus.StandardLogger().WithField("module", "storage")

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Store is a key-value store with get/set/remove by string key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Engine names a storage backend.
type Engine string

const (
	EngineMemory Engine = "memory"
	EnginePebble Engine = "pebble"
	EngineRedis  Engine = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Engine      Engine
	Path        string
	CacheSizeMB int
	RedisAddr   string
	Prefix      string
}

// Open returns the backend named by cfg.Engine.
func Open(ctx context.Context, cfg Config) (Store, error) {
	log := logger.WithField("engine", cfg.Engine)

	switch cfg.Engine {
	case EngineMemory, "":
		log.Debug("using in-memory store")
		return NewMemoryStore(), nil
	case EnginePebble:
		log.WithField("path", cfg.Path).Info("opening pebble store")
		return NewPebbleStore(cfg.Path, cfg.CacheSizeMB)
	case EngineRedis:
		log.WithField("addr", cfg.RedisAddr).Info("connecting redis store")
		return NewRedisStore(ctx, cfg.RedisAddr, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Engine)
	}
}
