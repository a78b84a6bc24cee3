// Package storage holds the persisted key-value state of the SDK: the access
// token, the offline queue and the last processed realtime message id.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"engagement-sdk/internal/config"
)

// Well-known keys.
const (
	KeyAccessToken   = "access_token"
	KeyOfflineQueue  = "offline_queue"
	KeyLastMessageID = "last_message_id"
	KeyInstallID     = "install_id"
)

// KV is a durable string key-value store.
type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close()
}

// Open builds the backend selected by cfg.Storage.Driver and wraps it with
// at-rest encryption.
func Open(ctx context.Context, cfg config.Config) (KV, error) {
	var (
		inner KV
		err   error
	)
	switch cfg.Storage.Driver {
	case "sqlite":
		inner, err = NewSQLite(ctx, cfg.Storage.Path)
	case "postgres":
		inner, err = NewPostgres(ctx, cfg.Storage.DSN, cfg.Storage.MaxConns)
	case "memory":
		inner = NewMemory()
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, err
	}
	secret, err := secretFor(cfg)
	if err != nil {
		inner.Close()
		return nil, err
	}
	return NewEncrypted(inner, secret)
}

// secretFor returns the configured encryption key or, without one, a random
// key persisted in a key file. The memory backend gets a throwaway key.
func secretFor(cfg config.Config) (string, error) {
	if cfg.Storage.EncryptionKey != "" {
		return cfg.Storage.EncryptionKey, nil
	}
	if cfg.Storage.Driver == "memory" {
		return randomKey()
	}

	path := cfg.Storage.KeyFile
	if path == "" && cfg.Storage.Driver == "sqlite" {
		path = cfg.Storage.Path + ".key"
	}
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("locate key file: %w", err)
		}
		path = filepath.Join(dir, "engagement-sdk", "storage.key")
	}
	log.Warn().Str("key_file", path).Msg("no encryption key configured; using generated key file")
	return LoadOrCreateKey(path)
}
