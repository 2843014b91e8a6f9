// Package boltdb opens the embedded single-file store used when no SQL
// database is configured.
package boltdb

import (
	"context"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/settle/pkg/config"
)

// Open opens (or creates) the bolt file at path. The file lock is waited on
// for at most one second.
func Open(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	return db, nil
}

// New returns nil unless the configured driver is bolt.
func New(lc fx.Lifecycle, l *zap.SugaredLogger, cfg *cfgpkg.Config) (*bolt.DB, error) {
	if cfg.Database.Driver != cfgpkg.DBDriverBolt {
		return nil, nil
	}
	db, err := Open(cfg.Database.BoltPath)
	if err != nil {
		return nil, err
	}
	l.Infow("opened bolt store", "path", cfg.Database.BoltPath)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			l.Infow("closing bolt store")
			return db.Close()
		},
	})
	return db, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
