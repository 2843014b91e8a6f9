package journey

import (
	"fmt"

	bolt "github.com/boltdb/bolt"
	"github.com/fatflowers/settle/pkg/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewBackend selects the journey backend for the configured database driver.
// The unused connection is nil.
func NewBackend(cfg *config.Config, gdb *gorm.DB, bdb *bolt.DB, log *zap.SugaredLogger) (Backend, error) {
	switch cfg.Database.Driver {
	case config.DBDriverBolt:
		if bdb == nil {
			return nil, fmt.Errorf("bolt database is not open")
		}
		log.Infow("journey backend selected", "driver", cfg.Database.Driver, "path", cfg.Database.BoltPath)
		return NewBoltBackend(bdb)
	case config.DBDriverPostgres, config.DBDriverMySQL:
		if gdb == nil {
			return nil, fmt.Errorf("sql database is not open")
		}
		log.Infow("journey backend selected", "driver", cfg.Database.Driver)
		return NewGormBackend(gdb), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
}

// Module exposes the journey store via Fx.
var Module = fx.Options(
	fx.Provide(NewBackend),
	fx.Provide(New),
)
