package db

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fatflowers/settle/internal/models"
	cfgpkg "github.com/fatflowers/settle/pkg/config"
	gormzap "github.com/fatflowers/settle/pkg/gormlog"
)

// NewDB opens the SQL database. It returns nil when the journey lives in bolt.
func NewDB(l *zap.SugaredLogger, cfg *cfgpkg.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case cfgpkg.DBDriverPostgres:
		dialector = postgres.Open(cfg.Database.DSN)
	case cfgpkg.DBDriverMySQL:
		dialector = mysql.Open(cfg.Database.DSN)
	default:
		return nil, nil
	}
	if cfg.Database.DSN == "" {
		l.Error("database DSN is empty")
		return nil, gorm.ErrInvalidDB
	}

	logOpts := gormzap.Options{}
	if cfg.Env == cfgpkg.EnvProd {
		logOpts.LogLevel = gormlogger.Warn
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormzap.New(l, logOpts), TranslateError: true})
	if err != nil {
		l.Errorf("failed to connect database: %v", err)
		return nil, err
	}
	l.Infow("connected to database via DSN", "driver", cfg.Database.Driver)
	return db, nil
}

var Module = fx.Options(
	fx.Provide(NewDB),
	fx.Invoke(AutoMigrate),
	fx.Invoke(registerDBClose),
)

// AutoMigrate runs GORM migrations on startup
func AutoMigrate(l *zap.SugaredLogger, db *gorm.DB) error {
	if db == nil {
		return nil
	}
	if err := db.AutoMigrate(
		&models.PurchaseIntent{},
		&models.Attempt{},
		&models.AttemptEvent{},
		&models.WebhookDelivery{},
		&models.DownloadGrant{},
	); err != nil {
		l.Errorf("automigrate failed: %v", err)
		return err
	}
	l.Infow("automigrate completed")
	return nil
}

// registerDBClose ensures the underlying *sql.DB is closed on shutdown
func registerDBClose(lc fx.Lifecycle, l *zap.SugaredLogger, gdb *gorm.DB) {
	if gdb == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				l.Warnw("gorm: get sql.DB failed", "err", err)
				return nil
			}
			l.Infow("closing database connection pool")
			return sqlDB.Close()
		},
	})
}
