package logger

import (
	"context"

	"github.com/fatflowers/settle/pkg/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Dev runs log at debug level with caller and
// stack traces on warnings; prod keeps the JSON production defaults.
func New(c *config.Config) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	if c.Env != config.EnvProd {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.Development = true
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.TimeKey = "time"
	l, err := cfg.Build(zap.Fields(zap.String("service", "settle"), zap.String("env", string(c.Env))))
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Flush syncs buffered entries on shutdown.
func Flush(lc fx.Lifecycle, l *zap.SugaredLogger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = l.Sync()
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(Flush),
)
