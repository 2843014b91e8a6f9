package logger

import (
	"testing"

	"github.com/fatflowers/settle/pkg/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_LevelFollowsEnv(t *testing.T) {
	dev, err := New(&config.Config{Env: config.EnvDev})
	require.NoError(t, err)
	require.True(t, dev.Desugar().Core().Enabled(zapcore.DebugLevel))

	prod, err := New(&config.Config{Env: config.EnvProd})
	require.NoError(t, err)
	require.False(t, prod.Desugar().Core().Enabled(zapcore.DebugLevel))
	require.True(t, prod.Desugar().Core().Enabled(zapcore.InfoLevel))
}
