package logctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromCtx_EnrichesTraceAndIntent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core).Sugar()

	ctx := WithIntentRef(WithTraceID(context.Background(), "trace-1"), "SET-20261019-ABCDEFGHJKMN")
	FromCtx(ctx, base).Infow("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "trace-1", fields["trace_id"])
	require.Equal(t, "SET-20261019-ABCDEFGHJKMN", fields["intent_reference"])
}

func TestFromCtx_PrefersAttachedLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	attached := zap.New(core).Sugar().With("source", "request")
	other, _ := observer.New(zap.InfoLevel)

	ctx := WithLogger(context.Background(), attached)
	FromCtx(ctx, zap.New(other).Sugar()).Info("x")
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "request", logs.All()[0].ContextMap()["source"])
}
