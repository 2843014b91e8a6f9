package logctx

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	traceIDKey
	intentRefKey
)

// Gin context keys shared with the middleware package.
const (
	GinLoggerKey  = "logger"
	GinTraceIDKey = "traceID"
)

func WithLogger(ctx context.Context, l *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithIntentRef tags logs emitted further down the call chain with the intent reference.
func WithIntentRef(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, intentRefKey, ref)
}

func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(traceIDKey).(string)
	return s
}

// FromGin returns a request-scoped logger from gin.Context if present,
// otherwise returns the provided base logger.
func FromGin(c *gin.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return base
	}
	if l, ok := c.Get(GinLoggerKey); ok {
		if lg, ok := l.(*zap.SugaredLogger); ok && lg != nil {
			return lg
		}
	}
	return FromCtx(c.Request.Context(), base)
}

// FromCtx returns a logger from context if set, otherwise attempts to enrich
// base with trace_id from context values. An intent reference is appended in
// both cases.
func FromCtx(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if ctx == nil {
		return base
	}
	lg := base
	if l, ok := ctx.Value(loggerKey).(*zap.SugaredLogger); ok && l != nil {
		lg = l
	} else if tid := TraceID(ctx); tid != "" {
		lg = lg.With("trace_id", tid)
	}
	if ref, ok := ctx.Value(intentRefKey).(string); ok && ref != "" {
		lg = lg.With("intent_reference", ref)
	}
	return lg
}
