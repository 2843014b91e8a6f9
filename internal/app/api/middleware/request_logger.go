package middleware

import (
	"github.com/fatflowers/settle/pkg/logctx"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLoggerMiddleware attaches a request-scoped logger to gin.Context and
// the request context. Lines carry trace_id, plus intent_reference when the
// route or query names one.
func RequestLoggerMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetString(logctx.GinTraceIDKey)
		reqLogger := base.With("trace_id", traceID)
		ctx := logctx.WithLogger(c.Request.Context(), reqLogger)

		ref := c.Param("intent_reference")
		if ref == "" {
			ref = c.Query("intent_reference")
		}
		if ref != "" {
			ctx = logctx.WithIntentRef(ctx, ref)
			c.Set(logctx.GinLoggerKey, reqLogger.With("intent_reference", ref))
		} else {
			c.Set(logctx.GinLoggerKey, reqLogger)
		}
		c.Request = c.Request.WithContext(ctx)

		if traceID != "" {
			c.Writer.Header().Set(HeaderRequestID, traceID)
		}

		c.Next()
	}
}
