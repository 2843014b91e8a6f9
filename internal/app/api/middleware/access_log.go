package middleware

import (
	"time"

	"github.com/fatflowers/settle/pkg/logctx"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccessLogMiddleware logs HTTP access using the request-scoped logger
// previously attached by RequestLoggerMiddleware.
func AccessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		l, ok := c.Get(logctx.GinLoggerKey)
		if !ok {
			return
		}
		log, ok := l.(*zap.SugaredLogger)
		if !ok || log == nil {
			return
		}
		fields := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			log.Warnw("http_access", append(fields, "errors", c.Errors.String())...)
			return
		}
		log.Infow("http_access", fields...)
	}
}
