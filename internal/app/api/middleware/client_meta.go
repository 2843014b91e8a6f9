package middleware

import (
	"github.com/fatflowers/settle/internal/models"
	"github.com/gin-gonic/gin"
)

const (
	HeaderDevice   = "X-Client-Device"
	HeaderLocation = "X-Client-Location"

	clientSnapshotKey = "clientSnapshot"
)

// ClientMetaMiddleware captures the caller's device, IP and location for the
// attempt snapshot. Values are truncated; nothing here is trusted.
func ClientMetaMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(clientSnapshotKey, models.ClientSnapshot{
			IP:        c.ClientIP(),
			UserAgent: truncate(c.Request.UserAgent(), 256),
			Device:    truncate(c.GetHeader(HeaderDevice), 128),
			Location:  truncate(c.GetHeader(HeaderLocation), 128),
		})
		c.Next()
	}
}

// ClientSnapshot returns what ClientMetaMiddleware captured, or the bare
// client IP when the middleware did not run.
func ClientSnapshot(c *gin.Context) models.ClientSnapshot {
	if v, ok := c.Get(clientSnapshotKey); ok {
		if s, ok := v.(models.ClientSnapshot); ok {
			return s
		}
	}
	return models.ClientSnapshot{IP: c.ClientIP()}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
