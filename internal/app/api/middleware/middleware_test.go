package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fatflowers/settle/pkg/logctx"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTraceAndLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(TraceMiddleware(), RequestLoggerMiddleware(zap.New(core).Sugar()), AccessLogMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		require.Equal(t, "req-42", logctx.TraceID(c.Request.Context()))
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "req-42", w.Header().Get(HeaderRequestID))
	access := logs.FilterMessage("http_access").All()
	require.Len(t, access, 1)
	require.Equal(t, "req-42", access[0].ContextMap()["trace_id"])
}

func TestTraceMiddleware_GeneratesID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceMiddleware(), RequestLoggerMiddleware(zap.NewNop().Sugar()))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestClientMetaMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ClientMetaMiddleware())
	var got string
	r.GET("/ping", func(c *gin.Context) {
		s := ClientSnapshot(c)
		got = s.Device + "|" + s.Location + "|" + s.UserAgent
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderDevice, "android")
	req.Header.Set(HeaderLocation, "Lagos, NG")
	req.Header.Set("User-Agent", strings.Repeat("x", 300))
	r.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "android|Lagos, NG|"+strings.Repeat("x", 256), got)
}

func TestRequestLogger_TagsIntentReference(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(TraceMiddleware(), RequestLoggerMiddleware(zap.New(core).Sugar()), AccessLogMiddleware())
	r.GET("/intents/:intent_reference", func(c *gin.Context) {
		logctx.FromCtx(c.Request.Context(), zap.NewNop().Sugar()).Infow("inside")
		c.Status(http.StatusOK)
	})
	r.GET("/verify", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/intents/SET-20260101-ABCDEFGHJKMN", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/verify?intent_reference=SET-20260101-000000000000", nil))

	inside := logs.FilterMessage("inside").All()
	require.Len(t, inside, 1)
	require.Equal(t, "SET-20260101-ABCDEFGHJKMN", inside[0].ContextMap()["intent_reference"])

	access := logs.FilterMessage("http_access").All()
	require.Len(t, access, 2)
	require.Equal(t, "SET-20260101-ABCDEFGHJKMN", access[0].ContextMap()["intent_reference"])
	require.Equal(t, "SET-20260101-000000000000", access[1].ContextMap()["intent_reference"])
}
