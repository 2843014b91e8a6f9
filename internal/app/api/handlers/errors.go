package handlers

import (
	"errors"
	"net/http"

	"github.com/fatflowers/settle/internal/app/service/apperr"
	"github.com/fatflowers/settle/internal/app/service/gateway"
	"github.com/fatflowers/settle/pkg/logctx"
	"github.com/fatflowers/settle/pkg/response"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// classify maps a service error onto the HTTP status and client error type.
func classify(err error) (int, types.ErrorType, string, any) {
	var (
		verr *apperr.ValidationError
		gerr *gateway.Error
		serr *apperr.SignatureError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, types.ErrorTypeDeveloper, "invalid request", verr.Fields
	case errors.As(err, &gerr):
		code := http.StatusBadGateway
		if gerr.Retryable {
			code = http.StatusServiceUnavailable
		}
		return code, types.ErrorTypeGateway, gerr.Error(), gin.H{"retryable": gerr.Retryable, "rail": gerr.Rail}
	case errors.As(err, &serr):
		return http.StatusUnauthorized, types.ErrorTypeDeveloper, serr.Error(), nil
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, types.ErrorTypeDeveloper, err.Error(), nil
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, types.ErrorTypeDeveloper, err.Error(), nil
	}
	return http.StatusInternalServerError, types.ErrorTypeDeveloper, "internal error", nil
}

func writeError(c *gin.Context, log *zap.SugaredLogger, err error) {
	code, typ, msg, details := classify(err)
	l := logctx.FromGin(c, log)
	if code >= http.StatusInternalServerError {
		l.Errorw("request_failed", "status", code, "error", err)
	} else {
		l.Infow("request_rejected", "status", code, "type", typ, "error", err)
	}
	c.JSON(code, response.ErrorT[any](typ, msg, details))
}
