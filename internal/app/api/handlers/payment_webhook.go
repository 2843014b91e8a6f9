package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/fatflowers/settle/internal/app/service/apperr"
	"github.com/fatflowers/settle/internal/app/service/webhook"
	"github.com/fatflowers/settle/pkg/logctx"
	"github.com/fatflowers/settle/pkg/response"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWebhookBody bounds what a rail may post to us.
const maxWebhookBody = 1 << 20

type WebhookIngestor interface {
	Handle(ctx context.Context, rail types.Rail, body []byte, header http.Header) (*webhook.Outcome, error)
}

// @Summary      Rail webhook
// @Description  Receives a payment notification from a rail. Answers 200 for every authenticated delivery, 401 when the signature does not verify.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        rail     path  string  true  "Rail name" Enums(paystack, flutterwave, nowpayments)
// @Param        payload  body  object  true  "Provider payload, passed through unparsed"
// @Success      200  {object}  handlers.RespWebhook
// @Failure      401  {object}  handlers.RespError
// @Failure      404  {object}  handlers.RespError
// @Router       /api/v1/payment/webhook/{rail} [post]
func ApiWebhook(ingestor WebhookIngestor, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rail := types.Rail(c.Param("rail"))
		l := logctx.FromGin(c, log)

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
		if err != nil || len(body) > maxWebhookBody {
			l.Warnw("webhook_body_rejected", "rail", rail, "bytes", len(body), "error", err)
			c.JSON(http.StatusBadRequest, response.ErrorT[any](types.ErrorTypeDeveloper, "unreadable body", nil))
			return
		}

		out, err := ingestor.Handle(c.Request.Context(), rail, body, c.Request.Header)
		if err != nil {
			if errors.Is(err, apperr.ErrSignature) || errors.Is(err, apperr.ErrNotFound) {
				writeError(c, log, err)
				return
			}
			// anything else was already journaled; a redelivery would not help
			l.Errorw("webhook_unexpected_error", "rail", rail, "error", err)
			out = &webhook.Outcome{Result: webhook.ResultFailed}
		}
		c.JSON(http.StatusOK, response.OKT(out))
	}
}
