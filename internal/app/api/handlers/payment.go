package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fatflowers/settle/internal/app/api/middleware"
	"github.com/fatflowers/settle/internal/app/service/checkout"
	"github.com/fatflowers/settle/internal/app/service/fulfillment"
	"github.com/fatflowers/settle/internal/app/service/gateway"
	"github.com/fatflowers/settle/pkg/response"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentService is the checkout and verification surface used by the payment routes.
type PaymentService interface {
	Checkout(ctx context.Context, req *checkout.Request) (*checkout.Result, error)
	Verify(ctx context.Context, intentRef, attemptRef string) (*checkout.Status, error)
}

// GrantAuthorizer validates download tokens for the file collaborator.
type GrantAuthorizer interface {
	Authorize(ctx context.Context, token string) (*fulfillment.Claims, error)
}

type CheckoutRequest struct {
	Email           string          `json:"email"`
	Amount          decimal.Decimal `json:"amount" swaggertype:"string" example:"1000"`
	Currency        string          `json:"currency" example:"NGN"`
	IntentReference string          `json:"intent_reference"`
	FileID          string          `json:"file_id"`
	CustomerName    string          `json:"customer_name"`
	CustomerPhone   string          `json:"customer_phone"`
	Rail            types.Rail      `json:"rail" example:"paystack"`
}

// @Summary      Checkout
// @Description  Records a purchase attempt and initiates it with the chosen rail. Reuse intent_reference when retrying.
// @Tags         Payment
// @Accept       json
// @Produce      json
// @Param        request body CheckoutRequest true "Checkout request"
// @Success      200  {object}  handlers.RespCheckout
// @Failure      400  {object}  handlers.RespError
// @Failure      409  {object}  handlers.RespError
// @Failure      503  {object}  handlers.RespError
// @Router       /api/v1/payment/checkout [post]
func ApiCheckout(svc PaymentService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](types.ErrorTypeDeveloper, err.Error(), nil))
			return
		}
		res, err := svc.Checkout(c.Request.Context(), &checkout.Request{
			IntentReference: req.IntentReference,
			Email:           req.Email,
			CustomerName:    req.CustomerName,
			CustomerPhone:   req.CustomerPhone,
			FileID:          req.FileID,
			Amount:          req.Amount,
			Currency:        req.Currency,
			Rail:            req.Rail,
			Client:          middleware.ClientSnapshot(c),
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res).WithPaymentStatus(res.PaymentStatus))
	}
}

// @Summary      Verify
// @Description  Asks the rail for the attempt's status and returns the canonical payment status. Safe to poll.
// @Tags         Payment
// @Produce      json
// @Param        intent_reference   query  string  true   "Intent reference"
// @Param        attempt_reference  query  string  false  "Attempt reference, defaults to the latest attempt"
// @Success      200  {object}  handlers.RespVerify
// @Failure      400  {object}  handlers.RespError
// @Failure      404  {object}  handlers.RespError
// @Router       /api/v1/payment/verify [get]
func ApiVerify(svc PaymentService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := svc.Verify(c.Request.Context(), c.Query("intent_reference"), c.Query("attempt_reference"))
		var gerr *gateway.Error
		switch {
		case err != nil && st != nil && errors.As(err, &gerr):
			// the rail is unreachable; the client keeps polling
			resp := response.PendingT(st)
			resp.Type = types.ErrorTypeGateway
			resp.Message = gerr.Error()
			resp.Details = gin.H{"retryable": gerr.Retryable}
			c.JSON(http.StatusOK, resp)
			return
		case err != nil:
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, verifyResponse(st))
	}
}

func verifyResponse(st *checkout.Status) *response.APIResponse[*checkout.Status] {
	switch st.PaymentStatus {
	case types.PaymentStatusCompleted:
		return response.OKT(st).WithPaymentStatus(st.PaymentStatus)
	case types.PaymentStatusPending:
		return response.PendingT(st)
	}
	resp := response.ErrorT[*checkout.Status](types.ErrorTypeUser, "payment "+string(st.PaymentStatus), nil)
	resp.Data = st
	return resp.WithPaymentStatus(st.PaymentStatus)
}

type GrantResponse struct {
	IntentReference string    `json:"intent_reference"`
	FileID          string    `json:"file_id"`
	CustomerEmail   string    `json:"customer_email"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// @Summary      Validate download token
// @Description  Used by the file service to check a download token before serving the file.
// @Tags         Fulfillment
// @Produce      json
// @Param        token  query  string  true  "Download token"
// @Success      200  {object}  handlers.RespGrant
// @Failure      401  {object}  handlers.RespError
// @Failure      403  {object}  handlers.RespError
// @Router       /api/v1/payment/grant [get]
func ApiGrant(grants GrantAuthorizer, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := grants.Authorize(c.Request.Context(), c.Query("token"))
		switch {
		case errors.Is(err, fulfillment.ErrInvalidToken):
			c.JSON(http.StatusUnauthorized, response.ErrorT[any](types.ErrorTypeUser, "download link is invalid or expired", nil))
			return
		case errors.Is(err, fulfillment.ErrRevoked):
			c.JSON(http.StatusForbidden, response.ErrorT[any](types.ErrorTypeUser, "this purchase was refunded", nil))
			return
		case err != nil:
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(&GrantResponse{
			IntentReference: claims.IntentReference,
			FileID:          claims.FileID,
			CustomerEmail:   claims.Subject,
			ExpiresAt:       time.Unix(claims.ExpiresAt, 0).UTC(),
		}))
	}
}

func RegisterPaymentRoutes(r gin.IRouter, svc PaymentService, ingestor WebhookIngestor, grants GrantAuthorizer, log *zap.SugaredLogger) {
	r.POST("/checkout", middleware.ClientMetaMiddleware(), ApiCheckout(svc, log))
	r.GET("/verify", ApiVerify(svc, log))
	r.GET("/grant", ApiGrant(grants, log))
	r.POST("/webhook/:rail", ApiWebhook(ingestor, log))
}
