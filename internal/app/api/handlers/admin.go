package handlers

import (
	"context"
	"net/http"

	"github.com/fatflowers/settle/internal/app/service/journey"
	"github.com/fatflowers/settle/internal/app/service/statistics"
	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/response"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JourneyReader is the read side of the journey used by admin listings.
type JourneyReader interface {
	Scan(ctx context.Context, req *journey.ScanRequest) (*journey.ScanResponse, error)
	GetByIntentRef(ctx context.Context, intentRef string) (*journey.Record, error)
}

type Refunder interface {
	Refund(ctx context.Context, intentRef, operator, reason string) (*models.PurchaseIntent, bool, error)
}

type StatisticsReader interface {
	Get(ctx context.Context, req *statistics.Request) (*statistics.Response, error)
}

type ListIntentsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

// @Summary      List purchase intents (Admin)
// @Description  Paginated, filterable list of purchase intents.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BasicAuth
// @Param        request body ListIntentsRequest true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespListIntents
// @Failure      400  {object}  handlers.RespError
// @Router       /api/v1/admin/intents/list [post]
func ApiListIntents(j JourneyReader, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListIntentsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](types.ErrorTypeDeveloper, err.Error(), nil))
			return
		}
		res, err := j.Scan(c.Request.Context(), &journey.ScanRequest{
			Filters:   req.Filters,
			From:      req.From,
			Size:      req.Size,
			SortBy:    req.SortBy,
			SortOrder: req.SortOrder,
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Get purchase journey (Admin)
// @Description  The intent with every attempt and event in order.
// @Tags         Admin
// @Produce      json
// @Security     BasicAuth
// @Param        intent_reference  path  string  true  "Intent reference"
// @Success      200  {object}  handlers.RespJourney
// @Failure      404  {object}  handlers.RespError
// @Router       /api/v1/admin/intents/{intent_reference} [get]
func ApiGetJourney(j JourneyReader, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := j.GetByIntentRef(c.Request.Context(), c.Param("intent_reference"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(rec))
	}
}

type RefundRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type RefundResponse struct {
	Intent    *models.PurchaseIntent `json:"intent"`
	Committed bool                   `json:"committed"`
}

// @Summary      Refund purchase (Admin)
// @Description  Moves a completed intent to refunded. The refund itself is issued in the rail's dashboard.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BasicAuth
// @Param        intent_reference  path  string         true  "Intent reference"
// @Param        request           body  RefundRequest  true  "Refund reason"
// @Success      200  {object}  handlers.RespRefund
// @Failure      409  {object}  handlers.RespError
// @Router       /api/v1/admin/intents/{intent_reference}/refund [post]
func ApiRefund(r Refunder, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RefundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](types.ErrorTypeDeveloper, err.Error(), nil))
			return
		}
		operator := c.GetString(gin.AuthUserKey)
		intent, committed, err := r.Refund(c.Request.Context(), c.Param("intent_reference"), operator, req.Reason)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(&RefundResponse{Intent: intent, Committed: committed}).WithPaymentStatus(intent.Status))
	}
}

// @Summary      Purchase statistics (Admin)
// @Description  Daily intent counts, revenue per currency, status, rail and retry breakdowns. Needs a SQL database.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BasicAuth
// @Param        request body statistics.Request true "Statistics and filters"
// @Success      200  {object}  handlers.RespStatistics
// @Failure      400  {object}  handlers.RespError
// @Router       /api/v1/admin/statistics [post]
func ApiStatistics(stats StatisticsReader, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](types.ErrorTypeDeveloper, err.Error(), nil))
			return
		}
		res, err := stats.Get(c.Request.Context(), &req)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// AdminDeps groups what the admin routes read from and act on.
type AdminDeps struct {
	Journey    JourneyReader
	Refunder   Refunder
	Statistics StatisticsReader
}

// RegisterAdminRoutes mounts the admin API behind basic auth. Nothing is
// mounted without configured accounts.
func RegisterAdminRoutes(r gin.IRouter, accounts map[string]string, deps AdminDeps, log *zap.SugaredLogger) bool {
	if len(accounts) == 0 {
		return false
	}
	g := r.Group("", gin.BasicAuth(gin.Accounts(accounts)))
	g.POST("/intents/list", ApiListIntents(deps.Journey, log))
	g.GET("/intents/:intent_reference", ApiGetJourney(deps.Journey, log))
	g.POST("/intents/:intent_reference/refund", ApiRefund(deps.Refunder, log))
	g.POST("/statistics", ApiStatistics(deps.Statistics, log))
	return true
}
