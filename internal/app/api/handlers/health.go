package handlers

import (
	"net/http"

	"github.com/fatflowers/settle/pkg/response"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Status string       `json:"status" example:"ok"`
	Rails  []types.Rail `json:"rails"`
}

// @Summary      Health check
// @Description  Returns service status and the rails this instance accepts payments on
// @Tags         System
// @Produce      json
// @Success      200  {object}  handlers.HealthResponse
// @Router       /healthz [get]
func Healthz(rails func() []types.Rail) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, response.OKT(&HealthResponse{Status: "ok", Rails: rails()}))
	}
}

func RegisterHealthRoutes(r gin.IRouter, rails func() []types.Rail) {
	r.GET("/healthz", Healthz(rails))
}
