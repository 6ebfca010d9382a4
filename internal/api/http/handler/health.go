package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/leoncaiau912/prometheus-proxy/internal/api/http/dto"
)

type HealthHandler struct {
	registry AgentRegistry
}

func NewHealthHandler(registry AgentRegistry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

func (h *HealthHandler) Check(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, dto.HealthResponse{
		Status: "ok",
		Agents: h.registry.AgentContextManager().AgentContextSize(),
	})
}
