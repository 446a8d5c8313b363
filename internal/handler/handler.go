package handler

import (
	"market-pulse/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// StatusReader exposes the bot's current status.
type StatusReader interface {
	Snapshot() service.Status
}

type Handler struct {
	tracer trace.Tracer
	status StatusReader
}

func New(tracer trace.Tracer, status StatusReader) *Handler {
	return &Handler{
		tracer: tracer,
		status: status,
	}
}

// RegisterRoutes mounts the read-only endpoints. apiKey guards /api; an
// empty key leaves it open.
func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)
	api := r.Group("/api", APIKeyAuth(apiKey))
	api.GET("/status", h.GetStatus)
}
