package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GetStatus returns cycle counters, the last cycle report and the browser
// session state.
func (h *Handler) GetStatus(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "status-handler")
	defer span.End()

	status := h.status.Snapshot()
	span.SetAttributes(
		attribute.Int("status.cycles", status.Cycles),
		attribute.String("status.session", status.Session),
	)
	c.JSON(http.StatusOK, status)
}
