package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports that the process is up. It does not look at the session.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
