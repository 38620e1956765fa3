package handlers

import (
	"net/http"
	"time"

	"github.com/frostdev-ops/hmip-go/pkg/utils"
	"github.com/frostdev-ops/hmip-go/pkg/version"
	"github.com/gin-gonic/gin"
)

// Health reports the service state. It answers 503 while paired but not connected.
func (h *Handlers) Health(c *gin.Context) {
	status := h.svc.Status()

	state := "healthy"
	switch {
	case !status.Paired:
		state = "unpaired"
	case !status.Connected:
		state = "degraded"
	}

	health := gin.H{
		"status":    state,
		"timestamp": time.Now().Format(time.RFC3339),
		"service":   "hmipd",
		"version":   version.GetVersion(),
		"hmip":      status,
	}

	if state == "degraded" {
		c.JSON(http.StatusServiceUnavailable, utils.Response{
			Success:   false,
			Data:      health,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	utils.SendSuccess(c, health)
}
