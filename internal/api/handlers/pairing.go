package handlers

import (
	"net/http"

	"github.com/frostdev-ops/hmip-go/pkg/utils"
	"github.com/gin-gonic/gin"
)

// StartPairingRequest optionally names the client shown in the vendor app
type StartPairingRequest struct {
	DeviceName string `json:"device_name" binding:"omitempty,max=64"`
}

// GetPairing returns the pairing progress
func (h *Handlers) GetPairing(c *gin.Context) {
	utils.SendSuccess(c, h.svc.PairingStatus())
}

// StartPairing starts pairing in the background. The blue button on the access point
// must be pressed while the status reports waitForBlueButton.
func (h *Handlers) StartPairing(c *gin.Context) {
	var req StartPairingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.SendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	if err := h.svc.StartPairing(req.DeviceName); err != nil {
		h.respondError(c, err)
		return
	}

	h.log.WithField("device_name", req.DeviceName).Info("Pairing started via API")
	utils.SendAccepted(c, h.svc.PairingStatus())
}
