package handlers

import (
	"errors"
	"net/http"

	"github.com/frostdev-ops/hmip-go/internal/adapters/hmip"
	"github.com/frostdev-ops/hmip-go/internal/service"
	"github.com/frostdev-ops/hmip-go/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// statusForError maps core and service errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, hmip.ErrNotPaired),
		errors.Is(err, service.ErrAlreadyPaired),
		errors.Is(err, service.ErrPairingInProgress):
		return http.StatusConflict
	case errors.Is(err, hmip.ErrHostResolution),
		errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, hmip.ErrRestCall),
		errors.Is(err, hmip.ErrSnapshotLoad),
		errors.Is(err, hmip.ErrConnectionRequest),
		errors.Is(err, hmip.ErrTokenConfirmation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	status := statusForError(err)

	var details interface{}
	var hErr *hmip.HmIPError
	if errors.As(err, &hErr) {
		d := gin.H{"kind": hErr.Kind}
		if code := hmip.StatusCode(err); code != 0 {
			d["upstream_status"] = code
		}
		if hErr.Path != "" {
			d["path"] = hErr.Path
		}
		details = d
	}

	if status >= http.StatusInternalServerError {
		h.log.WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"status": status,
			"error":  err.Error(),
		}).Warn("HmIP request failed")
	}

	utils.SendErrorWithDetails(c, status, err.Error(), details)
}
