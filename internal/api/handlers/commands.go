package handlers

import (
	"net/http"
	"time"

	"github.com/frostdev-ops/hmip-go/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// defaultChannelIndex is the first functional channel of most actuators
const defaultChannelIndex = 1

type SwitchRequest struct {
	ChannelIndex *int  `json:"channel_index" binding:"omitempty,min=0"`
	On           *bool `json:"on" binding:"required"`
}

type DimRequest struct {
	ChannelIndex *int     `json:"channel_index" binding:"omitempty,min=0"`
	DimLevel     *float64 `json:"dim_level" binding:"required,min=0,max=1"`
}

type ShutterRequest struct {
	ChannelIndex *int     `json:"channel_index" binding:"omitempty,min=0"`
	ShutterLevel *float64 `json:"shutter_level" binding:"required,min=0,max=1"`
	SlatsLevel   *float64 `json:"slats_level" binding:"omitempty,min=0,max=1"`
}

type SetPointRequest struct {
	Temperature *float64 `json:"temperature" binding:"required,min=5,max=30"`
}

// AbsenceRequest activates eco mode until EndTime, for Duration, or permanently.
// Exactly one must be given.
type AbsenceRequest struct {
	EndTime   *time.Time `json:"end_time"`
	Duration  string     `json:"duration"`
	Permanent bool       `json:"permanent"`
}

func channelOrDefault(index *int) int {
	if index == nil {
		return defaultChannelIndex
	}
	return *index
}

func (h *Handlers) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handlers) commandDone(c *gin.Context, err error, command string, fields logrus.Fields) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.log.WithFields(fields).WithField("command", command).Info("HmIP command sent")
	utils.SendSuccess(c, gin.H{"command": command, "accepted": true})
}

func (h *Handlers) SetSwitchState(c *gin.Context) {
	var req SwitchRequest
	if !h.bind(c, &req) {
		return
	}

	id, ch := c.Param("id"), channelOrDefault(req.ChannelIndex)
	err := h.svc.Controller().Commands().SetSwitchState(c.Request.Context(), id, ch, *req.On)
	h.commandDone(c, err, "switch", logrus.Fields{"device_id": id, "channel": ch, "on": *req.On})
}

func (h *Handlers) SetDimLevel(c *gin.Context) {
	var req DimRequest
	if !h.bind(c, &req) {
		return
	}

	id, ch := c.Param("id"), channelOrDefault(req.ChannelIndex)
	err := h.svc.Controller().Commands().SetDimLevel(c.Request.Context(), id, ch, *req.DimLevel)
	h.commandDone(c, err, "dim", logrus.Fields{"device_id": id, "channel": ch, "dim_level": *req.DimLevel})
}

// SetShutterLevel moves a shutter. With slats_level set, the blind variant is used.
func (h *Handlers) SetShutterLevel(c *gin.Context) {
	var req ShutterRequest
	if !h.bind(c, &req) {
		return
	}

	id, ch := c.Param("id"), channelOrDefault(req.ChannelIndex)
	commands := h.svc.Controller().Commands()
	fields := logrus.Fields{"device_id": id, "channel": ch, "shutter_level": *req.ShutterLevel}

	if req.SlatsLevel != nil {
		fields["slats_level"] = *req.SlatsLevel
		err := commands.SetSlatsLevel(c.Request.Context(), id, ch, *req.SlatsLevel, *req.ShutterLevel)
		h.commandDone(c, err, "slats", fields)
		return
	}

	err := commands.SetShutterLevel(c.Request.Context(), id, ch, *req.ShutterLevel)
	h.commandDone(c, err, "shutter", fields)
}

func (h *Handlers) SetSetPointTemperature(c *gin.Context) {
	var req SetPointRequest
	if !h.bind(c, &req) {
		return
	}

	id := c.Param("id")
	err := h.svc.Controller().Commands().SetSetPointTemperature(c.Request.Context(), id, *req.Temperature)
	h.commandDone(c, err, "setpoint", logrus.Fields{"group_id": id, "temperature": *req.Temperature})
}

func (h *Handlers) ActivateAbsence(c *gin.Context) {
	var req AbsenceRequest
	if !h.bind(c, &req) {
		return
	}

	given := 0
	if req.EndTime != nil {
		given++
	}
	if req.Duration != "" {
		given++
	}
	if req.Permanent {
		given++
	}
	if given != 1 {
		utils.SendError(c, http.StatusBadRequest, "Exactly one of end_time, duration or permanent is required")
		return
	}

	commands := h.svc.Controller().Commands()
	ctx := c.Request.Context()

	switch {
	case req.EndTime != nil:
		if !req.EndTime.After(time.Now()) {
			utils.SendError(c, http.StatusBadRequest, "end_time must be in the future")
			return
		}
		err := commands.ActivateAbsenceWithPeriod(ctx, *req.EndTime)
		h.commandDone(c, err, "absence_period", logrus.Fields{"end_time": req.EndTime.Format(time.RFC3339)})
	case req.Duration != "":
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d < time.Minute {
			utils.SendError(c, http.StatusBadRequest, "duration must be a Go duration of at least 1m")
			return
		}
		err = commands.ActivateAbsenceWithDuration(ctx, d)
		h.commandDone(c, err, "absence_duration", logrus.Fields{"duration": d.String()})
	default:
		err := commands.ActivateAbsencePermanent(ctx)
		h.commandDone(c, err, "absence_permanent", logrus.Fields{})
	}
}

func (h *Handlers) DeactivateAbsence(c *gin.Context) {
	err := h.svc.Controller().Commands().DeactivateAbsence(c.Request.Context())
	h.commandDone(c, err, "absence_deactivate", logrus.Fields{})
}
