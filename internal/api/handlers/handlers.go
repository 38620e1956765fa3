package handlers

import (
	"context"

	"github.com/frostdev-ops/hmip-go/internal/adapters/hmip"
	"github.com/frostdev-ops/hmip-go/internal/service"
	"github.com/sirupsen/logrus"
)

// HmIPService is the part of the service the API drives
type HmIPService interface {
	Status() service.Status
	PairingStatus() service.PairingStatus
	StartPairing(deviceName string) error
	Resync(ctx context.Context) error
	Controller() *hmip.Controller
}

// Handlers holds all HTTP handlers and their dependencies
type Handlers struct {
	svc HmIPService
	log *logrus.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc HmIPService, logger *logrus.Logger) *Handlers {
	return &Handlers{
		svc: svc,
		log: logger,
	}
}
