package hmip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PairingState is the externally visible progress of a pairing run
type PairingState string

const (
	PairingIdle                 PairingState = "idle"
	PairingStartedTokenCreation PairingState = "startedTokenCreation"
	PairingWaitForBlueButton    PairingState = "waitForBlueButton"
	PairingConfirmToken         PairingState = "confirmToken"
	PairingTokenCreated         PairingState = "tokenCreated"
	PairingErrorOccurred        PairingState = "errorOccurred"
)

// Terminal reports whether no further step can follow without a restart
func (s PairingState) Terminal() bool {
	return s == PairingTokenCreated || s == PairingErrorOccurred
}

// DefaultPairingPollInterval is the delay between isRequestAcknowledged polls
const DefaultPairingPollInterval = 2 * time.Second

const (
	pathConnectionRequest    = "auth/connectionRequest"
	pathIsRequestAcknowledge = "auth/isRequestAcknowledged"
	pathRequestAuthToken     = "auth/requestAuthToken"
	pathConfirmAuthToken     = "auth/confirmAuthToken"
)

// PairingStateHandler is called for every state transition, in order
type PairingStateHandler func(state PairingState)

type connectionRequestBody struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	SGTIN      string `json:"sgtin"`
}

type deviceIDBody struct {
	DeviceID string `json:"deviceId"`
}

type confirmAuthTokenBody struct {
	DeviceID  string `json:"deviceId"`
	AuthToken string `json:"authToken"`
}

type authTokenResponse struct {
	AuthToken string `json:"authToken"`
}

type clientIDResponse struct {
	ClientID string `json:"clientId"`
}

// Pairer drives the token acquisition handshake. Each step is invoked by the caller;
// nothing progresses on its own.
type Pairer struct {
	rest     RESTClient
	identity *Identity
	logger   *logrus.Logger

	mu          sync.RWMutex
	state       PairingState
	credentials Credentials
	onState     PairingStateHandler
}

// NewPairer creates a pairer in the idle state
func NewPairer(rest RESTClient, identity *Identity, logger *logrus.Logger) *Pairer {
	return &Pairer{
		rest:     rest,
		identity: identity,
		logger:   logger,
		state:    PairingIdle,
	}
}

// State returns the current progress. Safe to poll from any goroutine.
func (p *Pairer) State() PairingState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Credentials returns the credentials of the last successful run
func (p *Pairer) Credentials() Credentials {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.credentials
}

// SetStateHandler replaces the transition handler; nil removes it
func (p *Pairer) SetStateHandler(handler PairingStateHandler) {
	p.mu.Lock()
	p.onState = handler
	p.mu.Unlock()
}

func (p *Pairer) setState(state PairingState) {
	p.mu.Lock()
	p.state = state
	handler := p.onState
	p.mu.Unlock()

	p.logger.WithField("pairing_state", state).Debug("Pairing state changed")

	if handler != nil {
		handler(state)
	}
}

func (p *Pairer) fail(err error) error {
	p.setState(PairingErrorOccurred)
	p.logger.WithError(err).Warn("Pairing failed")
	return err
}

// BeginConnectionRequest announces this client to the access point. On success the
// state is waitForBlueButton and the caller starts polling IsRequestAcknowledged.
func (p *Pairer) BeginConnectionRequest(ctx context.Context, deviceName string) error {
	p.mu.Lock()
	p.credentials = Credentials{}
	p.mu.Unlock()

	p.setState(PairingStartedTokenCreation)

	p.logger.WithFields(logrus.Fields{
		"access_point_id": p.identity.AccessPointID(),
		"device_name":     deviceName,
	}).Info("Sending HmIP connection request")

	body := connectionRequestBody{
		DeviceID:   p.identity.DeviceID(),
		DeviceName: deviceName,
		SGTIN:      p.identity.AccessPointID(),
	}

	resp, err := p.rest.CallPreAuth(ctx, pathConnectionRequest, body)
	if err != nil {
		return p.fail(&HmIPError{
			Kind:    KindConnectionRequest,
			Path:    pathConnectionRequest,
			Message: "Connection request failed",
			Err:     err,
		})
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return p.fail(&HmIPError{
			Kind:    KindConnectionRequest,
			Code:    resp.StatusCode,
			Path:    pathConnectionRequest,
			Message: "Connection request rejected",
			Err:     fmt.Errorf("response: %s", truncate(resp.Body, 256)),
		})
	}

	p.setState(PairingWaitForBlueButton)
	return nil
}

// IsRequestAcknowledged reports whether the blue button on the access point was pressed.
// It is true only on HTTP 200; every other outcome, including network errors, is false.
func (p *Pairer) IsRequestAcknowledged(ctx context.Context) bool {
	resp, err := p.rest.CallPreAuth(ctx, pathIsRequestAcknowledge, deviceIDBody{DeviceID: p.identity.DeviceID()})
	if err != nil {
		p.logger.WithError(err).Debug("Acknowledgement poll failed")
		return false
	}
	if resp.StatusCode != http.StatusOK {
		return false
	}

	if p.State() == PairingWaitForBlueButton {
		p.setState(PairingConfirmToken)
	}
	return true
}

// WaitForAcknowledgement polls IsRequestAcknowledged every interval until it is true or
// ctx is done. ctx is checked once per iteration; a poll already in flight completes.
func (p *Pairer) WaitForAcknowledgement(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPairingPollInterval
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.IsRequestAcknowledged(context.WithoutCancel(ctx)) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// CompleteTokenRequest requests a provisional auth token and confirms it. Both calls
// must succeed; otherwise no credentials are kept and the state is errorOccurred.
// It is only valid once the connection request was sent, i.e. in waitForBlueButton or
// confirmToken; from any other state it fails without a transition.
func (p *Pairer) CompleteTokenRequest(ctx context.Context) (Credentials, error) {
	switch state := p.State(); state {
	case PairingConfirmToken:
	case PairingWaitForBlueButton:
		p.setState(PairingConfirmToken)
	default:
		return Credentials{}, &HmIPError{
			Kind:    KindTokenConfirmation,
			Message: "Token request is not allowed in pairing state " + string(state),
		}
	}

	authToken, err := p.requestAuthToken(ctx)
	if err != nil {
		return Credentials{}, p.fail(err)
	}

	clientID, err := p.confirmAuthToken(ctx, authToken)
	if err != nil {
		return Credentials{}, p.fail(err)
	}

	creds := Credentials{AuthToken: authToken, ClientID: clientID}

	p.mu.Lock()
	p.credentials = creds
	p.mu.Unlock()

	p.setState(PairingTokenCreated)

	p.logger.WithField("client_id", clientID).Info("HmIP auth token created")
	return creds, nil
}

func (p *Pairer) requestAuthToken(ctx context.Context) (string, error) {
	resp, err := p.rest.CallPreAuth(ctx, pathRequestAuthToken, deviceIDBody{DeviceID: p.identity.DeviceID()})
	if err != nil {
		return "", tokenError(pathRequestAuthToken, 0, "Auth token request failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", tokenError(pathRequestAuthToken, resp.StatusCode, "Auth token request rejected", nil)
	}

	var out authTokenResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", tokenError(pathRequestAuthToken, resp.StatusCode, "Failed to parse auth token response", err)
	}
	if out.AuthToken == "" {
		return "", tokenError(pathRequestAuthToken, resp.StatusCode, "Auth token response is empty", nil)
	}
	return out.AuthToken, nil
}

func (p *Pairer) confirmAuthToken(ctx context.Context, authToken string) (string, error) {
	body := confirmAuthTokenBody{DeviceID: p.identity.DeviceID(), AuthToken: authToken}

	resp, err := p.rest.CallPreAuth(ctx, pathConfirmAuthToken, body)
	if err != nil {
		return "", tokenError(pathConfirmAuthToken, 0, "Auth token confirmation failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", tokenError(pathConfirmAuthToken, resp.StatusCode, "Auth token confirmation rejected", nil)
	}

	var out clientIDResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", tokenError(pathConfirmAuthToken, resp.StatusCode, "Failed to parse confirmation response", err)
	}
	if out.ClientID == "" {
		return "", tokenError(pathConfirmAuthToken, resp.StatusCode, "Confirmation response has no clientId", nil)
	}
	return out.ClientID, nil
}

func tokenError(path string, code int, message string, err error) *HmIPError {
	return &HmIPError{
		Kind:    KindTokenConfirmation,
		Code:    code,
		Path:    path,
		Message: message,
		Err:     err,
	}
}
