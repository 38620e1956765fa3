package hmip

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an HmIPError
type ErrorKind string

const (
	KindHostResolution    ErrorKind = "host_resolution"
	KindRestCall          ErrorKind = "rest_call"
	KindConnectionRequest ErrorKind = "connection_request"
	KindTokenConfirmation ErrorKind = "token_confirmation"
	KindSnapshotLoad      ErrorKind = "snapshot_load"
	KindNotPaired         ErrorKind = "not_paired"
)

// HmIPError represents an error returned by the cloud client
type HmIPError struct {
	Kind    ErrorKind `json:"kind"`
	Code    int       `json:"code,omitempty"`
	Path    string    `json:"path,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *HmIPError) Error() string {
	msg := fmt.Sprintf("HmIP %s error: %s", e.Kind, e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path: %s)", e.Path)
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(" (status: %d)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HmIPError) Unwrap() error {
	return e.Err
}

// Is matches any HmIPError of the same kind, so errors.Is(err, ErrRestCall) works
// for every REST failure regardless of path or status.
func (e *HmIPError) Is(target error) bool {
	t, ok := target.(*HmIPError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Predefined error kinds
var (
	ErrHostResolution = &HmIPError{
		Kind:    KindHostResolution,
		Message: "Host resolution failed",
	}
	ErrRestCall = &HmIPError{
		Kind:    KindRestCall,
		Message: "REST call failed",
	}
	ErrConnectionRequest = &HmIPError{
		Kind:    KindConnectionRequest,
		Message: "Connection request rejected",
	}
	ErrTokenConfirmation = &HmIPError{
		Kind:    KindTokenConfirmation,
		Message: "Auth token request or confirmation failed",
	}
	ErrSnapshotLoad = &HmIPError{
		Kind:    KindSnapshotLoad,
		Message: "Current state could not be loaded",
	}
	ErrNotPaired = &HmIPError{
		Kind:    KindNotPaired,
		Message: "Client has no auth token, pairing required",
	}

	// ErrHostsNotResolved is returned by REST calls and Connect before ResolveHosts succeeded.
	ErrHostsNotResolved = &HmIPError{
		Kind:    KindHostResolution,
		Message: "REST and WebSocket hosts not resolved",
	}
)

// NewHmIPError creates a new HmIPError of the given kind
func NewHmIPError(kind ErrorKind, message string, err error) *HmIPError {
	return &HmIPError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

func newRestCallError(path string, code int, message string, err error) *HmIPError {
	return &HmIPError{
		Kind:    KindRestCall,
		Code:    code,
		Path:    path,
		Message: message,
		Err:     err,
	}
}

// IsRestCallError checks if the error came from the REST gateway
func IsRestCallError(err error) bool {
	return errors.Is(err, ErrRestCall)
}

// IsPairingError checks if the error came from one of the pairing steps
func IsPairingError(err error) bool {
	return errors.Is(err, ErrConnectionRequest) || errors.Is(err, ErrTokenConfirmation)
}

// StatusCode returns the HTTP status carried by err, or 0 for transport failures
func StatusCode(err error) int {
	var hErr *HmIPError
	if errors.As(err, &hErr) {
		if hErr.Code != 0 {
			return hErr.Code
		}
		if hErr.Err != nil {
			return StatusCode(hErr.Err)
		}
	}
	return 0
}
