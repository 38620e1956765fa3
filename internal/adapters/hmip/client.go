package hmip

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const pathGetCurrentState = "home/getCurrentState"

// Options configures a Controller
type Options struct {
	LookupURL           string
	RequestTimeout      time.Duration
	PingInterval        time.Duration
	ReconnectDelay      time.Duration
	PairingPollInterval time.Duration
	HTTPClient          *http.Client
	Metrics             MetricsObserver
}

// Controller is the caller-facing API for one access point: identity, host resolution,
// pairing, state fetch, the event session and the command surface.
type Controller struct {
	identity *Identity
	rest     RESTClient
	pairer   *Pairer
	mirror   *Mirror
	session  *Session
	commands *Commands
	logger   *logrus.Logger

	pollInterval time.Duration

	// snapshotMu allows one snapshot fetch at a time
	snapshotMu sync.Mutex

	mu          sync.RWMutex
	credentials Credentials
}

// NewController creates an unpaired controller with a fresh device id
func NewController(accessPointID, pin string, opts Options, logger *logrus.Logger) *Controller {
	return newController(NewIdentity(accessPointID, pin), opts, logger)
}

// NewControllerFromSaveData restores a controller. When the save data carries
// credentials, pairing can be skipped.
func NewControllerFromSaveData(data SaveData, opts Options, logger *logrus.Logger) *Controller {
	c := newController(IdentityFromSaveData(data), opts, logger)
	if data.AuthToken != "" {
		c.applyCredentials(Credentials{AuthToken: data.AuthToken, ClientID: data.ClientID})
	}
	return c
}

func newController(identity *Identity, opts Options, logger *logrus.Logger) *Controller {
	if opts.PairingPollInterval <= 0 {
		opts.PairingPollInterval = DefaultPairingPollInterval
	}

	rest := NewRESTClient(identity, RESTOptions{
		LookupURL:      opts.LookupURL,
		RequestTimeout: opts.RequestTimeout,
		HTTPClient:     opts.HTTPClient,
		Metrics:        opts.Metrics,
	}, logger)
	mirror := NewMirror()

	return &Controller{
		identity: identity,
		rest:     rest,
		pairer:   NewPairer(rest, identity, logger),
		mirror:   mirror,
		session: NewSession(identity, rest, mirror, SessionOptions{
			PingInterval:   opts.PingInterval,
			ReconnectDelay: opts.ReconnectDelay,
			Metrics:        opts.Metrics,
		}, logger),
		commands:     NewCommands(rest),
		logger:       logger,
		pollInterval: opts.PairingPollInterval,
	}
}

func (c *Controller) applyCredentials(creds Credentials) {
	c.mu.Lock()
	c.credentials = creds
	c.mu.Unlock()

	c.rest.SetAuthToken(creds.AuthToken)
	c.session.SetAuthToken(creds.AuthToken)
}

// SaveData returns what the caller must persist. Token fields are empty before pairing.
func (c *Controller) SaveData() SaveData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return SaveData{
		AccessPointID: c.identity.AccessPointID(),
		AuthToken:     c.credentials.AuthToken,
		ClientID:      c.credentials.ClientID,
		DeviceID:      c.identity.DeviceID(),
		Pin:           c.identity.Pin(),
	}
}

func (c *Controller) Identity() *Identity { return c.identity }
func (c *Controller) Mirror() *Mirror     { return c.mirror }
func (c *Controller) Commands() *Commands { return c.commands }
func (c *Controller) Session() *Session   { return c.session }

// IsPaired reports whether an auth token is present
func (c *Controller) IsPaired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credentials.AuthToken != ""
}

// ResolveHosts looks up the REST and WebSocket hosts for the access point
func (c *Controller) ResolveHosts(ctx context.Context) (Hosts, error) {
	return c.rest.ResolveHosts(ctx)
}

// SetHosts installs previously resolved hosts
func (c *Controller) SetHosts(hosts Hosts) {
	c.rest.SetHosts(hosts)
}

func (c *Controller) Hosts() Hosts {
	return c.rest.Hosts()
}

// Pairing

func (c *Controller) PairingState() PairingState {
	return c.pairer.State()
}

func (c *Controller) SetPairingStateHandler(handler PairingStateHandler) {
	c.pairer.SetStateHandler(handler)
}

func (c *Controller) BeginConnectionRequest(ctx context.Context, deviceName string) error {
	return c.pairer.BeginConnectionRequest(ctx, deviceName)
}

func (c *Controller) IsRequestAcknowledged(ctx context.Context) bool {
	return c.pairer.IsRequestAcknowledged(ctx)
}

// CompleteTokenRequest finishes pairing and installs the new credentials
func (c *Controller) CompleteTokenRequest(ctx context.Context) (Credentials, error) {
	creds, err := c.pairer.CompleteTokenRequest(ctx)
	if err != nil {
		return Credentials{}, err
	}
	c.applyCredentials(creds)
	return creds, nil
}

// Pair runs all pairing steps, polling for the blue button press until ctx is done
func (c *Controller) Pair(ctx context.Context, deviceName string) (Credentials, error) {
	if err := c.BeginConnectionRequest(ctx, deviceName); err != nil {
		return Credentials{}, err
	}

	c.logger.WithField("access_point_id", c.identity.AccessPointID()).
		Info("Waiting for the blue button on the access point to be pressed")

	if err := c.pairer.WaitForAcknowledgement(ctx, c.pollInterval); err != nil {
		return Credentials{}, err
	}
	return c.CompleteTokenRequest(ctx)
}

// LoadSnapshot fetches the complete current state and replaces the mirror with it.
// Events received on an open session while the request is in flight are held and
// applied on top of the new state, so the mirror never goes back to older data.
func (c *Controller) LoadSnapshot(ctx context.Context) (*CurrentState, error) {
	if !c.IsPaired() {
		return nil, ErrNotPaired
	}

	c.snapshotMu.Lock()
	defer c.snapshotMu.Unlock()

	c.session.holdEvents()
	state, err := c.fetchCurrentState(ctx)
	if err != nil {
		c.session.releaseEvents(nil)
		return nil, err
	}
	c.session.releaseEvents(func() { c.mirror.Replace(state) })

	counts := c.mirror.Counts()
	c.logger.WithFields(logrus.Fields{
		"devices": counts.Devices,
		"groups":  counts.Groups,
		"clients": counts.Clients,
	}).Info("Loaded HmIP current state")

	return state, nil
}

func (c *Controller) fetchCurrentState(ctx context.Context) (*CurrentState, error) {
	data, err := c.rest.Call(ctx, pathGetCurrentState, map[string]interface{}{
		"clientCharacteristics": DefaultClientCharacteristics(),
	})
	if err != nil {
		return nil, NewHmIPError(KindSnapshotLoad, "Current state request failed", err)
	}
	return parseCurrentState(data)
}

func parseCurrentState(data []byte) (*CurrentState, error) {
	if len(data) == 0 {
		return nil, NewHmIPError(KindSnapshotLoad, "Current state response is empty", nil)
	}

	var state CurrentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, NewHmIPError(KindSnapshotLoad, "Failed to parse current state response", err)
	}
	if state.Home == nil && state.Devices == nil && state.Groups == nil && state.Clients == nil {
		return nil, NewHmIPError(KindSnapshotLoad, "Current state response has no entities", nil)
	}
	return &state, nil
}

// Session

func (c *Controller) Connect(ctx context.Context) error {
	return c.session.Connect(ctx)
}

func (c *Controller) Dispose() {
	c.session.Dispose()
}

func (c *Controller) IsConnected() bool {
	return c.session.IsConnected()
}

func (c *Controller) SetEventHandler(h EventHandler)   { c.session.SetEventHandler(h) }
func (c *Controller) SetOpenedHandler(h OpenedHandler) { c.session.SetOpenedHandler(h) }
func (c *Controller) SetClosedHandler(h ClosedHandler) { c.session.SetClosedHandler(h) }
func (c *Controller) SetErrorHandler(h ErrorHandler)   { c.session.SetErrorHandler(h) }
func (c *Controller) SetDataHandler(h DataHandler)     { c.session.SetDataHandler(h) }

func (c *Controller) SetUnexpectedResponseHandler(h UnexpectedResponseHandler) {
	c.session.SetUnexpectedResponseHandler(h)
}
