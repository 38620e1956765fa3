package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/frostdev-ops/hmip-go/internal/adapters/hmip"
	"github.com/frostdev-ops/hmip-go/internal/config"
	"github.com/frostdev-ops/hmip-go/internal/credentials"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	ErrPairingInProgress = errors.New("pairing already in progress")
	ErrAlreadyPaired     = errors.New("access point already paired")
	ErrNotStarted        = errors.New("service not started")
)

// EventSink receives mirror changes and session state, e.g. the MQTT bridge or the
// admin WebSocket hub
type EventSink interface {
	HandleEvent(ev hmip.Event) error
	PublishSnapshot(m *hmip.Mirror) error
	SetConnected(connected bool) error
	Close() error
}

// Metrics is the observer the service feeds besides the core's own counters
type Metrics interface {
	hmip.MetricsObserver
	SetMirrorCounts(counts hmip.MirrorCounts)
}

// Options wires optional collaborators
type Options struct {
	Sinks      []EventSink
	Metrics    Metrics
	HTTPClient *http.Client
}

// PairingStatus is the externally visible pairing progress
type PairingStatus struct {
	State   hmip.PairingState `json:"state"`
	Running bool              `json:"running"`
	Paired  bool              `json:"paired"`
	Error   string            `json:"error,omitempty"`
}

// Status summarizes the service for health checks
type Status struct {
	AccessPointID string            `json:"access_point_id"`
	Paired        bool              `json:"paired"`
	Connected     bool              `json:"connected"`
	SessionState  hmip.SessionState `json:"session_state"`
	HostsResolved bool              `json:"hosts_resolved"`
	LastSnapshot  *time.Time        `json:"last_snapshot,omitempty"`
	Mirror        hmip.MirrorCounts `json:"mirror"`
}

// Service owns one access point connection: it restores credentials, pairs when needed,
// keeps the mirror loaded and the event session running, and fans events out.
type Service struct {
	cfg        config.HmIPConfig
	controller *hmip.Controller
	store      credentials.Store
	sinks      []EventSink
	metrics    Metrics
	logger     *logrus.Logger
	scheduler  *cron.Cron

	mu             sync.Mutex
	ctx            context.Context
	cancel         context.CancelFunc
	pairingRunning bool
	pairingErr     error
	sessionStarted bool
	openedOnce     bool
	lastSnapshot   time.Time
	resyncMu       sync.Mutex
}

// New restores the access point identity from store and config. Values set in config
// take precedence over stored ones.
func New(cfg config.HmIPConfig, store credentials.Store, opts Options, logger *logrus.Logger) (*Service, error) {
	stored, err := store.Load()
	if err != nil && !errors.Is(err, credentials.ErrNotFound) {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	data := credentials.Merge(stored, hmip.SaveData{
		AccessPointID: cfg.AccessPointID,
		AuthToken:     cfg.AuthToken,
		ClientID:      cfg.ClientID,
		Pin:           cfg.Pin,
	})
	if data.AccessPointID == "" {
		return nil, errors.New("no access point id configured")
	}
	if stored.AccessPointID != "" && hmip.SanitizeAccessPointID(stored.AccessPointID) != hmip.SanitizeAccessPointID(data.AccessPointID) {
		// Credentials belong to another access point
		logger.WithFields(logrus.Fields{
			"stored_access_point_id": stored.AccessPointID,
			"access_point_id":        data.AccessPointID,
		}).Warn("Stored HmIP credentials belong to a different access point, pairing again")
		data = hmip.SaveData{AccessPointID: cfg.AccessPointID, Pin: cfg.Pin, AuthToken: cfg.AuthToken, ClientID: cfg.ClientID}
	}

	var observer hmip.MetricsObserver
	if opts.Metrics != nil {
		observer = opts.Metrics
	}

	controller := hmip.NewControllerFromSaveData(data, hmip.Options{
		LookupURL:           cfg.LookupURL,
		RequestTimeout:      cfg.RequestTimeout,
		PingInterval:        cfg.PingInterval,
		ReconnectDelay:      cfg.ReconnectDelay,
		PairingPollInterval: cfg.PairingPollInterval,
		HTTPClient:          opts.HTTPClient,
		Metrics:             observer,
	}, logger)

	s := &Service{
		cfg:        cfg,
		controller: controller,
		store:      store,
		sinks:      opts.Sinks,
		metrics:    opts.Metrics,
		logger:     logger,
	}
	s.wireHandlers()

	// Keep the device id stable across restarts
	if stored != controller.SaveData() {
		if err := store.Save(controller.SaveData()); err != nil {
			logger.WithError(err).Warn("Failed to persist HmIP identity")
		}
	}

	return s, nil
}

func (s *Service) wireHandlers() {
	c := s.controller

	c.SetEventHandler(func(ev hmip.Event) {
		for _, sink := range s.sinks {
			if err := sink.HandleEvent(ev); err != nil {
				s.logger.WithError(err).WithField("event_type", ev.PushEventType).Debug("Event sink rejected event")
			}
		}
		if s.metrics != nil {
			s.metrics.SetMirrorCounts(c.Mirror().Counts())
		}
	})

	c.SetOpenedHandler(func() {
		s.mu.Lock()
		reopened := s.openedOnce
		s.openedOnce = true
		ctx := s.ctx
		s.mu.Unlock()

		s.publishConnected(true)

		// Events pushed while the socket was down are lost; reload the full state.
		if reopened && ctx != nil {
			go func() {
				if err := s.Resync(ctx); err != nil {
					s.logger.WithError(err).Warn("Resync after reconnect failed")
				}
			}()
		}
	})

	c.SetClosedHandler(func(code int, reason string) {
		s.logger.WithFields(logrus.Fields{
			"code":   code,
			"reason": reason,
		}).Info("HmIP event session closed")
		s.publishConnected(false)
	})

	c.SetErrorHandler(func(err error) {
		s.logger.WithError(err).Warn("HmIP event session error")
	})

	c.SetUnexpectedResponseHandler(func(statusCode int, body []byte) {
		entry := s.logger.WithFields(logrus.Fields{
			"status_code": statusCode,
			"body":        string(body),
		})
		if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
			entry.Error("HmIP cloud rejected the auth token, pairing may be required")
			return
		}
		entry.Warn("Unexpected HmIP WebSocket handshake response")
	})

	c.SetPairingStateHandler(func(state hmip.PairingState) {
		s.logger.WithField("pairing_state", state).Info("HmIP pairing progress")
	})
}

func (s *Service) publishConnected(connected bool) {
	for _, sink := range s.sinks {
		if err := sink.SetConnected(connected); err != nil {
			s.logger.WithError(err).Debug("Failed to publish session state")
		}
	}
}

// Start resolves the hosts and, when paired, loads the state and opens the event
// session. Without credentials it pairs in the background if auto_pair is set.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := s.ctx
	s.mu.Unlock()

	s.logger.WithField("access_point_id", s.controller.Identity().AccessPointID()).Info("Starting HmIP service")

	if _, err := s.controller.ResolveHosts(ctx); err != nil {
		return fmt.Errorf("failed to resolve HmIP hosts: %w", err)
	}

	if err := s.startScheduler(runCtx); err != nil {
		return err
	}

	if s.controller.IsPaired() {
		s.startSession(ctx)
		return nil
	}

	if s.cfg.AutoPair {
		return s.StartPairing(s.cfg.DeviceName)
	}

	s.logger.Warn("HmIP access point not paired, waiting for a pairing request")
	return nil
}

func (s *Service) startScheduler(ctx context.Context) error {
	if s.cfg.ResyncSchedule == "" {
		return nil
	}

	s.scheduler = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.PrintfLogger(s.logger)),
		cron.Recover(cron.PrintfLogger(s.logger)),
	))
	if _, err := s.scheduler.AddFunc(s.cfg.ResyncSchedule, func() {
		if !s.controller.IsPaired() {
			return
		}
		if err := s.Resync(ctx); err != nil {
			s.logger.WithError(err).Warn("Scheduled HmIP resync failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid resync schedule %q: %w", s.cfg.ResyncSchedule, err)
	}
	s.scheduler.Start()

	s.logger.WithField("schedule", s.cfg.ResyncSchedule).Info("Scheduled HmIP resync")
	return nil
}

// startSession loads the snapshot and connects. A failed connect keeps retrying on its own.
func (s *Service) startSession(ctx context.Context) {
	s.mu.Lock()
	if s.sessionStarted {
		s.mu.Unlock()
		return
	}
	s.sessionStarted = true
	s.mu.Unlock()

	if err := s.Resync(ctx); err != nil {
		s.logger.WithError(err).Warn("Initial HmIP state load failed, continuing with the event session")
	}

	if err := s.controller.Connect(ctx); err != nil {
		s.logger.WithError(err).Warn("HmIP event session connect failed, retrying in the background")
	}
}

// StartPairing runs the pairing handshake in the background. On success the credentials
// are persisted and the session is started.
func (s *Service) StartPairing(deviceName string) error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if s.pairingRunning {
		s.mu.Unlock()
		return ErrPairingInProgress
	}
	if s.controller.IsPaired() {
		s.mu.Unlock()
		return ErrAlreadyPaired
	}
	s.pairingRunning = true
	s.pairingErr = nil
	parent := s.ctx
	s.mu.Unlock()

	if deviceName == "" {
		deviceName = s.cfg.DeviceName
	}

	go func() {
		ctx := parent
		if s.cfg.PairingTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parent, s.cfg.PairingTimeout)
			defer cancel()
		}

		err := s.pair(ctx, deviceName)

		s.mu.Lock()
		s.pairingRunning = false
		s.pairingErr = err
		s.mu.Unlock()

		if err != nil {
			s.logger.WithError(err).Error("HmIP pairing failed")
			return
		}
		s.startSession(parent)
	}()
	return nil
}

func (s *Service) pair(ctx context.Context, deviceName string) error {
	creds, err := s.controller.Pair(ctx, deviceName)
	if err != nil {
		return err
	}

	if err := s.store.Save(s.controller.SaveData()); err != nil {
		// The session still works, but the next start will need pairing again
		s.logger.WithError(err).Error("Failed to persist HmIP credentials")
	}

	s.logger.WithField("client_id", creds.ClientID).Info("HmIP pairing completed")
	return nil
}

func (s *Service) PairingStatus() PairingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := PairingStatus{
		State:   s.controller.PairingState(),
		Running: s.pairingRunning,
		Paired:  s.controller.IsPaired(),
	}
	if s.pairingErr != nil {
		status.Error = s.pairingErr.Error()
	}
	return status
}

// Resync reloads the full state, then republishes it and updates the mirror gauges
func (s *Service) Resync(ctx context.Context) error {
	s.resyncMu.Lock()
	defer s.resyncMu.Unlock()

	if _, err := s.controller.LoadSnapshot(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastSnapshot = time.Now()
	s.mu.Unlock()

	mirror := s.controller.Mirror()
	if s.metrics != nil {
		s.metrics.SetMirrorCounts(mirror.Counts())
	}
	for _, sink := range s.sinks {
		if err := sink.PublishSnapshot(mirror); err != nil {
			s.logger.WithError(err).Warn("Failed to publish HmIP snapshot")
		}
	}
	return nil
}

func (s *Service) Controller() *hmip.Controller {
	return s.controller
}

func (s *Service) Status() Status {
	s.mu.Lock()
	last := s.lastSnapshot
	s.mu.Unlock()

	status := Status{
		AccessPointID: s.controller.Identity().AccessPointID(),
		Paired:        s.controller.IsPaired(),
		Connected:     s.controller.IsConnected(),
		SessionState:  s.controller.Session().State(),
		HostsResolved: s.controller.Hosts().Resolved(),
		Mirror:        s.controller.Mirror().Counts(),
	}
	if !last.IsZero() {
		status.LastSnapshot = &last
	}
	return status
}

// Stop halts the scheduler, disposes the event session and closes the sinks
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	scheduler := s.scheduler
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-ctx.Done():
			s.logger.Warn("Timed out waiting for scheduled resync to finish")
		}
	}

	s.controller.Dispose()

	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event sink: %w", err))
		}
	}

	s.logger.Info("HmIP service stopped")
	return errors.Join(errs...)
}
