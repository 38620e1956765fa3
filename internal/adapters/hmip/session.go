package hmip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPingInterval is the heartbeat period while the socket is open
	DefaultPingInterval = 5 * time.Second

	// DefaultReconnectDelay is the fixed delay before every reconnect attempt
	DefaultReconnectDelay = 10 * time.Second

	defaultHandshakeTimeout = 30 * time.Second
	writeWait               = 10 * time.Second
)

// SessionState is the connection lifecycle of a Session
type SessionState string

const (
	SessionClosed           SessionState = "closed"
	SessionConnecting       SessionState = "connecting"
	SessionOpen             SessionState = "open"
	SessionReconnectPending SessionState = "reconnect_pending"
	SessionDisposed         SessionState = "disposed"
)

// ErrSessionDisposed is returned by Connect after Dispose
var ErrSessionDisposed = errors.New("websocket session disposed")

type OpenedHandler func()
type ClosedHandler func(code int, reason string)

// SessionOptions configures a Session
type SessionOptions struct {
	PingInterval     time.Duration
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	Metrics          MetricsObserver
}

// Session owns the event WebSocket. It keeps the connection alive with pings, reconnects
// after a fixed delay on any transport failure until disposed, and applies every received
// event to the mirror before handing it to the event handler.
type Session struct {
	identity *Identity
	rest     RESTClient
	mirror   *Mirror
	logger   *logrus.Logger
	metrics  MetricsObserver
	dialer   *websocket.Dialer

	pingInterval   time.Duration
	reconnectDelay time.Duration

	// afterFunc arms the reconnect timer; replaced in tests
	afterFunc func(d time.Duration, f func()) *time.Timer

	mu             sync.Mutex
	state          SessionState
	authToken      string
	conn           *websocket.Conn
	heartbeatStop  chan struct{}
	reconnectTimer *time.Timer
	reconnectGen   uint64
	disposed       bool

	// dispatchMu serializes event application with snapshot replacement. While a
	// snapshot is being fetched, events are held and applied after the replace.
	dispatchMu sync.Mutex
	holding    bool
	held       []Event

	handlersMu           sync.RWMutex
	onEvent              EventHandler
	onOpened             OpenedHandler
	onClosed             ClosedHandler
	onError              ErrorHandler
	onUnexpectedResponse UnexpectedResponseHandler
	onData               DataHandler
}

// NewSession creates a closed session. Hosts are read from rest at connect time.
func NewSession(identity *Identity, rest RESTClient, mirror *Mirror, opts SessionOptions, logger *logrus.Logger) *Session {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &Session{
		identity: identity,
		rest:     rest,
		mirror:   mirror,
		logger:   logger,
		metrics:  metrics,
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  opts.HandshakeTimeout,
			EnableCompression: false,
		},
		pingInterval:   opts.PingInterval,
		reconnectDelay: opts.ReconnectDelay,
		afterFunc:      time.AfterFunc,
		state:          SessionClosed,
	}
}

// SetAuthToken sets the AUTHTOKEN used for the next connect
func (s *Session) SetAuthToken(token string) {
	s.mu.Lock()
	s.authToken = token
	s.mu.Unlock()
}

// State returns the current lifecycle state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the socket is open
func (s *Session) IsConnected() bool {
	return s.State() == SessionOpen
}

// SetEventHandler registers the event handler. It runs after the event was applied to
// the mirror, in arrival order, and must not call LoadSnapshot itself.
func (s *Session) SetEventHandler(h EventHandler) {
	s.handlersMu.Lock()
	s.onEvent = h
	s.handlersMu.Unlock()
}

func (s *Session) SetOpenedHandler(h OpenedHandler) {
	s.handlersMu.Lock()
	s.onOpened = h
	s.handlersMu.Unlock()
}

func (s *Session) SetClosedHandler(h ClosedHandler) {
	s.handlersMu.Lock()
	s.onClosed = h
	s.handlersMu.Unlock()
}

func (s *Session) SetErrorHandler(h ErrorHandler) {
	s.handlersMu.Lock()
	s.onError = h
	s.handlersMu.Unlock()
}

func (s *Session) SetUnexpectedResponseHandler(h UnexpectedResponseHandler) {
	s.handlersMu.Lock()
	s.onUnexpectedResponse = h
	s.handlersMu.Unlock()
}

// SetDataHandler registers a tracer for raw inbound frames
func (s *Session) SetDataHandler(h DataHandler) {
	s.handlersMu.Lock()
	s.onData = h
	s.handlersMu.Unlock()
}

// Connect dials the WebSocket host. A dial failure is returned and also arms the
// reconnect timer, so the session keeps trying on its own until Dispose.
func (s *Session) Connect(ctx context.Context) error {
	hosts := s.rest.Hosts()
	if !hosts.Resolved() {
		return ErrHostsNotResolved
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrSessionDisposed
	}
	if s.state == SessionOpen || s.state == SessionConnecting {
		s.mu.Unlock()
		return nil
	}
	if s.authToken == "" {
		s.mu.Unlock()
		return ErrNotPaired
	}
	s.stopReconnectTimerLocked()
	s.state = SessionConnecting
	header := http.Header{}
	header.Set(headerAuthToken, s.authToken)
	header.Set(headerClientAuth, s.identity.ClientAuthToken())
	s.mu.Unlock()

	s.logger.WithField("url", hosts.WebSocketURL).Info("Connecting HmIP WebSocket")

	conn, resp, err := s.dialer.DialContext(ctx, hosts.WebSocketURL, header)
	if err != nil {
		s.handleDialFailure(resp, err)
		return fmt.Errorf("failed to connect websocket: %w", err)
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		conn.Close()
		return ErrSessionDisposed
	}
	s.stopReconnectTimerLocked()
	s.conn = conn
	s.state = SessionOpen
	stop := make(chan struct{})
	s.heartbeatStop = stop
	s.mu.Unlock()

	go s.heartbeat(conn, stop)
	go s.readLoop(conn)

	s.metrics.SetConnected(true)
	s.logger.Info("HmIP WebSocket connected")

	s.handlersMu.RLock()
	onOpened := s.onOpened
	s.handlersMu.RUnlock()
	if onOpened != nil {
		onOpened()
	}
	return nil
}

// Dispose closes the session for good. No reconnect is armed afterwards, even for a
// failure that is already being handled.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.state = SessionDisposed
	s.stopReconnectTimerLocked()
	s.stopHeartbeatLocked()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	conn.Close()

	s.metrics.SetConnected(false)
	s.logger.Info("HmIP WebSocket disposed")
	s.fireClosed(websocket.CloseNormalClosure, "disposed")
}

// heartbeat pings the peer until stop is closed. A failed ping closes the connection so
// the read loop reports the drop.
func (s *Session) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.logger.WithError(err).Warn("HmIP WebSocket ping failed")
				conn.Close()
				return
			}
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			s.handleConnectionLost(conn, err)
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		s.handleMessage(data)
	}
}

// handleMessage decodes one frame and applies its events in order
func (s *Session) handleMessage(data []byte) {
	s.handlersMu.RLock()
	onData := s.onData
	s.handlersMu.RUnlock()
	if onData != nil {
		onData(data)
	}

	var batch EventBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		s.logger.WithError(err).Warn("Failed to unmarshal HmIP event frame")
		return
	}

	events, err := decodeEvents(batch.Events)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"decoded": len(events),
			"error":   err.Error(),
		}).Warn("Skipped undecodable HmIP events")
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if s.holding {
		s.held = append(s.held, events...)
		s.logger.WithField("held", len(s.held)).Debug("Holding HmIP events until the snapshot is applied")
		return
	}
	s.dispatchLocked(events)
}

// holdEvents buffers incoming events until releaseEvents
func (s *Session) holdEvents() {
	s.dispatchMu.Lock()
	s.holding = true
	s.dispatchMu.Unlock()
}

// releaseEvents runs replace, when given, and then applies the held events in arrival
// order. No frame is applied in between.
func (s *Session) releaseEvents(replace func()) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if replace != nil {
		replace()
	}
	held := s.held
	s.held = nil
	s.holding = false
	s.dispatchLocked(held)
}

func (s *Session) dispatchLocked(events []Event) {
	s.handlersMu.RLock()
	onEvent := s.onEvent
	s.handlersMu.RUnlock()

	for _, ev := range events {
		changed := s.mirror.ApplyEvent(ev)
		s.metrics.ObserveEvent(ev.PushEventType)

		s.logger.WithFields(logrus.Fields{
			"event_type": ev.PushEventType,
			"changed":    changed,
		}).Debug("Applied HmIP event")

		if onEvent != nil {
			onEvent(ev)
		}
	}
}

// decodeEvents accepts an array or an object keyed by decimal index. Elements are
// decoded one by one; a malformed element is skipped and reported in the returned
// error while the others are kept in order.
func decodeEvents(raw json.RawMessage) ([]Event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var elements []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &elements); err != nil {
			return nil, err
		}
	} else {
		var keyed map[string]json.RawMessage
		if err := json.Unmarshal(raw, &keyed); err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(keyed))
		for k := range keyed {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, errA := strconv.Atoi(keys[i])
			b, errB := strconv.Atoi(keys[j])
			switch {
			case errA == nil && errB == nil:
				return a < b
			case errA == nil:
				return true
			case errB == nil:
				return false
			}
			return keys[i] < keys[j]
		})
		elements = make([]json.RawMessage, 0, len(keys))
		for _, k := range keys {
			elements = append(elements, keyed[k])
		}
	}

	events := make([]Event, 0, len(elements))
	var errs []error
	for i, element := range elements {
		var ev Event
		if err := json.Unmarshal(element, &ev); err != nil {
			errs = append(errs, fmt.Errorf("event %d: %w", i, err))
			continue
		}
		events = append(events, ev)
	}
	return events, errors.Join(errs...)
}

func (s *Session) handleDialFailure(resp *http.Response, err error) {
	s.mu.Lock()
	if s.state == SessionConnecting {
		s.state = SessionClosed
	}
	disposed := s.disposed
	s.mu.Unlock()

	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if disposed {
		s.logger.WithError(err).Debug("HmIP WebSocket connect failed after dispose")
		return
	}

	if resp != nil {
		var body []byte
		if resp.Body != nil {
			body, _ = io.ReadAll(io.LimitReader(resp.Body, 4096))
		}
		s.logger.WithField("status_code", resp.StatusCode).Warn("HmIP WebSocket handshake rejected")

		s.handlersMu.RLock()
		onUnexpected := s.onUnexpectedResponse
		s.handlersMu.RUnlock()
		if onUnexpected != nil {
			onUnexpected(resp.StatusCode, body)
		}
	} else {
		s.logger.WithError(err).Warn("HmIP WebSocket connect failed")
		s.fireError(err)
	}

	s.scheduleReconnect()
}

// handleConnectionLost runs when the read loop of conn ends
func (s *Session) handleConnectionLost(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		// Replaced or disposed; whoever did that already cleaned up.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = SessionClosed
	s.stopHeartbeatLocked()
	s.mu.Unlock()

	conn.Close()
	s.metrics.SetConnected(false)

	code := websocket.CloseAbnormalClosure
	reason := ""
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
		reason = closeErr.Text
		s.logger.WithFields(logrus.Fields{
			"code":   code,
			"reason": reason,
		}).Info("HmIP WebSocket closed")
	} else {
		s.logger.WithError(err).Warn("HmIP WebSocket error")
		s.fireError(err)
	}
	s.fireClosed(code, reason)

	s.scheduleReconnect()
}

// scheduleReconnect arms exactly one reconnect timer, replacing any pending one.
// It does nothing once the session is disposed.
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return
	}
	s.stopReconnectTimerLocked()
	s.state = SessionReconnectPending
	gen := s.reconnectGen
	s.reconnectTimer = s.afterFunc(s.reconnectDelay, func() { s.reconnect(gen) })

	s.logger.WithField("delay", s.reconnectDelay).Info("HmIP WebSocket reconnect scheduled")
}

// reconnect runs on the timer goroutine. gen guards against a timer that fired just
// before it was replaced or stopped.
func (s *Session) reconnect(gen uint64) {
	s.mu.Lock()
	if s.disposed || gen != s.reconnectGen {
		s.mu.Unlock()
		return
	}
	s.reconnectTimer = nil
	s.reconnectGen++
	s.mu.Unlock()

	s.metrics.ObserveReconnect()

	ctx, cancel := context.WithTimeout(context.Background(), s.dialer.HandshakeTimeout)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		s.logger.WithError(err).Debug("HmIP WebSocket reconnect attempt failed")
	}
}

func (s *Session) stopReconnectTimerLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.reconnectGen++
}

func (s *Session) stopHeartbeatLocked() {
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
}

func (s *Session) fireError(err error) {
	s.handlersMu.RLock()
	h := s.onError
	s.handlersMu.RUnlock()
	if h != nil {
		h(err)
	}
}

func (s *Session) fireClosed(code int, reason string) {
	s.handlersMu.RLock()
	h := s.onClosed
	s.handlersMu.RUnlock()
	if h != nil {
		h(code, reason)
	}
}
