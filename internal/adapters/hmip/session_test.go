package hmip

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsCloud is a WebSocket endpoint that counts handshakes and runs onConn per accepted socket
type wsCloud struct {
	server   *httptest.Server
	hits     atomic.Int32
	reject   atomic.Int32 // status to reject with, 0 accepts
	onConn   func(conn *websocket.Conn)
	mu       sync.Mutex
	lastAuth http.Header
}

func newWSCloud(t *testing.T, onConn func(conn *websocket.Conn)) *wsCloud {
	t.Helper()

	wc := &wsCloud{onConn: onConn}
	upgrader := websocket.Upgrader{}
	wc.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wc.hits.Add(1)
		wc.mu.Lock()
		wc.lastAuth = r.Header.Clone()
		wc.mu.Unlock()

		if status := wc.reject.Load(); status != 0 {
			w.WriteHeader(int(status))
			_, _ = w.Write([]byte(`{"errorCode":"INVALID_AUTH_TOKEN"}`))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if wc.onConn != nil {
			wc.onConn(conn)
			return
		}
		// Hold the socket open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}))
	t.Cleanup(wc.server.Close)
	return wc
}

func newTestSession(t *testing.T, wc *wsCloud, opts SessionOptions) (*Session, *Mirror, *Identity) {
	t.Helper()

	id := NewIdentity(testAccessPointID, "")
	rest := NewRESTClient(id, RESTOptions{}, newTestLogger())
	rest.SetHosts(Hosts{RESTURL: wc.server.URL, WebSocketURL: wc.server.URL})

	mirror := NewMirror()
	s := NewSession(id, rest, mirror, opts, newTestLogger())
	s.SetAuthToken("TOKEN")
	t.Cleanup(s.Dispose)
	return s, mirror, id
}

func TestSession_ConnectPreconditions(t *testing.T) {
	id := NewIdentity(testAccessPointID, "")
	rest := NewRESTClient(id, RESTOptions{}, newTestLogger())
	s := NewSession(id, rest, NewMirror(), SessionOptions{}, newTestLogger())

	assert.ErrorIs(t, s.Connect(context.Background()), ErrHostsNotResolved)

	rest.SetHosts(Hosts{RESTURL: "http://127.0.0.1:1", WebSocketURL: "ws://127.0.0.1:1"})
	assert.ErrorIs(t, s.Connect(context.Background()), ErrNotPaired)

	s.mu.Lock()
	assert.Nil(t, s.reconnectTimer, "precondition failures must not arm a reconnect")
	s.mu.Unlock()
	assert.Equal(t, SessionClosed, s.State())
}

func TestSession_HeartbeatPings(t *testing.T) {
	var pings atomic.Int32
	wc := newWSCloud(t, func(conn *websocket.Conn) {
		conn.SetPingHandler(func(string) error {
			pings.Add(1)
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	})
	s, _, _ := newTestSession(t, wc, SessionOptions{PingInterval: 20 * time.Millisecond})

	require.NoError(t, s.Connect(context.Background()))
	assert.Eventually(t, func() bool { return pings.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	s.Dispose()
	count := pings.Load()
	time.Sleep(60 * time.Millisecond)
	assert.LessOrEqual(t, pings.Load(), count+1)
}

func TestSession_ConnectSendsAuthHeaders(t *testing.T) {
	wc := newWSCloud(t, nil)
	s, _, id := newTestSession(t, wc, SessionOptions{})

	opened := make(chan struct{}, 1)
	s.SetOpenedHandler(func() { opened <- struct{}{} })

	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.IsConnected())

	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("opened handler not called")
	}

	wc.mu.Lock()
	defer wc.mu.Unlock()
	assert.Equal(t, "TOKEN", wc.lastAuth.Get("AUTHTOKEN"))
	assert.Equal(t, id.ClientAuthToken(), wc.lastAuth.Get("CLIENTAUTH"))
}

func TestSession_DeviceChangedFrame(t *testing.T) {
	frame := `{"events":[{"pushEventType":"DEVICE_CHANGED","device":{"id":"D1","type":"X"}}]}`
	wc := newWSCloud(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	s, mirror, _ := newTestSession(t, wc, SessionOptions{})

	events := make(chan Event, 4)
	s.SetEventHandler(func(ev Event) { events <- ev })

	var frames atomic.Int32
	s.SetDataHandler(func([]byte) { frames.Add(1) })

	require.NoError(t, s.Connect(context.Background()))

	var ev Event
	select {
	case ev = <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("event handler not called")
	}

	// The mirror is updated before the handler runs
	d, ok := mirror.Device("D1")
	require.True(t, ok)
	assert.Equal(t, "X", d.Type)

	assert.Equal(t, EventDeviceChanged, ev.PushEventType)
	assert.JSONEq(t, `{"pushEventType":"DEVICE_CHANGED","device":{"id":"D1","type":"X"}}`, string(ev.Raw))

	select {
	case extra := <-events:
		t.Fatalf("unexpected second event: %v", extra.PushEventType)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, int32(1), frames.Load())
}

func TestSession_HandleMessageOrderAndMetrics(t *testing.T) {
	metrics := &recordingMetrics{}
	id := NewIdentity(testAccessPointID, "")
	mirror := NewMirror()
	s := NewSession(id, NewRESTClient(id, RESTOptions{}, newTestLogger()), mirror, SessionOptions{Metrics: metrics}, newTestLogger())

	var seen []string
	s.SetEventHandler(func(ev Event) {
		_, present := mirror.Device("D1")
		seen = append(seen, string(ev.PushEventType)+":"+boolString(present))
	})

	s.handleMessage([]byte(`{"events":{
		"1":{"pushEventType":"DEVICE_REMOVED","id":"D1"},
		"0":{"pushEventType":"DEVICE_ADDED","device":{"id":"D1","type":"X"}}
	}}`))

	assert.Equal(t, []string{"DEVICE_ADDED:true", "DEVICE_REMOVED:false"}, seen)
	assert.Equal(t, []EventType{EventDeviceAdded, EventDeviceRemoved}, metrics.events)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func TestSession_HandleMessageIgnoresGarbage(t *testing.T) {
	id := NewIdentity(testAccessPointID, "")
	s := NewSession(id, NewRESTClient(id, RESTOptions{}, newTestLogger()), NewMirror(), SessionOptions{}, newTestLogger())

	called := false
	s.SetEventHandler(func(Event) { called = true })

	s.handleMessage([]byte(`not json`))
	s.handleMessage([]byte(`{"events":42}`))
	s.handleMessage([]byte(`{"events":null}`))

	assert.False(t, called)
}

func TestDecodeEvents(t *testing.T) {
	events, err := decodeEvents(json.RawMessage(`{"10":{"pushEventType":"GROUP_CHANGED"},"2":{"pushEventType":"DEVICE_CHANGED"}}`))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventDeviceChanged, events[0].PushEventType)
	assert.Equal(t, EventGroupChanged, events[1].PushEventType)

	events, err = decodeEvents(json.RawMessage(`[{"pushEventType":"HOME_CHANGED"}]`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	events, err = decodeEvents(nil)
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = decodeEvents(json.RawMessage(`[
		{"pushEventType":"DEVICE_CHANGED","device":{"id":"D1"}},
		{"pushEventType":"DEVICE_CHANGED","device":{"id":"D2","lastStatusUpdate":"n/a"}},
		{"pushEventType":"GROUP_CHANGED","group":{"id":"G1"}}
	]`))
	require.Error(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "D1", events[0].Device.ID)
	assert.Equal(t, "G1", events[1].Group.ID)
}

func TestSession_MalformedEventDoesNotDropFrame(t *testing.T) {
	id := NewIdentity(testAccessPointID, "")
	mirror := NewMirror()
	s := NewSession(id, NewRESTClient(id, RESTOptions{}, newTestLogger()), mirror, SessionOptions{}, newTestLogger())

	var seen []EventType
	s.SetEventHandler(func(ev Event) { seen = append(seen, ev.PushEventType) })

	s.handleMessage([]byte(`{"events":{
		"0":{"pushEventType":"DEVICE_CHANGED","device":{"id":"D1","type":"X"}},
		"1":{"pushEventType":"DEVICE_CHANGED","device":{"id":"D2","lastStatusUpdate":"n/a"}},
		"2":{"pushEventType":"GROUP_ADDED","group":{"id":"G1","type":"HEATING"}}
	}}`))

	device, ok := mirror.Device("D1")
	require.True(t, ok)
	assert.Equal(t, "X", device.Type)
	_, ok = mirror.Device("D2")
	assert.False(t, ok)
	_, ok = mirror.Group("G1")
	assert.True(t, ok)
	assert.Equal(t, []EventType{EventDeviceChanged, EventGroupAdded}, seen)
}

func TestSession_ReconnectDebounce(t *testing.T) {
	wc := newWSCloud(t, nil)
	s, _, _ := newTestSession(t, wc, SessionOptions{ReconnectDelay: 50 * time.Millisecond})

	// Two failures in quick succession
	s.scheduleReconnect()
	s.scheduleReconnect()
	assert.Equal(t, SessionReconnectPending, s.State())

	assert.Eventually(t, s.IsConnected, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, int32(1), wc.hits.Load(), "exactly one reconnect attempt expected")
}

func TestSession_SingleTimerArmed(t *testing.T) {
	id := NewIdentity(testAccessPointID, "")
	s := NewSession(id, NewRESTClient(id, RESTOptions{}, newTestLogger()), NewMirror(), SessionOptions{ReconnectDelay: time.Hour}, newTestLogger())

	var armed int
	s.afterFunc = func(d time.Duration, f func()) *time.Timer {
		armed++
		assert.Equal(t, time.Hour, d)
		return time.AfterFunc(d, f)
	}

	s.scheduleReconnect()
	first := s.reconnectTimer
	s.scheduleReconnect()

	assert.Equal(t, 2, armed)
	assert.NotSame(t, first, s.reconnectTimer)
	assert.False(t, first.Stop(), "the replaced timer must already be stopped")

	s.Dispose()
}

func TestSession_StaleTimerDoesNotReconnect(t *testing.T) {
	wc := newWSCloud(t, nil)
	s, _, _ := newTestSession(t, wc, SessionOptions{ReconnectDelay: time.Hour})

	s.mu.Lock()
	staleGen := s.reconnectGen
	s.mu.Unlock()

	s.scheduleReconnect()
	s.reconnect(staleGen)

	assert.Equal(t, int32(0), wc.hits.Load())
	assert.Equal(t, SessionReconnectPending, s.State())
}

func TestSession_DisposeIsFinal(t *testing.T) {
	wc := newWSCloud(t, nil)
	s, _, _ := newTestSession(t, wc, SessionOptions{ReconnectDelay: 20 * time.Millisecond})

	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, int32(1), wc.hits.Load())

	var closedCode atomic.Int32
	s.SetClosedHandler(func(code int, _ string) { closedCode.Store(int32(code)) })

	s.Dispose()
	assert.Equal(t, SessionDisposed, s.State())
	assert.Equal(t, int32(websocket.CloseNormalClosure), closedCode.Load())

	// A failure racing with dispose must not arm a timer
	s.scheduleReconnect()
	s.mu.Lock()
	assert.Nil(t, s.reconnectTimer)
	s.mu.Unlock()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), wc.hits.Load(), "no reconnect after dispose")
	assert.ErrorIs(t, s.Connect(context.Background()), ErrSessionDisposed)

	// Idempotent
	s.Dispose()
}

func TestSession_DisposeCancelsPendingReconnect(t *testing.T) {
	wc := newWSCloud(t, nil)
	s, _, _ := newTestSession(t, wc, SessionOptions{ReconnectDelay: 30 * time.Millisecond})

	s.scheduleReconnect()
	s.Dispose()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), wc.hits.Load())
}

func TestSession_ReconnectsAfterServerClose(t *testing.T) {
	var conns atomic.Int32
	wc := newWSCloud(t, func(conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance"))
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	s, _, _ := newTestSession(t, wc, SessionOptions{ReconnectDelay: 20 * time.Millisecond})

	closed := make(chan int, 4)
	s.SetClosedHandler(func(code int, _ string) { closed <- code })

	require.NoError(t, s.Connect(context.Background()))

	select {
	case code := <-closed:
		assert.Equal(t, websocket.CloseGoingAway, code)
	case <-time.After(2 * time.Second):
		t.Fatal("closed handler not called")
	}

	assert.Eventually(t, func() bool {
		return wc.hits.Load() == 2 && s.IsConnected()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_UnexpectedResponse(t *testing.T) {
	wc := newWSCloud(t, nil)
	wc.reject.Store(http.StatusUnauthorized)
	s, _, _ := newTestSession(t, wc, SessionOptions{ReconnectDelay: time.Hour})

	var status atomic.Int32
	var errorCalled atomic.Bool
	s.SetUnexpectedResponseHandler(func(code int, body []byte) {
		status.Store(int32(code))
		assert.Contains(t, string(body), "INVALID_AUTH_TOKEN")
	})
	s.SetErrorHandler(func(error) { errorCalled.Store(true) })

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(http.StatusUnauthorized), status.Load())
	assert.False(t, errorCalled.Load(), "handshake rejections go to the unexpected response handler")
	assert.Equal(t, SessionReconnectPending, s.State())
}

func TestSession_DialErrorCallsErrorHandler(t *testing.T) {
	id := NewIdentity(testAccessPointID, "")
	rest := NewRESTClient(id, RESTOptions{}, newTestLogger())
	rest.SetHosts(Hosts{RESTURL: "http://127.0.0.1:1", WebSocketURL: "ws://127.0.0.1:1"})
	s := NewSession(id, rest, NewMirror(), SessionOptions{ReconnectDelay: time.Hour}, newTestLogger())
	s.SetAuthToken("TOKEN")
	defer s.Dispose()

	var gotErr atomic.Bool
	s.SetErrorHandler(func(error) { gotErr.Store(true) })

	require.Error(t, s.Connect(context.Background()))
	assert.True(t, gotErr.Load())
	assert.Equal(t, SessionReconnectPending, s.State())
}

func TestSession_DialFailureAfterDisposeIsSilent(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	id := NewIdentity(testAccessPointID, "")
	rest := NewRESTClient(id, RESTOptions{}, newTestLogger())
	rest.SetHosts(Hosts{RESTURL: server.URL, WebSocketURL: server.URL})
	s := NewSession(id, rest, NewMirror(), SessionOptions{ReconnectDelay: time.Hour}, newTestLogger())
	s.SetAuthToken("TOKEN")

	var unexpected, errored atomic.Bool
	s.SetUnexpectedResponseHandler(func(int, []byte) { unexpected.Store(true) })
	s.SetErrorHandler(func(error) { errored.Store(true) })

	done := make(chan error, 1)
	go func() { done <- s.Connect(context.Background()) }()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake never reached the server")
	}
	s.Dispose()
	close(release)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return")
	}

	assert.False(t, unexpected.Load())
	assert.False(t, errored.Load())
	assert.Equal(t, SessionDisposed, s.State())
}
