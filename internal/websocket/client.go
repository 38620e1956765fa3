package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/frostdev-ops/hmip-go/internal/adapters/hmip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// Client is a middleman between the websocket connection and the hub
type Client struct {
	ID          string
	RemoteAddr  string
	UserAgent   string
	ConnectedAt time.Time

	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *logrus.Logger

	// Subscribed event types; empty means all
	mu     sync.RWMutex
	topics map[hmip.EventType]bool
}

// Handler upgrades admin clients to the live event feed. checkOrigin may be nil to
// accept any origin.
func Handler(hub *Hub, checkOrigin func(r *http.Request) bool) gin.HandlerFunc {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.logger.WithError(err).Warn("Failed to upgrade WebSocket connection")
			return
		}

		client := &Client{
			ID:          uuid.NewString(),
			RemoteAddr:  c.Request.RemoteAddr,
			UserAgent:   c.Request.UserAgent(),
			ConnectedAt: time.Now(),
			conn:        conn,
			send:        make(chan []byte, 256),
			hub:         hub,
			logger:      hub.logger,
			topics:      make(map[hmip.EventType]bool),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) wants(eventType hmip.EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.topics) == 0 || c.topics[eventType]
}

// Subscribe restricts the client to the given event types; none means all
func (c *Client) Subscribe(types []hmip.EventType) {
	c.mu.Lock()
	c.topics = make(map[hmip.EventType]bool, len(types))
	for _, t := range types {
		c.topics[t] = true
	}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"client_id":   c.ID,
		"event_types": types,
	}).Debug("WebSocket client subscription updated")
}

// readPump handles client requests until the connection fails
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Warn("WebSocket connection error")
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump owns all writes to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// subscribeRequest is the data of a "subscribe" message: {"event_types": ["DEVICE_CHANGED"]}
type subscribeRequest struct {
	Type string `json:"type"`
	Data struct {
		EventTypes []hmip.EventType `json:"event_types"`
	} `json:"data"`
}

func (c *Client) handleMessage(message []byte) {
	var req subscribeRequest
	if err := json.Unmarshal(message, &req); err != nil {
		c.logger.WithError(err).Debug("Failed to unmarshal WebSocket message")
		return
	}

	switch req.Type {
	case MessageTypeSubscribe:
		c.Subscribe(req.Data.EventTypes)
	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong, Data: map[string]interface{}{}})
	default:
		c.logger.WithField("message_type", req.Type).Debug("Unknown WebSocket message type")
	}
}

// reply queues a direct answer through the hub, which owns the send channel
func (c *Client) reply(msg Message) {
	select {
	case c.hub.direct <- directMessage{client: c, data: msg.ToJSON()}:
	case <-c.hub.done:
	}
}
