package websocket

import (
	"sync"
	"time"

	"github.com/frostdev-ops/hmip-go/internal/adapters/hmip"
	"github.com/sirupsen/logrus"
)

const heartbeatPeriod = 30 * time.Second

// outbound is a serialized message plus the event type used for subscription filtering.
// eventType is empty for messages every client receives.
type outbound struct {
	data      []byte
	eventType hmip.EventType
}

type directMessage struct {
	client *Client
	data   []byte
}

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	direct     chan directMessage
	done       chan struct{}
	stopOnce   sync.Once

	logger *logrus.Logger

	mu    sync.RWMutex
	stats HubStats
}

// HubStats contains hub statistics
type HubStats struct {
	ConnectedClients int       `json:"connected_clients"`
	TotalConnections int64     `json:"total_connections"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesDropped  int64     `json:"messages_dropped"`
	LastActivity     time.Time `json:"last_activity"`
}

// NewHub creates a new WebSocket hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan directMessage),
		done:       make(chan struct{}),
		logger:     logger,
		stats:      HubStats{LastActivity: time.Now()},
	}
}

// Run handles registration and broadcasting until Close
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")

	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)

		case msg := <-h.direct:
			h.sendDirect(msg)

		case <-ticker.C:
			h.broadcastMessage(outbound{data: Message{
				Type: MessageTypeHeartbeat,
				Data: map[string]interface{}{"clients": h.GetClientCount()},
			}.ToJSON()})

		case <-h.done:
			h.closeAll()
			h.logger.Info("WebSocket hub stopped")
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ConnectedClients = len(h.clients)
	h.stats.LastActivity = time.Now()
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"client_id":         client.ID,
		"remote_addr":       client.RemoteAddr,
		"connected_clients": count,
	}).Info("WebSocket client connected")

	client.send <- Message{
		Type: MessageTypeConnection,
		Data: map[string]interface{}{
			"status":    "connected",
			"client_id": client.ID,
		},
	}.ToJSON()
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.stats.ConnectedClients = len(h.clients)
	h.stats.LastActivity = time.Now()

	h.logger.WithFields(logrus.Fields{
		"client_id":         client.ID,
		"connected_clients": len(h.clients),
	}).Info("WebSocket client disconnected")
}

// broadcastMessage runs on the Run goroutine, so slow clients are dropped inline
func (h *Hub) broadcastMessage(msg outbound) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if msg.eventType == "" || client.wants(msg.eventType) {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clients {
		select {
		case client.send <- msg.data:
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		h.logger.WithField("client_id", client.ID).Warn("WebSocket client too slow, disconnecting")
		h.unregisterClient(client)
	}

	h.mu.Lock()
	h.stats.MessagesSent++
	h.stats.LastActivity = time.Now()
	h.mu.Unlock()
}

func (h *Hub) sendDirect(msg directMessage) {
	h.mu.RLock()
	registered := h.clients[msg.client]
	h.mu.RUnlock()
	if !registered {
		return
	}
	select {
	case msg.client.send <- msg.data:
	default:
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.stats.ConnectedClients = 0
}

func (h *Hub) enqueue(msg outbound) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.mu.Lock()
		h.stats.MessagesDropped++
		h.mu.Unlock()
		h.logger.Warn("Broadcast channel is full, message dropped")
	}
}

// BroadcastToAll broadcasts a message to all connected clients
func (h *Hub) BroadcastToAll(message Message) {
	h.enqueue(outbound{data: message.ToJSON()})
}

// HandleEvent forwards a cloud event to clients subscribed to its type
func (h *Hub) HandleEvent(ev hmip.Event) error {
	h.enqueue(outbound{data: EventMessage(ev).ToJSON(), eventType: ev.PushEventType})
	return nil
}

func (h *Hub) PublishSnapshot(m *hmip.Mirror) error {
	h.BroadcastToAll(SnapshotMessage(m.Counts()))
	return nil
}

func (h *Hub) SetConnected(connected bool) error {
	h.BroadcastToAll(SessionStatusMessage(connected))
	return nil
}

// Close stops Run and disconnects every client
func (h *Hub) Close() error {
	h.stopOnce.Do(func() { close(h.done) })
	return nil
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := h.stats
	stats.ConnectedClients = len(h.clients)
	return stats
}

// GetClientCount returns the current number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
