package websocket

import (
	"encoding/json"
	"time"

	"github.com/frostdev-ops/hmip-go/internal/adapters/hmip"
)

// Message types for WebSocket communication
const (
	MessageTypeHmIPEvent     = "hmip_event"
	MessageTypeSessionStatus = "session_status"
	MessageTypeSnapshot      = "snapshot"

	MessageTypeConnection = "connection"
	MessageTypeHeartbeat  = "heartbeat"
	MessageTypePong       = "pong"

	// Client requests
	MessageTypeSubscribe = "subscribe"
	MessageTypePing      = "ping"
)

// Message represents a WebSocket message
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes
func (m Message) ToJSON() []byte {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	data, _ := json.Marshal(m)
	return data
}

// EventMessage wraps a pushed cloud event. The event is forwarded as received.
func EventMessage(ev hmip.Event) Message {
	return Message{
		Type: MessageTypeHmIPEvent,
		Data: map[string]interface{}{
			"event_type": ev.PushEventType,
			"event":      ev,
		},
	}
}

func SessionStatusMessage(connected bool) Message {
	return Message{
		Type: MessageTypeSessionStatus,
		Data: map[string]interface{}{
			"connected": connected,
		},
	}
}

// SnapshotMessage announces a full reload; clients refetch over the REST API
func SnapshotMessage(counts hmip.MirrorCounts) Message {
	return Message{
		Type: MessageTypeSnapshot,
		Data: map[string]interface{}{
			"devices":  counts.Devices,
			"groups":   counts.Groups,
			"clients":  counts.Clients,
			"has_home": counts.HasHome,
		},
	}
}
