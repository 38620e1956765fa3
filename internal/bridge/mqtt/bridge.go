package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/frostdev-ops/hmip-go/internal/adapters/hmip"
	"github.com/sirupsen/logrus"
)

// StatusTopic carries "online"/"offline" for the bridge process itself
func StatusTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/status"
}

// Bridge republishes mirror changes to MQTT. Entity topics are retained so a new
// subscriber sees the current state; removals clear the retained message. A snapshot
// also clears entities retained earlier that are no longer in the mirror.
type Bridge struct {
	pub    Publisher
	prefix string
	logger *logrus.Logger

	// mu serializes events and snapshots; retained holds the entity topics this
	// process left a retained message on
	mu       sync.Mutex
	retained map[string]struct{}
}

// NewBridge creates a bridge publishing below prefix
func NewBridge(pub Publisher, prefix string, logger *logrus.Logger) *Bridge {
	return &Bridge{
		pub:      pub,
		prefix:   strings.TrimSuffix(prefix, "/"),
		logger:   logger,
		retained: make(map[string]struct{}),
	}
}

func (b *Bridge) DeviceTopic(id string) string { return b.prefix + "/devices/" + id }
func (b *Bridge) GroupTopic(id string) string  { return b.prefix + "/groups/" + id }
func (b *Bridge) ClientTopic(id string) string { return b.prefix + "/clients/" + id }
func (b *Bridge) HomeTopic() string            { return b.prefix + "/home" }
func (b *Bridge) EventsTopic() string          { return b.prefix + "/events" }
func (b *Bridge) ConnectedTopic() string       { return b.prefix + "/connected" }

// HandleEvent publishes the raw event and the resulting entity state
func (b *Bridge) HandleEvent(ev hmip.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.pub.Publish(b.EventsTopic(), raw, false); err != nil {
		return err
	}

	switch ev.PushEventType {
	case hmip.EventDeviceAdded, hmip.EventDeviceChanged:
		if ev.Device != nil {
			return b.publishEntity(b.DeviceTopic(ev.Device.ID), ev.Device, true)
		}
	case hmip.EventGroupAdded, hmip.EventGroupChanged:
		if ev.Group != nil {
			return b.publishEntity(b.GroupTopic(ev.Group.ID), ev.Group, true)
		}
	case hmip.EventClientAdded, hmip.EventClientChanged:
		if ev.Client != nil {
			return b.publishEntity(b.ClientTopic(ev.Client.ID), ev.Client, true)
		}
	case hmip.EventHomeChanged:
		if ev.Home != nil {
			return b.publishEntity(b.HomeTopic(), ev.Home, false)
		}
	case hmip.EventDeviceRemoved:
		return b.clear(b.DeviceTopic, ev.RemovedID())
	case hmip.EventGroupRemoved:
		return b.clear(b.GroupTopic, ev.RemovedID())
	case hmip.EventClientRemoved:
		return b.clear(b.ClientTopic, ev.RemovedID())
	}
	return nil
}

// PublishSnapshot publishes every entity currently in the mirror and clears the
// retained topics of entities that disappeared since they were published
func (b *Bridge) PublishSnapshot(m *hmip.Mirror) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var failed int
	current := make(map[string]struct{})

	if home := m.Home(); home != nil {
		if err := b.publishEntity(b.HomeTopic(), home, false); err != nil {
			failed++
		}
	}
	for id, d := range m.Devices() {
		current[b.DeviceTopic(id)] = struct{}{}
		if err := b.publishEntity(b.DeviceTopic(id), d, true); err != nil {
			failed++
		}
	}
	for id, g := range m.Groups() {
		current[b.GroupTopic(id)] = struct{}{}
		if err := b.publishEntity(b.GroupTopic(id), g, true); err != nil {
			failed++
		}
	}
	for id, c := range m.Clients() {
		current[b.ClientTopic(id)] = struct{}{}
		if err := b.publishEntity(b.ClientTopic(id), c, true); err != nil {
			failed++
		}
	}

	var cleared int
	for topic := range b.retained {
		if _, ok := current[topic]; ok {
			continue
		}
		if err := b.clearTopic(topic); err != nil {
			failed++
			continue
		}
		cleared++
	}

	counts := m.Counts()
	b.logger.WithFields(logrus.Fields{
		"devices": counts.Devices,
		"groups":  counts.Groups,
		"clients": counts.Clients,
		"cleared": cleared,
		"failed":  failed,
	}).Info("Published HmIP snapshot to MQTT")

	if failed > 0 {
		return fmt.Errorf("%w: %d entities not published", ErrPublishFailed, failed)
	}
	return nil
}

// SetConnected publishes the cloud session state
func (b *Bridge) SetConnected(connected bool) error {
	payload := "false"
	if connected {
		payload = "true"
	}
	return b.pub.Publish(b.ConnectedTopic(), []byte(payload), true)
}

func (b *Bridge) Close() error {
	return b.pub.Close()
}

// publishEntity publishes a retained entity; track records the topic for later clearing
func (b *Bridge) publishEntity(topic string, entity interface{}, track bool) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", topic, err)
	}
	if err := b.pub.Publish(topic, payload, true); err != nil {
		b.logger.WithFields(logrus.Fields{
			"topic": topic,
			"error": err.Error(),
		}).Warn("MQTT publish failed")
		return err
	}
	if track {
		b.retained[topic] = struct{}{}
	}
	return nil
}

func (b *Bridge) clear(topicFor func(string) string, id string) error {
	if id == "" {
		return nil
	}
	return b.clearTopic(topicFor(id))
}

// clearTopic removes the retained message on topic
func (b *Bridge) clearTopic(topic string) error {
	if err := b.pub.Publish(topic, nil, true); err != nil {
		return err
	}
	delete(b.retained, topic)
	return nil
}
