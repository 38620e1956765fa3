package hmip

import (
	"sync"
)

// Mirror is the in-memory copy of the access point's entities. It is replaced as a whole
// by a state fetch and updated per entity by events; changed entities are replaced, never
// merged field by field.
type Mirror struct {
	mu      sync.RWMutex
	home    *Home
	groups  map[string]*Group
	clients map[string]*Client
	devices map[string]*Device
}

// MirrorCounts summarizes the mirror
type MirrorCounts struct {
	Devices int  `json:"devices"`
	Groups  int  `json:"groups"`
	Clients int  `json:"clients"`
	HasHome bool `json:"has_home"`
}

// NewMirror creates an empty mirror
func NewMirror() *Mirror {
	return &Mirror{
		groups:  make(map[string]*Group),
		clients: make(map[string]*Client),
		devices: make(map[string]*Device),
	}
}

// Replace swaps in a complete state
func (m *Mirror) Replace(state *CurrentState) {
	groups := make(map[string]*Group, len(state.Groups))
	for id, g := range state.Groups {
		if g == nil {
			continue
		}
		groups[keyOr(g.ID, id)] = g
	}
	clients := make(map[string]*Client, len(state.Clients))
	for id, c := range state.Clients {
		if c == nil {
			continue
		}
		clients[keyOr(c.ID, id)] = c
	}
	devices := make(map[string]*Device, len(state.Devices))
	for id, d := range state.Devices {
		if d == nil {
			continue
		}
		devices[keyOr(d.ID, id)] = d
	}

	m.mu.Lock()
	m.home = state.Home
	m.groups = groups
	m.clients = clients
	m.devices = devices
	m.mu.Unlock()
}

// ApplyEvent mutates the mirror according to the event tag. It reports whether the
// mirror changed; unknown tags and events without payload leave it untouched.
func (m *Mirror) ApplyEvent(ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.PushEventType {
	case EventDeviceAdded, EventDeviceChanged:
		if ev.Device == nil || ev.Device.ID == "" {
			return false
		}
		m.devices[ev.Device.ID] = ev.Device
	case EventGroupAdded, EventGroupChanged:
		if ev.Group == nil || ev.Group.ID == "" {
			return false
		}
		m.groups[ev.Group.ID] = ev.Group
	case EventClientAdded, EventClientChanged:
		if ev.Client == nil || ev.Client.ID == "" {
			return false
		}
		m.clients[ev.Client.ID] = ev.Client
	case EventDeviceRemoved:
		return deleteKey(m.devices, ev.RemovedID())
	case EventGroupRemoved:
		return deleteKey(m.groups, ev.RemovedID())
	case EventClientRemoved:
		return deleteKey(m.clients, ev.RemovedID())
	case EventHomeChanged:
		if ev.Home == nil {
			return false
		}
		m.home = ev.Home
	default:
		return false
	}
	return true
}

func (m *Mirror) Device(id string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	return d, ok
}

func (m *Mirror) Group(id string) (*Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	return g, ok
}

func (m *Mirror) ClientEntry(id string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	return c, ok
}

// Home returns the home singleton, nil before the first state fetch
func (m *Mirror) Home() *Home {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.home
}

// Devices returns a copy of the devices collection
func (m *Mirror) Devices() map[string]*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyMap(m.devices)
}

// Groups returns a copy of the groups collection
func (m *Mirror) Groups() map[string]*Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyMap(m.groups)
}

// Clients returns a copy of the clients collection
func (m *Mirror) Clients() map[string]*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyMap(m.clients)
}

func (m *Mirror) Counts() MirrorCounts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MirrorCounts{
		Devices: len(m.devices),
		Groups:  len(m.groups),
		Clients: len(m.clients),
		HasHome: m.home != nil,
	}
}

func keyOr(id, fallback string) string {
	if id != "" {
		return id
	}
	return fallback
}

func deleteKey[V any](m map[string]V, id string) bool {
	if id == "" {
		return false
	}
	if _, ok := m[id]; !ok {
		return false
	}
	delete(m, id)
	return true
}

func copyMap[V any](src map[string]V) map[string]V {
	out := make(map[string]V, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
