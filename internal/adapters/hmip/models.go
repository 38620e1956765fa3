package hmip

import (
	"encoding/json"
)

// EventType is the pushEventType tag of a WebSocket event
type EventType string

const (
	EventDeviceAdded   EventType = "DEVICE_ADDED"
	EventDeviceChanged EventType = "DEVICE_CHANGED"
	EventDeviceRemoved EventType = "DEVICE_REMOVED"
	EventGroupAdded    EventType = "GROUP_ADDED"
	EventGroupChanged  EventType = "GROUP_CHANGED"
	EventGroupRemoved  EventType = "GROUP_REMOVED"
	EventClientAdded   EventType = "CLIENT_ADDED"
	EventClientChanged EventType = "CLIENT_CHANGED"
	EventClientRemoved EventType = "CLIENT_REMOVED"
	EventHomeChanged   EventType = "HOME_CHANGED"
)

// Function type aliases for cleaner interfaces
type EventHandler func(event Event)
type DataHandler func(data []byte)
type ErrorHandler func(err error)
type ConnectionStateHandler func(connected bool)
type UnexpectedResponseHandler func(statusCode int, body []byte)

// Event is one element of a pushed event batch. Raw holds the element exactly as received.
type Event struct {
	PushEventType EventType       `json:"pushEventType"`
	ID            string          `json:"id,omitempty"`
	Device        *Device         `json:"device,omitempty"`
	Group         *Group          `json:"group,omitempty"`
	Client        *Client         `json:"client,omitempty"`
	Home          *Home           `json:"home,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the original bytes of the event
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = Event(a)
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the original bytes when the event was decoded from the wire
func (e Event) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	type alias Event
	return json.Marshal(alias(e))
}

// RemovedID returns the id a *_REMOVED event refers to
func (e Event) RemovedID() string {
	if e.ID != "" {
		return e.ID
	}
	switch {
	case e.Device != nil:
		return e.Device.ID
	case e.Group != nil:
		return e.Group.ID
	case e.Client != nil:
		return e.Client.ID
	}
	return ""
}

// EventBatch is a decoded WebSocket text frame
type EventBatch struct {
	Events        json.RawMessage `json:"events"`
	AccessPointID string          `json:"accessPointId,omitempty"`
}

// FunctionalChannel is a sub-addressable capability of a device
type FunctionalChannel struct {
	Index                 int      `json:"index"`
	FunctionalChannelType string   `json:"functionalChannelType"`
	Label                 string   `json:"label,omitempty"`
	DeviceID              string   `json:"deviceId,omitempty"`
	GroupIndex            int      `json:"groupIndex,omitempty"`
	Groups                []string `json:"groups,omitempty"`
}

// Device is a physical device paired with the access point
type Device struct {
	ID                   string                       `json:"id"`
	Type                 string                       `json:"type"`
	Label                string                       `json:"label,omitempty"`
	ModelType            string                       `json:"modelType,omitempty"`
	OEM                  string                       `json:"oem,omitempty"`
	FirmwareVersion      string                       `json:"firmwareVersion,omitempty"`
	LastStatusUpdate     int64                        `json:"lastStatusUpdate,omitempty"`
	PermanentlyReachable bool                         `json:"permanentlyReachable,omitempty"`
	UpdateState          string                       `json:"updateState,omitempty"`
	FunctionalChannels   map[string]FunctionalChannel `json:"functionalChannels,omitempty"`
	Raw                  json.RawMessage              `json:"-"`
}

// Group is a logical group of devices (rooms, heating, alarm switching, ...)
type Group struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	Label            string          `json:"label,omitempty"`
	Channels         []GroupChannel  `json:"channels,omitempty"`
	LastStatusUpdate int64           `json:"lastStatusUpdate,omitempty"`
	Unreach          *bool           `json:"unreach,omitempty"`
	Raw              json.RawMessage `json:"-"`
}

// GroupChannel references a device channel that belongs to a group
type GroupChannel struct {
	DeviceID     string `json:"deviceId"`
	ChannelIndex int    `json:"channelIndex"`
}

// Client is an app or integration registered at the access point
type Client struct {
	ID             string          `json:"id"`
	Label          string          `json:"label,omitempty"`
	HomeID         string          `json:"homeId,omitempty"`
	CreatedAtTime  int64           `json:"createdAtTimestamp,omitempty"`
	LastSeenAtTime int64           `json:"lastSeenAtTimestamp,omitempty"`
	ClientType     string          `json:"clientType,omitempty"`
	Raw            json.RawMessage `json:"-"`
}

// Home is the singleton home object of the access point
type Home struct {
	ID                 string          `json:"id"`
	Connected          bool            `json:"connected"`
	CurrentAPVersion   string          `json:"currentAPVersion,omitempty"`
	AvailableAPVersion string          `json:"availableAPVersion,omitempty"`
	TimeZoneID         string          `json:"timeZoneId,omitempty"`
	DutyCycle          float64         `json:"dutyCycle,omitempty"`
	Location           *Location       `json:"location,omitempty"`
	Raw                json.RawMessage `json:"-"`
}

// Location is the configured home location
type Location struct {
	City      string `json:"city,omitempty"`
	Latitude  string `json:"latitude,omitempty"`
	Longitude string `json:"longitude,omitempty"`
}

// CurrentState is the response of home/getCurrentState
type CurrentState struct {
	Home    *Home              `json:"home"`
	Groups  map[string]*Group  `json:"groups"`
	Clients map[string]*Client `json:"clients"`
	Devices map[string]*Device `json:"devices"`
}

func (d *Device) UnmarshalJSON(data []byte) error {
	type alias Device
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*d = Device(a)
	d.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (d Device) MarshalJSON() ([]byte, error) {
	if len(d.Raw) > 0 {
		return d.Raw, nil
	}
	type alias Device
	return json.Marshal(alias(d))
}

func (g *Group) UnmarshalJSON(data []byte) error {
	type alias Group
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*g = Group(a)
	g.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (g Group) MarshalJSON() ([]byte, error) {
	if len(g.Raw) > 0 {
		return g.Raw, nil
	}
	type alias Group
	return json.Marshal(alias(g))
}

func (c *Client) UnmarshalJSON(data []byte) error {
	type alias Client
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = Client(a)
	c.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (c Client) MarshalJSON() ([]byte, error) {
	if len(c.Raw) > 0 {
		return c.Raw, nil
	}
	type alias Client
	return json.Marshal(alias(c))
}

func (h *Home) UnmarshalJSON(data []byte) error {
	type alias Home
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*h = Home(a)
	h.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (h Home) MarshalJSON() ([]byte, error) {
	if len(h.Raw) > 0 {
		return h.Raw, nil
	}
	type alias Home
	return json.Marshal(alias(h))
}
