package hmip

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededMirror() *Mirror {
	m := NewMirror()
	m.Replace(&CurrentState{
		Home:    &Home{ID: "H1"},
		Devices: map[string]*Device{"D1": {ID: "D1", Type: "PLUGABLE_SWITCH"}},
		Groups:  map[string]*Group{"G1": {ID: "G1", Type: "HEATING"}},
		Clients: map[string]*Client{"C1": {ID: "C1", Label: "phone"}},
	})
	return m
}

func TestMirror_Replace(t *testing.T) {
	m := seededMirror()

	assert.Equal(t, MirrorCounts{Devices: 1, Groups: 1, Clients: 1, HasHome: true}, m.Counts())

	m.Replace(&CurrentState{Devices: map[string]*Device{"D2": {ID: "D2"}}})
	_, ok := m.Device("D1")
	assert.False(t, ok, "replace must drop entities missing from the new state")
	_, ok = m.Device("D2")
	assert.True(t, ok)
	assert.Nil(t, m.Home())
	assert.Empty(t, m.Groups())
}

func TestMirror_ReplaceUsesMapKeyWhenIDMissing(t *testing.T) {
	m := NewMirror()
	m.Replace(&CurrentState{Devices: map[string]*Device{"D9": {Type: "X"}, "nil": nil}})

	d, ok := m.Device("D9")
	require.True(t, ok)
	assert.Equal(t, "X", d.Type)
	assert.Equal(t, 1, m.Counts().Devices)
}

func TestMirror_DeviceChangedIsIdempotent(t *testing.T) {
	m := seededMirror()
	ev := Event{PushEventType: EventDeviceChanged, Device: &Device{ID: "D1", Type: "X", Label: "Lamp"}}

	assert.True(t, m.ApplyEvent(ev))
	first, _ := m.Device("D1")
	firstCounts := m.Counts()

	assert.True(t, m.ApplyEvent(ev))
	second, _ := m.Device("D1")

	assert.Equal(t, first, second)
	assert.Equal(t, firstCounts, m.Counts())
	assert.Equal(t, "X", second.Type)
}

func TestMirror_ChangedReplacesWholeEntity(t *testing.T) {
	m := NewMirror()
	m.ApplyEvent(Event{PushEventType: EventDeviceAdded, Device: &Device{ID: "D1", Type: "A", Label: "old"}})
	m.ApplyEvent(Event{PushEventType: EventDeviceChanged, Device: &Device{ID: "D1", Type: "B"}})

	d, ok := m.Device("D1")
	require.True(t, ok)
	assert.Equal(t, "B", d.Type)
	assert.Empty(t, d.Label, "fields are replaced, not merged")
}

func TestMirror_RemovalsTouchOnlyTheirCollection(t *testing.T) {
	tests := []struct {
		name     string
		event    Event
		expected MirrorCounts
	}{
		{
			name:     "group removed",
			event:    Event{PushEventType: EventGroupRemoved, ID: "G1"},
			expected: MirrorCounts{Devices: 1, Groups: 0, Clients: 1, HasHome: true},
		},
		{
			name:     "client removed",
			event:    Event{PushEventType: EventClientRemoved, ID: "C1"},
			expected: MirrorCounts{Devices: 1, Groups: 1, Clients: 0, HasHome: true},
		},
		{
			name:     "device removed",
			event:    Event{PushEventType: EventDeviceRemoved, ID: "D1"},
			expected: MirrorCounts{Devices: 0, Groups: 1, Clients: 1, HasHome: true},
		},
		{
			name:     "device removed by nested id",
			event:    Event{PushEventType: EventDeviceRemoved, Device: &Device{ID: "D1"}},
			expected: MirrorCounts{Devices: 0, Groups: 1, Clients: 1, HasHome: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := seededMirror()
			assert.True(t, m.ApplyEvent(tt.event))
			assert.Equal(t, tt.expected, m.Counts())
		})
	}
}

func TestMirror_GroupRemovedWithSharedID(t *testing.T) {
	m := NewMirror()
	m.Replace(&CurrentState{
		Groups:  map[string]*Group{"X": {ID: "X"}},
		Clients: map[string]*Client{"X": {ID: "X"}},
	})

	m.ApplyEvent(Event{PushEventType: EventGroupRemoved, ID: "X"})

	_, groupOK := m.Group("X")
	_, clientOK := m.ClientEntry("X")
	assert.False(t, groupOK)
	assert.True(t, clientOK)
}

func TestMirror_UnknownAndEmptyEvents(t *testing.T) {
	m := seededMirror()
	before := m.Counts()

	assert.False(t, m.ApplyEvent(Event{PushEventType: "SECURITY_JOURNAL_CHANGED"}))
	assert.False(t, m.ApplyEvent(Event{PushEventType: EventDeviceChanged}))
	assert.False(t, m.ApplyEvent(Event{PushEventType: EventGroupRemoved, ID: "missing"}))
	assert.False(t, m.ApplyEvent(Event{PushEventType: EventHomeChanged}))

	assert.Equal(t, before, m.Counts())
}

func TestMirror_HomeChanged(t *testing.T) {
	m := seededMirror()
	assert.True(t, m.ApplyEvent(Event{PushEventType: EventHomeChanged, Home: &Home{ID: "H2"}}))
	assert.Equal(t, "H2", m.Home().ID)
}

func TestMirror_CopiesAreIndependent(t *testing.T) {
	m := seededMirror()

	devices := m.Devices()
	delete(devices, "D1")

	_, ok := m.Device("D1")
	assert.True(t, ok)
}

func TestDevice_PreservesRawFields(t *testing.T) {
	input := `{"id":"D1","type":"PLUGABLE_SWITCH","label":"Lamp","vendorSpecific":{"a":1}}`

	var d Device
	require.NoError(t, json.Unmarshal([]byte(input), &d))
	assert.Equal(t, "Lamp", d.Label)

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, input, string(out))
}
