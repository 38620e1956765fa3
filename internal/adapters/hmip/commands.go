package hmip

import (
	"context"
	"fmt"
	"time"
)

// Commands wraps the REST gateway with typed calls. Results are observed later through
// events; the calls only report whether the cloud accepted them.
type Commands struct {
	rest RESTClient
}

// NewCommands creates the command surface on top of rest
func NewCommands(rest RESTClient) *Commands {
	return &Commands{rest: rest}
}

func (c *Commands) call(ctx context.Context, path string, body map[string]interface{}) error {
	if !c.rest.HasAuthToken() {
		return ErrNotPaired
	}
	_, err := c.rest.Call(ctx, path, body)
	return err
}

func channelBody(deviceID string, channelIndex int) map[string]interface{} {
	return map[string]interface{}{
		"deviceId":     deviceID,
		"channelIndex": channelIndex,
	}
}

// LockState is the target state of a door lock
type LockState string

const (
	LockStateLocked   LockState = "LOCKED"
	LockStateUnlocked LockState = "UNLOCKED"
	LockStateOpen     LockState = "OPEN"
)

// DoorCommand is sent to garage door and gate drives
type DoorCommand string

const (
	DoorCommandOpen    DoorCommand = "OPEN"
	DoorCommandClose   DoorCommand = "CLOSE"
	DoorCommandStop    DoorCommand = "STOP"
	DoorCommandPartial DoorCommand = "PARTIAL_OPEN"
)

// RGBColor is a simple RGB color state of a notification light
type RGBColor string

const (
	RGBBlack     RGBColor = "BLACK"
	RGBBlue      RGBColor = "BLUE"
	RGBGreen     RGBColor = "GREEN"
	RGBTurquoise RGBColor = "TURQUOISE"
	RGBRed       RGBColor = "RED"
	RGBPurple    RGBColor = "PURPLE"
	RGBYellow    RGBColor = "YELLOW"
	RGBWhite     RGBColor = "WHITE"
)

// ClimateControlMode is the control mode of a heating group
type ClimateControlMode string

const (
	ClimateControlAutomatic ClimateControlMode = "AUTOMATIC"
	ClimateControlManual    ClimateControlMode = "MANUAL"
	ClimateControlEco       ClimateControlMode = "ECO"
)

// AcousticAlarmSignal is the sound of an alarm siren
type AcousticAlarmSignal string

// OpticalAlarmSignal is the light pattern of an alarm siren
type OpticalAlarmSignal string

// Device control

func (c *Commands) SetSwitchState(ctx context.Context, deviceID string, channelIndex int, on bool) error {
	body := channelBody(deviceID, channelIndex)
	body["on"] = on
	return c.call(ctx, "device/control/setSwitchState", body)
}

func (c *Commands) SetDimLevel(ctx context.Context, deviceID string, channelIndex int, dimLevel float64) error {
	body := channelBody(deviceID, channelIndex)
	body["dimLevel"] = dimLevel
	return c.call(ctx, "device/control/setDimLevel", body)
}

func (c *Commands) SetShutterLevel(ctx context.Context, deviceID string, channelIndex int, shutterLevel float64) error {
	body := channelBody(deviceID, channelIndex)
	body["shutterLevel"] = shutterLevel
	return c.call(ctx, "device/control/setShutterLevel", body)
}

func (c *Commands) SetSlatsLevel(ctx context.Context, deviceID string, channelIndex int, slatsLevel, shutterLevel float64) error {
	body := channelBody(deviceID, channelIndex)
	body["slatsLevel"] = slatsLevel
	body["shutterLevel"] = shutterLevel
	return c.call(ctx, "device/control/setSlatsLevel", body)
}

func (c *Commands) SetSimpleRGBColorDimLevel(ctx context.Context, deviceID string, channelIndex int, color RGBColor, dimLevel float64) error {
	body := channelBody(deviceID, channelIndex)
	body["simpleRGBColorState"] = color
	body["dimLevel"] = dimLevel
	return c.call(ctx, "device/control/setSimpleRGBColorDimLevel", body)
}

func (c *Commands) SetLockState(ctx context.Context, deviceID string, channelIndex int, state LockState, pin string) error {
	body := channelBody(deviceID, channelIndex)
	body["targetLockState"] = state
	body["authorizationPin"] = pin
	return c.call(ctx, "device/control/setLockState", body)
}

func (c *Commands) SendDoorCommand(ctx context.Context, deviceID string, channelIndex int, command DoorCommand) error {
	body := channelBody(deviceID, channelIndex)
	body["doorCommand"] = command
	return c.call(ctx, "device/control/sendDoorCommand", body)
}

func (c *Commands) Stop(ctx context.Context, deviceID string, channelIndex int) error {
	return c.call(ctx, "device/control/stop", channelBody(deviceID, channelIndex))
}

func (c *Commands) StartImpulse(ctx context.Context, deviceID string, channelIndex int) error {
	return c.call(ctx, "device/control/startImpulse", channelBody(deviceID, channelIndex))
}

// Device configuration

func (c *Commands) SetOperationLock(ctx context.Context, deviceID string, channelIndex int, locked bool) error {
	body := channelBody(deviceID, channelIndex)
	body["operationLock"] = locked
	return c.call(ctx, "device/configuration/setOperationLock", body)
}

func (c *Commands) SetClimateControlDisplay(ctx context.Context, deviceID string, channelIndex int, display string) error {
	body := channelBody(deviceID, channelIndex)
	body["display"] = display
	return c.call(ctx, "device/configuration/setClimateControlDisplay", body)
}

func (c *Commands) SetMinimumFloorHeatingValvePosition(ctx context.Context, deviceID string, channelIndex int, position float64) error {
	body := channelBody(deviceID, channelIndex)
	body["minimumFloorHeatingValvePosition"] = position
	return c.call(ctx, "device/configuration/setMinimumFloorHeatingValvePosition", body)
}

func (c *Commands) SetDeviceLabel(ctx context.Context, deviceID, label string) error {
	return c.call(ctx, "device/setDeviceLabel", map[string]interface{}{
		"deviceId": deviceID,
		"label":    label,
	})
}

func (c *Commands) DeleteDevice(ctx context.Context, deviceID string) error {
	return c.call(ctx, "device/deleteDevice", map[string]interface{}{"deviceId": deviceID})
}

// Groups

func (c *Commands) SetSetPointTemperature(ctx context.Context, groupID string, temperature float64) error {
	return c.call(ctx, "group/heating/setSetPointTemperature", map[string]interface{}{
		"groupId":             groupID,
		"setPointTemperature": temperature,
	})
}

func (c *Commands) SetBoost(ctx context.Context, groupID string, boost bool) error {
	return c.call(ctx, "group/heating/setBoost", map[string]interface{}{
		"groupId": groupID,
		"boost":   boost,
	})
}

func (c *Commands) SetControlMode(ctx context.Context, groupID string, mode ClimateControlMode) error {
	return c.call(ctx, "group/heating/setControlMode", map[string]interface{}{
		"groupId":     groupID,
		"controlMode": mode,
	})
}

func (c *Commands) SetActiveProfile(ctx context.Context, groupID string, profileIndex string) error {
	return c.call(ctx, "group/heating/setActiveProfile", map[string]interface{}{
		"groupId":      groupID,
		"profileIndex": profileIndex,
	})
}

func (c *Commands) TestSignalAcoustic(ctx context.Context, groupID string, signal AcousticAlarmSignal) error {
	return c.call(ctx, "group/switching/alarm/testSignalAcoustic", map[string]interface{}{
		"groupId":        groupID,
		"signalAcoustic": signal,
	})
}

func (c *Commands) SetSignalAcoustic(ctx context.Context, groupID string, signal AcousticAlarmSignal) error {
	return c.call(ctx, "group/switching/alarm/setSignalAcoustic", map[string]interface{}{
		"groupId":        groupID,
		"signalAcoustic": signal,
	})
}

func (c *Commands) TestSignalOptical(ctx context.Context, groupID string, signal OpticalAlarmSignal) error {
	return c.call(ctx, "group/switching/alarm/testSignalOptical", map[string]interface{}{
		"groupId":       groupID,
		"signalOptical": signal,
	})
}

func (c *Commands) SetSignalOptical(ctx context.Context, groupID string, signal OpticalAlarmSignal) error {
	return c.call(ctx, "group/switching/alarm/setSignalOptical", map[string]interface{}{
		"groupId":       groupID,
		"signalOptical": signal,
	})
}

// Clients

func (c *Commands) DeleteClient(ctx context.Context, clientID string) error {
	return c.call(ctx, "client/deleteClient", map[string]interface{}{"clientId": clientID})
}

// Home

// FormatEndTime renders t in the cloud's "YYYY_MM_DD HH:MM" format
func FormatEndTime(t time.Time) string {
	return t.Format("2006_01_02 15:04")
}

func (c *Commands) ActivateAbsenceWithPeriod(ctx context.Context, endTime time.Time) error {
	return c.call(ctx, "home/heating/activateAbsenceWithPeriod", map[string]interface{}{
		"endTime": FormatEndTime(endTime),
	})
}

// ActivateAbsenceWithDuration activates eco mode for d, rounded down to whole minutes
func (c *Commands) ActivateAbsenceWithDuration(ctx context.Context, d time.Duration) error {
	minutes := int(d / time.Minute)
	if minutes <= 0 {
		return fmt.Errorf("absence duration must be at least one minute, got %s", d)
	}
	return c.call(ctx, "home/heating/activateAbsenceWithDuration", map[string]interface{}{
		"duration": minutes,
	})
}

func (c *Commands) ActivateAbsencePermanent(ctx context.Context) error {
	return c.call(ctx, "home/heating/activateAbsencePermanent", map[string]interface{}{})
}

func (c *Commands) DeactivateAbsence(ctx context.Context) error {
	return c.call(ctx, "home/heating/deactivateAbsence", map[string]interface{}{})
}

func (c *Commands) ActivateVacation(ctx context.Context, endTime time.Time, temperature float64) error {
	return c.call(ctx, "home/heating/activateVacation", map[string]interface{}{
		"endTime":     FormatEndTime(endTime),
		"temperature": temperature,
	})
}

func (c *Commands) DeactivateVacation(ctx context.Context) error {
	return c.call(ctx, "home/heating/deactivateVacation", map[string]interface{}{})
}

func (c *Commands) SetIntrusionAlertThroughSmokeDetectors(ctx context.Context, enabled bool) error {
	return c.call(ctx, "home/security/setIntrusionAlertThroughSmokeDetectors", map[string]interface{}{
		"intrusionAlertThroughSmokeDetectors": enabled,
	})
}

// SetZonesActivation arms or disarms the internal and external security zones
func (c *Commands) SetZonesActivation(ctx context.Context, internal, external bool) error {
	return c.call(ctx, "home/security/setZonesActivation", map[string]interface{}{
		"zonesActivation": map[string]bool{
			"INTERNAL": internal,
			"EXTERNAL": external,
		},
	})
}
