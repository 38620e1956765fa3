package hmip

import (
	"crypto/sha512"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// clientAuthSalt is appended to the access point id before hashing. The cloud
// validates CLIENTAUTH against the same value, so it must never change.
const clientAuthSalt = "jiLpVitHvWnIGD1yo7MA"

var nonHexPattern = regexp.MustCompile(`[^a-fA-F0-9 ]`)

// SanitizeAccessPointID strips everything outside [a-fA-F0-9 ] and upper-cases the rest.
// Access point ids are printed on the device as dash separated groups (3014-F711-...).
func SanitizeAccessPointID(accessPointID string) string {
	return strings.ToUpper(nonHexPattern.ReplaceAllString(accessPointID, ""))
}

// DeriveClientAuthToken returns the CLIENTAUTH header value for an access point
func DeriveClientAuthToken(accessPointID string) string {
	sum := sha512.Sum512([]byte(SanitizeAccessPointID(accessPointID) + clientAuthSalt))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// SaveData is everything a caller must persist to skip pairing on the next start
type SaveData struct {
	AccessPointID string `json:"accessPointId" yaml:"access_point_id"`
	AuthToken     string `json:"authToken" yaml:"auth_token"`
	ClientID      string `json:"clientId" yaml:"client_id"`
	DeviceID      string `json:"deviceId" yaml:"device_id"`
	Pin           string `json:"pin,omitempty" yaml:"pin,omitempty"`
}

// Credentials are issued by a successful pairing run
type Credentials struct {
	AuthToken string `json:"authToken"`
	ClientID  string `json:"clientId"`
}

// Valid reports whether both halves of the credentials are present
func (c Credentials) Valid() bool {
	return c.AuthToken != "" && c.ClientID != ""
}

// Identity identifies this client towards the cloud for one access point.
// The client auth token is derived from the access point id and cannot be set directly.
type Identity struct {
	accessPointID   string
	clientAuthToken string
	deviceID        string
	pin             string
}

// NewIdentity creates an identity with a freshly generated device id
func NewIdentity(accessPointID, pin string) *Identity {
	id := &Identity{
		deviceID: uuid.NewString(),
		pin:      pin,
	}
	id.SetAccessPointID(accessPointID)
	return id
}

// IdentityFromSaveData restores an identity, generating a device id if none was saved
func IdentityFromSaveData(data SaveData) *Identity {
	id := NewIdentity(data.AccessPointID, data.Pin)
	if data.DeviceID != "" {
		id.deviceID = data.DeviceID
	}
	return id
}

// SetAccessPointID replaces the access point id and recomputes the client auth token
func (i *Identity) SetAccessPointID(accessPointID string) {
	i.accessPointID = SanitizeAccessPointID(accessPointID)
	i.clientAuthToken = DeriveClientAuthToken(i.accessPointID)
}

func (i *Identity) AccessPointID() string   { return i.accessPointID }
func (i *Identity) ClientAuthToken() string { return i.clientAuthToken }
func (i *Identity) DeviceID() string        { return i.deviceID }
func (i *Identity) Pin() string             { return i.pin }
