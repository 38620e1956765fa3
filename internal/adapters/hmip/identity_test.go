package hmip

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveClientAuthToken(t *testing.T) {
	token := DeriveClientAuthToken(testAccessPointID)

	assert.Len(t, token, 128)
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{128}$`), token)
	assert.Equal(t,
		"A7AB9AC4BABDAE4E39265EA4EE2E937CFA1AC63BFE7FFA1F586CA82C4362148DFB36FEF8C7966615A0C368DC239BE249326DB439325FB16EF3B1017D51AE74F7",
		token)

	// Deterministic
	assert.Equal(t, token, DeriveClientAuthToken(testAccessPointID))
}

func TestDeriveClientAuthToken_SanitizesInput(t *testing.T) {
	expected := DeriveClientAuthToken(testAccessPointID)

	tests := []struct {
		name  string
		input string
	}{
		{"dashes", "3014-F711-A000-01D3-C99C-97A8"},
		{"lowercase", "3014f711a00001d3c99c97a8"},
		{"mixed garbage", "3014-f711-A000-01d3_C99C.97a8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, testAccessPointID, SanitizeAccessPointID(tt.input))
			assert.Equal(t, expected, DeriveClientAuthToken(tt.input))
		})
	}
}

func TestSanitizeAccessPointID_KeepsSpaces(t *testing.T) {
	assert.Equal(t, "3014 F711", SanitizeAccessPointID("3014 f711"))
}

func TestNewIdentity(t *testing.T) {
	id := NewIdentity("3014-f711-a000-01d3-c99c-97a8", "1234")

	assert.Equal(t, testAccessPointID, id.AccessPointID())
	assert.Equal(t, DeriveClientAuthToken(testAccessPointID), id.ClientAuthToken())
	assert.Equal(t, "1234", id.Pin())
	assert.NotEmpty(t, id.DeviceID())

	other := NewIdentity(testAccessPointID, "")
	assert.NotEqual(t, id.DeviceID(), other.DeviceID(), "device ids should be unique per identity")
}

func TestIdentity_SetAccessPointIDRecomputesToken(t *testing.T) {
	id := NewIdentity(testAccessPointID, "")
	before := id.ClientAuthToken()

	id.SetAccessPointID("3014F711A00001D3C99C97A9")

	assert.Equal(t, "3014F711A00001D3C99C97A9", id.AccessPointID())
	assert.NotEqual(t, before, id.ClientAuthToken())
	assert.Equal(t, DeriveClientAuthToken("3014F711A00001D3C99C97A9"), id.ClientAuthToken())
}

func TestIdentityFromSaveData(t *testing.T) {
	id := IdentityFromSaveData(SaveData{
		AccessPointID: testAccessPointID,
		DeviceID:      "device-1",
		Pin:           "9999",
	})
	assert.Equal(t, "device-1", id.DeviceID())
	assert.Equal(t, "9999", id.Pin())

	generated := IdentityFromSaveData(SaveData{AccessPointID: testAccessPointID})
	assert.NotEmpty(t, generated.DeviceID())
}

func TestSaveData_BeforePairing(t *testing.T) {
	c := NewController(testAccessPointID, "", Options{}, newTestLogger())

	data := c.SaveData()
	require.Equal(t, testAccessPointID, data.AccessPointID)
	assert.Empty(t, data.AuthToken)
	assert.Empty(t, data.ClientID)
	assert.NotEmpty(t, data.DeviceID)
	assert.False(t, c.IsPaired())
}

func TestCredentials_Valid(t *testing.T) {
	assert.True(t, Credentials{AuthToken: "a", ClientID: "b"}.Valid())
	assert.False(t, Credentials{AuthToken: "a"}.Valid())
	assert.False(t, Credentials{}.Valid())
}
