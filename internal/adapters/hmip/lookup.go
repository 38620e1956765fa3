package hmip

import (
	"encoding/json"
	"runtime"
	"strings"
)

const (
	// DefaultLookupURL is the vendor discovery endpoint
	DefaultLookupURL = "https://lookup.homematic.com:48335/getHost"

	apiVersion            = "10"
	applicationIdentifier = "hmip-go"
	applicationVersion    = "1.0"
)

// ClientCharacteristics describes this client to the cloud. All values are fixed.
type ClientCharacteristics struct {
	APIVersion            string `json:"apiVersion"`
	ApplicationIdentifier string `json:"applicationIdentifier"`
	ApplicationVersion    string `json:"applicationVersion"`
	DeviceManufacturer    string `json:"deviceManufacturer"`
	DeviceType            string `json:"deviceType"`
	Language              string `json:"language"`
	OSType                string `json:"osType"`
	OSVersion             string `json:"osVersion"`
}

// DefaultClientCharacteristics returns the characteristics sent on lookup and state fetch
func DefaultClientCharacteristics() ClientCharacteristics {
	return ClientCharacteristics{
		APIVersion:            apiVersion,
		ApplicationIdentifier: applicationIdentifier,
		ApplicationVersion:    applicationVersion,
		DeviceManufacturer:    "none",
		DeviceType:            "Computer",
		Language:              "en_US",
		OSType:                runtime.GOOS,
		OSVersion:             "unknown",
	}
}

// Hosts are the per access point endpoints returned by the lookup service
type Hosts struct {
	RESTURL      string `json:"urlREST"`
	WebSocketURL string `json:"urlWebSocket"`
}

// Resolved reports whether both endpoints are known
func (h Hosts) Resolved() bool {
	return h.RESTURL != "" && h.WebSocketURL != ""
}

type lookupRequest struct {
	ClientCharacteristics ClientCharacteristics `json:"clientCharacteristics"`
	ID                    string                `json:"id"`
}

// parseHosts decodes a lookup response and normalizes both URLs
func parseHosts(data []byte) (Hosts, error) {
	var hosts Hosts
	if err := json.Unmarshal(data, &hosts); err != nil {
		return Hosts{}, NewHmIPError(KindHostResolution, "Failed to parse lookup response", err)
	}

	hosts.RESTURL = strings.TrimSuffix(strings.TrimSpace(hosts.RESTURL), "/")
	hosts.WebSocketURL = NormalizeWebSocketURL(strings.TrimSpace(hosts.WebSocketURL))

	if !hosts.Resolved() {
		return Hosts{}, NewHmIPError(KindHostResolution, "Lookup response is missing urlREST or urlWebSocket", nil)
	}
	return hosts, nil
}

// NormalizeWebSocketURL maps http:// to ws:// and https:// to wss://.
// URLs that already use a websocket scheme are returned unchanged.
func NormalizeWebSocketURL(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "https://"):
		return "wss://" + raw[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		return "ws://" + raw[len("http://"):]
	default:
		return raw
	}
}
