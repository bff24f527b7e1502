package meetsdk

import (
	"os"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Environment variables read by ICEConfigFromEnv.
const (
	envSTUNURL        = "MEET_STUN_URL"
	envTURNURLs       = "MEET_TURN_URLS"
	envTURNUsername   = "MEET_TURN_USERNAME"
	envTURNCredential = "MEET_TURN_CREDENTIAL"
	envForceRelay     = "MEET_FORCE_RELAY"
)

// DefaultSTUNURL is used when no STUN server is configured.
const DefaultSTUNURL = "stun:stun.l.google.com:19302"

// fallbackTURNServers are public relay servers used when the deployment
// does not provide its own TURN fleet.
var fallbackTURNServers = []webrtc.ICEServer{
	{
		URLs:       []string{"turn:openrelay.metered.ca:80"},
		Username:   "openrelayproject",
		Credential: "openrelayproject",
	},
	{
		URLs:       []string{"turn:openrelay.metered.ca:443"},
		Username:   "openrelayproject",
		Credential: "openrelayproject",
	},
}

// ICEConfig describes how to reach STUN/TURN infrastructure. Resolution
// is a pure function of this struct; no network calls are made.
type ICEConfig struct {
	STUNURL        string
	TURNURLs       []string
	TURNUsername   string
	TURNCredential string
	ForceRelay     bool
}

// ICEConfigFromEnv reads the MEET_* environment variables. TURN URLs
// are comma-separated.
func ICEConfigFromEnv() ICEConfig {
	return ICEConfig{
		STUNURL:        strings.TrimSpace(os.Getenv(envSTUNURL)),
		TURNURLs:       splitCommaSeparated(os.Getenv(envTURNURLs)),
		TURNUsername:   strings.TrimSpace(os.Getenv(envTURNUsername)),
		TURNCredential: strings.TrimSpace(os.Getenv(envTURNCredential)),
		ForceRelay:     parseBool(os.Getenv(envForceRelay)),
	}
}

// Servers resolves the ordered ICE server list. The STUN entry is
// always first and the result is never empty: when the TURN settings
// are incomplete the public fallback relays are appended instead.
func (c ICEConfig) Servers() []webrtc.ICEServer {
	stunURL := c.STUNURL
	if stunURL == "" {
		stunURL = DefaultSTUNURL
	}
	servers := []webrtc.ICEServer{{URLs: []string{stunURL}}}

	if len(c.TURNURLs) > 0 && c.TURNUsername != "" && c.TURNCredential != "" {
		for _, turnURL := range c.TURNURLs {
			servers = append(servers, webrtc.ICEServer{
				URLs:       []string{turnURL},
				Username:   c.TURNUsername,
				Credential: c.TURNCredential,
			})
		}
		return servers
	}

	return append(servers, fallbackTURNServers...)
}

// WebRTCConfiguration builds the peer connection configuration,
// honoring the relay-forcing policy.
func (c ICEConfig) WebRTCConfiguration() webrtc.Configuration {
	conf := webrtc.Configuration{ICEServers: c.Servers()}
	if c.ForceRelay {
		conf.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	return conf
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
