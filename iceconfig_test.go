package meetsdk

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func TestICEConfig_Servers(t *testing.T) {
	t.Run("defaults are never empty", func(t *testing.T) {
		servers := ICEConfig{}.Servers()
		require.NotEmpty(t, servers)
		require.Equal(t, []string{DefaultSTUNURL}, servers[0].URLs)
		// incomplete TURN settings fall back to the public relays
		require.Len(t, servers, 1+len(fallbackTURNServers))
	})

	t.Run("complete TURN settings replace the fallback", func(t *testing.T) {
		cfg := ICEConfig{
			STUNURL:        "stun:stun.example.com:3478",
			TURNURLs:       []string{"turn:turn1.example.com:3478", "turns:turn2.example.com:443"},
			TURNUsername:   "user",
			TURNCredential: "secret",
		}
		servers := cfg.Servers()
		require.Len(t, servers, 3)
		require.Equal(t, []string{"stun:stun.example.com:3478"}, servers[0].URLs)
		require.Equal(t, []string{"turn:turn1.example.com:3478"}, servers[1].URLs)
		require.Equal(t, "user", servers[1].Username)
		require.Equal(t, "secret", servers[1].Credential)
		require.Equal(t, []string{"turns:turn2.example.com:443"}, servers[2].URLs)
	})

	t.Run("missing credential keeps the fallback", func(t *testing.T) {
		cfg := ICEConfig{
			TURNURLs:     []string{"turn:turn.example.com:3478"},
			TURNUsername: "user",
		}
		servers := cfg.Servers()
		require.Len(t, servers, 1+len(fallbackTURNServers))
		require.Equal(t, []string{DefaultSTUNURL}, servers[0].URLs)
	})
}

func TestICEConfig_WebRTCConfiguration(t *testing.T) {
	conf := ICEConfig{}.WebRTCConfiguration()
	require.NotEmpty(t, conf.ICEServers)
	require.Equal(t, webrtc.ICETransportPolicyAll, conf.ICETransportPolicy)

	relayed := ICEConfig{ForceRelay: true}.WebRTCConfiguration()
	require.Equal(t, webrtc.ICETransportPolicyRelay, relayed.ICETransportPolicy)
}

func TestICEConfigFromEnv(t *testing.T) {
	t.Setenv(envSTUNURL, " stun:stun.example.com:3478 ")
	t.Setenv(envTURNURLs, "turn:a.example.com:3478, turn:b.example.com:3478 ,")
	t.Setenv(envTURNUsername, "user")
	t.Setenv(envTURNCredential, "secret")
	t.Setenv(envForceRelay, "true")

	cfg := ICEConfigFromEnv()
	require.Equal(t, "stun:stun.example.com:3478", cfg.STUNURL)
	require.Equal(t, []string{"turn:a.example.com:3478", "turn:b.example.com:3478"}, cfg.TURNURLs)
	require.Equal(t, "user", cfg.TURNUsername)
	require.Equal(t, "secret", cfg.TURNCredential)
	require.True(t, cfg.ForceRelay)
}
