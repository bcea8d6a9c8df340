package protocol

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMagicLinkRoundTrip(t *testing.T) {
	link := MagicLink{
		TunnelID: "dQw4w9WgXcQ",
		URL:      "wss://tunnel.example.com",
		Key:      "secret-auth-key",
	}

	raw, err := EncodeMagicLink(link)
	require.NoError(t, err)
	assert.Contains(t, raw, "tiflis://connect?data=")

	decoded, err := DecodeMagicLink(raw)
	require.NoError(t, err)
	assert.Equal(t, link, decoded)
}

func TestDecodeMagicLinkTunnelIDFromJSON(t *testing.T) {
	// tunnel_id must come from the embedded JSON even when the query
	// string carries a conflicting value.
	data, _ := json.Marshal(MagicLink{TunnelID: "real-tunnel", URL: "wss://t.example.com", Key: "k"})
	encoded := base64.RawURLEncoding.EncodeToString(data)
	raw := "tiflis://connect?data=" + encoded + "&tunnel_id=spoofed"

	link, err := DecodeMagicLink(raw)
	require.NoError(t, err)
	assert.Equal(t, "real-tunnel", link.TunnelID)
}

func TestDecodeMagicLinkPaddedBase64(t *testing.T) {
	data, _ := json.Marshal(MagicLink{TunnelID: "abcdefghijk", URL: "wss://t", Key: "k"})
	encoded := base64.URLEncoding.EncodeToString(data)
	link, err := DecodeMagicLink("tiflis://connect?data=" + encoded)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijk", link.TunnelID)
}

func TestDecodeMagicLinkErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"wrong scheme", "https://connect?data=abc"},
		{"missing data", "tiflis://connect"},
		{"bad base64", "tiflis://connect?data=%%%"},
		{"incomplete payload", "tiflis://connect?data=" + base64.RawURLEncoding.EncodeToString([]byte(`{"url":"wss://t"}`))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeMagicLink(tc.raw)
			assert.Error(t, err)
		})
	}
}

func TestEncodeMagicLinkRequiresAllFields(t *testing.T) {
	_, err := EncodeMagicLink(MagicLink{URL: "wss://t", Key: "k"})
	assert.Error(t, err)
}
