package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// MagicLink is the one-shot bootstrap payload a workstation prints at
// startup. Clients scan it to learn the tunnel id, the base endpoint, and
// the workstation auth key.
type MagicLink struct {
	TunnelID string `json:"tunnel_id"`
	URL      string `json:"url"`
	Key      string `json:"key"`
}

const magicLinkScheme = "tiflis"

// EncodeMagicLink builds a tiflis://connect?data=<base64url(JSON)> URI.
// URL must be the base endpoint only.
func EncodeMagicLink(link MagicLink) (string, error) {
	if link.TunnelID == "" || link.URL == "" || link.Key == "" {
		return "", fmt.Errorf("magic link requires tunnel_id, url and key")
	}
	data, err := json.Marshal(link)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(data)
	return fmt.Sprintf("%s://connect?data=%s", magicLinkScheme, encoded), nil
}

// DecodeMagicLink parses a tiflis://connect URI. The tunnel id always comes
// from the embedded JSON, never from the URL query.
func DecodeMagicLink(raw string) (MagicLink, error) {
	var link MagicLink

	u, err := url.Parse(raw)
	if err != nil {
		return link, fmt.Errorf("invalid magic link: %w", err)
	}
	if u.Scheme != magicLinkScheme {
		return link, fmt.Errorf("invalid magic link scheme %q", u.Scheme)
	}
	if u.Host != "connect" && !strings.HasPrefix(u.Opaque, "connect") {
		return link, fmt.Errorf("invalid magic link host %q", u.Host)
	}

	encoded := u.Query().Get("data")
	if encoded == "" {
		return link, fmt.Errorf("magic link missing data parameter")
	}

	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		// Tolerate padded encodings from older clients.
		data, err = base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			return link, fmt.Errorf("invalid magic link encoding: %w", err)
		}
	}

	if err := json.Unmarshal(data, &link); err != nil {
		return link, fmt.Errorf("invalid magic link payload: %w", err)
	}
	if link.TunnelID == "" || link.URL == "" || link.Key == "" {
		return link, fmt.Errorf("magic link payload incomplete")
	}
	return link, nil
}
