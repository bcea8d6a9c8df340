package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Tunnel.Port)
	assert.Equal(t, 1000, cfg.Workstation.TerminalBufferSize)
	assert.Equal(t, 50, cfg.Workstation.HistoryWindow)
	assert.Equal(t, 300, cfg.Tunnel.WatchIdleExpiry)
	assert.Contains(t, cfg.Workstation.Agents, "claude")
	assert.Empty(t, cfg.NATS.URL)
}

func TestValidateTunnelRejectsShortKey(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	cfg.Tunnel.RegistrationAPIKey = "too-short"
	assert.Error(t, cfg.ValidateTunnel())

	cfg.Tunnel.RegistrationAPIKey = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, cfg.ValidateTunnel())
}

func TestValidateWorkstationRequiresKeys(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	err = cfg.ValidateWorkstation()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TUNNEL_API_KEY")
	assert.Contains(t, err.Error(), "WORKSTATION_AUTH_KEY")

	cfg.Workstation.TunnelAPIKey = "key"
	cfg.Workstation.AuthKey = "auth"
	assert.NoError(t, cfg.ValidateWorkstation())
}

func TestRegistrationKeyFromEnv(t *testing.T) {
	t.Setenv("TUNNEL_REGISTRATION_API_KEY", "0123456789abcdef0123456789abcdef")
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Tunnel.RegistrationAPIKey)
	assert.NoError(t, cfg.ValidateTunnel())
}

func TestAliasesFromEnv(t *testing.T) {
	environ := []string{
		"AGENT_ALIAS_BACKLOG=claude --profile backlog",
		"AGENT_ALIAS_Fix=opencode run",
		"AGENT_ALIAS_=nope",
		"AGENT_ALIAS_EMPTY=",
		"PATH=/usr/bin",
	}
	aliases := AliasesFromEnv(environ)
	assert.Equal(t, map[string]string{
		"backlog": "claude --profile backlog",
		"fix":     "opencode run",
	}, aliases)
}

func TestAliasLoadedIntoConfig(t *testing.T) {
	t.Setenv("AGENT_ALIAS_HARNESS", "claude --backlog")
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "claude --backlog", cfg.Workstation.Aliases["harness"])
}
