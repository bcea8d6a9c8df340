package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiflis/tiflis/internal/common/logger"
)

func newTestRegistry(t *testing.T, path string) *Registry {
	t.Helper()
	store, err := NewFileStore(path)
	require.NoError(t, err)
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	reg, err := New(store, log)
	require.NoError(t, err)
	return reg
}

func TestRegisterAllocatesFreshID(t *testing.T) {
	reg := newTestRegistry(t, filepath.Join(t.TempDir(), "ids.json"))

	res, err := reg.Register("", "WS")
	require.NoError(t, err)
	assert.False(t, res.Restored)
	assert.GreaterOrEqual(t, len(res.TunnelID), 11)
	assert.True(t, reg.IsLive(res.TunnelID))
	assert.Equal(t, 1, reg.LiveCount())
}

func TestReclaimAfterRelease(t *testing.T) {
	reg := newTestRegistry(t, filepath.Join(t.TempDir(), "ids.json"))

	first, err := reg.Register("", "WS")
	require.NoError(t, err)

	// Workstation disconnects, then reconnects with its previous id.
	reg.Release(first.TunnelID)
	assert.False(t, reg.IsLive(first.TunnelID))

	second, err := reg.Register(first.TunnelID, "WS")
	require.NoError(t, err)
	assert.True(t, second.Restored)
	assert.Equal(t, first.TunnelID, second.TunnelID)
}

func TestIncumbentWinsDuplicateClaim(t *testing.T) {
	reg := newTestRegistry(t, filepath.Join(t.TempDir(), "ids.json"))

	first, err := reg.Register("", "WS-A")
	require.NoError(t, err)

	// A second live socket claims the same id while the first still holds
	// it: the newcomer gets a fresh identity.
	second, err := reg.Register(first.TunnelID, "WS-B")
	require.NoError(t, err)
	assert.False(t, second.Restored)
	assert.NotEqual(t, first.TunnelID, second.TunnelID)
	assert.True(t, reg.IsLive(first.TunnelID))
}

func TestReclaimSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.json")

	reg := newTestRegistry(t, path)
	first, err := reg.Register("", "WS")
	require.NoError(t, err)
	reg.Release(first.TunnelID)

	// Simulated tunnel restart: a new registry loads the same store.
	reg2 := newTestRegistry(t, path)
	assert.True(t, reg2.Exists(first.TunnelID))
	assert.False(t, reg2.IsLive(first.TunnelID))

	res, err := reg2.Register(first.TunnelID, "WS")
	require.NoError(t, err)
	assert.True(t, res.Restored)
	assert.Equal(t, first.TunnelID, res.TunnelID)
}

func TestReclaimUnknownIDAllocatesFresh(t *testing.T) {
	reg := newTestRegistry(t, filepath.Join(t.TempDir(), "ids.json"))

	res, err := reg.Register("never-seen-before", "WS")
	require.NoError(t, err)
	assert.False(t, res.Restored)
	assert.NotEqual(t, "never-seen-before", res.TunnelID)
}

func TestReleaseUnknownIsNoop(t *testing.T) {
	reg := newTestRegistry(t, filepath.Join(t.TempDir(), "ids.json"))
	reg.Release("nope")
	assert.Equal(t, 0, reg.LiveCount())
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "sub", "ids.json"))
	require.NoError(t, err)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	reg := map[string]*Identity{
		"abc": {TunnelID: "abc", Name: "WS"},
	}
	require.NoError(t, store.Save(reg))

	loaded, err = store.Load()
	require.NoError(t, err)
	require.Contains(t, loaded, "abc")
	assert.Equal(t, "WS", loaded["abc"].Name)
}
