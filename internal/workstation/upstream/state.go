package upstream

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// persistedState is what survives a workstation restart: the tunnel
// identity to reclaim on the next registration.
type persistedState struct {
	TunnelID string `json:"tunnel_id"`
}

// stateStore persists the state with an atomic write-then-rename.
type stateStore struct {
	path string
}

func newStateStore(path string) (*stateStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &stateStore{path: path}, nil
}

func (s *stateStore) Load() persistedState {
	var state persistedState
	data, err := os.ReadFile(s.path)
	if err != nil {
		return state
	}
	_ = json.Unmarshal(data, &state)
	return state
}

func (s *stateStore) Save(state persistedState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
