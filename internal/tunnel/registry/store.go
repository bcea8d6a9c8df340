package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Identity is one persisted workstation identity.
type Identity struct {
	TunnelID string    `json:"tunnel_id"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
}

// FileStore persists identities as a JSON map keyed by tunnel id. Saves go
// through a temp file plus rename so a crash mid-write never corrupts the
// store.
type FileStore struct {
	path string
}

// NewFileStore creates a store at the given path. The parent directory is
// created if missing.
func NewFileStore(path string) (*FileStore, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

// Load reads all identities. A missing file yields an empty map.
func (s *FileStore) Load() (map[string]*Identity, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Identity), nil
		}
		return nil, fmt.Errorf("failed to read identity store: %w", err)
	}

	identities := make(map[string]*Identity)
	if len(data) == 0 {
		return identities, nil
	}
	if err := json.Unmarshal(data, &identities); err != nil {
		return nil, fmt.Errorf("failed to parse identity store: %w", err)
	}
	return identities, nil
}

// Save writes all identities atomically.
func (s *FileStore) Save(identities map[string]*Identity) error {
	data, err := json.MarshalIndent(identities, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identities: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write identity store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace identity store: %w", err)
	}
	return nil
}
