// Package registry owns persistent workstation identities for the tunnel:
// allocation of tunnel ids, reclamation across workstation reconnects and
// tunnel restarts, and live-connection tracking.
package registry

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiflis/tiflis/internal/common/logger"
)

// tunnelIDBytes yields 16 URL-safe characters, comfortably above the
// 11-character minimum the clients assume.
const tunnelIDBytes = 12

// Result is the outcome of a registration.
type Result struct {
	TunnelID string
	Restored bool
}

// Registry tracks identities and which of them currently have a live
// workstation connection. All writes are serialized through its mutex;
// the file store is updated on every durable change.
type Registry struct {
	mu         sync.Mutex
	identities map[string]*Identity
	live       map[string]bool
	store      *FileStore
	logger     *logger.Logger
}

// New loads the identity store and builds the registry. No identity is
// live at startup; that is what makes post-restart reclamation possible.
func New(store *FileStore, log *logger.Logger) (*Registry, error) {
	identities, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &Registry{
		identities: identities,
		live:       make(map[string]bool),
		store:      store,
		logger:     log.WithFields(zap.String("component", "identity_registry")),
	}, nil
}

// Register binds an identity to a new workstation connection. When
// previousTunnelID names a known identity that no live connection holds,
// the identity is reclaimed and Restored is true; otherwise a fresh id is
// allocated. Duplicate live claims resolve in favor of the incumbent.
func (r *Registry) Register(previousTunnelID, name string) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previousTunnelID != "" {
		if identity, ok := r.identities[previousTunnelID]; ok && !r.live[previousTunnelID] {
			identity.Name = name
			identity.LastSeen = time.Now().UTC()
			r.live[previousTunnelID] = true
			if err := r.persistLocked(); err != nil {
				r.logger.Error("failed to persist reclaimed identity", zap.Error(err))
			}
			r.logger.Info("identity reclaimed",
				zap.String("tunnel_id", previousTunnelID),
				zap.String("name", name))
			return Result{TunnelID: previousTunnelID, Restored: true}, nil
		}
		if r.live[previousTunnelID] {
			r.logger.Warn("requested tunnel id is held by a live connection, allocating fresh id",
				zap.String("tunnel_id", previousTunnelID))
		}
	}

	tunnelID, err := r.allocateLocked()
	if err != nil {
		return Result{}, err
	}
	r.identities[tunnelID] = &Identity{
		TunnelID: tunnelID,
		Name:     name,
		LastSeen: time.Now().UTC(),
	}
	r.live[tunnelID] = true
	if err := r.persistLocked(); err != nil {
		r.logger.Error("failed to persist new identity", zap.Error(err))
	}
	r.logger.Info("identity allocated",
		zap.String("tunnel_id", tunnelID),
		zap.String("name", name))
	return Result{TunnelID: tunnelID, Restored: false}, nil
}

// Release marks an identity as no longer held by a live connection. The
// identity itself stays in the store so the workstation can reclaim it.
func (r *Registry) Release(tunnelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.live[tunnelID] {
		return
	}
	delete(r.live, tunnelID)
	if identity, ok := r.identities[tunnelID]; ok {
		identity.LastSeen = time.Now().UTC()
		if err := r.persistLocked(); err != nil {
			r.logger.Error("failed to persist identity on release", zap.Error(err))
		}
	}
	r.logger.Info("identity released", zap.String("tunnel_id", tunnelID))
}

// IsLive reports whether a live connection currently holds the identity.
func (r *Registry) IsLive(tunnelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[tunnelID]
}

// Exists reports whether the identity is known, live or not.
func (r *Registry) Exists(tunnelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.identities[tunnelID]
	return ok
}

// LiveCount returns the number of identities held by live connections.
func (r *Registry) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *Registry) allocateLocked() (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		buf := make([]byte, tunnelIDBytes)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate tunnel id: %w", err)
		}
		id := base64.RawURLEncoding.EncodeToString(buf)
		if _, exists := r.identities[id]; !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to allocate unique tunnel id")
}

func (r *Registry) persistLocked() error {
	return r.store.Save(r.identities)
}
