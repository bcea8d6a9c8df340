// Package hub tracks the devices connected through the tunnel and their
// session subscriptions. All outbound traffic to devices goes through the
// hub so that output reaches only subscribers and lifecycle events reach
// every authenticated device.
package hub

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/pkg/protocol"
)

// Sender delivers frames to the tunnel. The hub stamps the target device id
// on every frame it sends; the tunnel routes on it.
type Sender interface {
	Send(msg *protocol.Message) error
}

type device struct {
	id            string
	authedAt      time.Time
	subscriptions map[string]struct{}
}

// Hub is the device and subscription registry.
type Hub struct {
	mu      sync.RWMutex
	sender  Sender
	devices map[string]*device
	// session_id -> device ids in subscription order. Terminal master
	// arbitration picks the head of this list.
	subscribers map[string][]string
	logger      *logger.Logger
}

// New creates an empty hub.
func New(log *logger.Logger) *Hub {
	return &Hub{
		devices:     make(map[string]*device),
		subscribers: make(map[string][]string),
		logger:      log.WithFields(zap.String("component", "hub")),
	}
}

// SetSender installs the upstream link. Called on every reconnect.
func (h *Hub) SetSender(s Sender) {
	h.mu.Lock()
	h.sender = s
	h.mu.Unlock()
}

// Authenticate marks a device as authenticated and returns the session ids
// it was subscribed to before a reconnect, so the caller can re-attach it.
func (h *Hub) Authenticate(deviceID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	d, ok := h.devices[deviceID]
	if !ok {
		d = &device{id: deviceID, subscriptions: make(map[string]struct{})}
		h.devices[deviceID] = d
	}
	d.authedAt = time.Now()

	restored := make([]string, 0, len(d.subscriptions))
	for sessionID := range d.subscriptions {
		restored = append(restored, sessionID)
	}
	h.logger.Info("device authenticated",
		zap.String("device_id", deviceID),
		zap.Int("restored_subscriptions", len(restored)))
	return restored
}

// IsAuthenticated reports whether the device has authenticated.
func (h *Hub) IsAuthenticated(deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.devices[deviceID]
	return ok
}

// Subscribe attaches a device to a session. Returns false if the device is
// unknown. Idempotent for already-subscribed devices.
func (h *Hub) Subscribe(sessionID, deviceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	d, ok := h.devices[deviceID]
	if !ok {
		return false
	}
	if _, already := d.subscriptions[sessionID]; already {
		return true
	}
	d.subscriptions[sessionID] = struct{}{}
	h.subscribers[sessionID] = append(h.subscribers[sessionID], deviceID)
	return true
}

// Unsubscribe detaches a device from a session.
func (h *Hub) Unsubscribe(sessionID, deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if d, ok := h.devices[deviceID]; ok {
		delete(d.subscriptions, sessionID)
	}
	h.subscribers[sessionID] = remove(h.subscribers[sessionID], deviceID)
	if len(h.subscribers[sessionID]) == 0 {
		delete(h.subscribers, sessionID)
	}
}

// Subscribers returns the device ids subscribed to a session, oldest first.
func (h *Hub) Subscribers(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.subscribers[sessionID]...)
}

// Subscriptions returns the session ids a device is subscribed to.
func (h *Hub) Subscriptions(deviceID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	d, ok := h.devices[deviceID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(d.subscriptions))
	for sessionID := range d.subscriptions {
		out = append(out, sessionID)
	}
	return out
}

// DropSession removes every subscription to a terminated session.
func (h *Hub) DropSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, deviceID := range h.subscribers[sessionID] {
		if d, ok := h.devices[deviceID]; ok {
			delete(d.subscriptions, sessionID)
		}
	}
	delete(h.subscribers, sessionID)
}

// SendTo delivers a frame to a single device.
func (h *Hub) SendTo(deviceID string, msg *protocol.Message) error {
	h.mu.RLock()
	sender := h.sender
	h.mu.RUnlock()
	if sender == nil {
		return ErrNoUpstream
	}

	copied := *msg
	copied.DeviceID = deviceID
	return sender.Send(&copied)
}

// BroadcastAll delivers a frame to every authenticated device.
func (h *Hub) BroadcastAll(msg *protocol.Message) {
	h.mu.RLock()
	targets := make([]string, 0, len(h.devices))
	for id := range h.devices {
		targets = append(targets, id)
	}
	h.mu.RUnlock()

	for _, deviceID := range targets {
		if err := h.SendTo(deviceID, msg); err != nil {
			h.logger.Debug("broadcast delivery failed",
				zap.String("device_id", deviceID),
				zap.Error(err))
		}
	}
}

// BroadcastSession delivers a frame to every subscriber of a session,
// optionally excluding one device.
func (h *Hub) BroadcastSession(sessionID string, msg *protocol.Message, exclude string) {
	for _, deviceID := range h.Subscribers(sessionID) {
		if deviceID == exclude {
			continue
		}
		if err := h.SendTo(deviceID, msg); err != nil {
			h.logger.Debug("subscriber delivery failed",
				zap.String("device_id", deviceID),
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}
}

// DeviceCount returns the number of authenticated devices.
func (h *Hub) DeviceCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.devices)
}

func remove(list []string, item string) []string {
	for i, v := range list {
		if v == item {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
