// Package forwarder routes frames between client links and workstation
// links bound to the same tunnel id. It never inspects payloads beyond the
// envelope routing keys, and it injects presence events itself.
package forwarder

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/pkg/protocol"
)

// Link is the outbound side of an attached connection. Send must never
// block: implementations enqueue to a bounded queue and report overflow as
// an error, which the forwarder treats as a dead link.
type Link interface {
	Send(msg *protocol.Message) error
	Close(code string)
}

// Forwarder maintains the two routing tables of the relay.
type Forwarder struct {
	mu           sync.RWMutex
	workstations map[string]Link            // tunnel_id -> workstation link
	names        map[string]string          // tunnel_id -> display name
	clients      map[string]map[string]Link // tunnel_id -> device_id -> client link
	logger       *logger.Logger
}

// New creates an empty forwarder.
func New(log *logger.Logger) *Forwarder {
	return &Forwarder{
		workstations: make(map[string]Link),
		names:        make(map[string]string),
		clients:      make(map[string]map[string]Link),
		logger:       log.WithFields(zap.String("component", "forwarder")),
	}
}

// BindWorkstation attaches a workstation link and announces it to every
// client already bound to the tunnel id.
func (f *Forwarder) BindWorkstation(tunnelID, name string, link Link) {
	f.mu.Lock()
	f.workstations[tunnelID] = link
	f.names[tunnelID] = name
	clients := f.clientLinksLocked(tunnelID)
	f.mu.Unlock()

	f.logger.Info("workstation bound", zap.String("tunnel_id", tunnelID))
	f.broadcastPresence(tunnelID, name, clients, protocol.TypeWorkstationOnline)
}

// UnbindWorkstation detaches a workstation link. The unbind is ignored if
// another link has already taken over the tunnel id.
func (f *Forwarder) UnbindWorkstation(tunnelID string, link Link) {
	f.mu.Lock()
	current, ok := f.workstations[tunnelID]
	if !ok || current != link {
		f.mu.Unlock()
		return
	}
	delete(f.workstations, tunnelID)
	name := f.names[tunnelID]
	clients := f.clientLinksLocked(tunnelID)
	f.mu.Unlock()

	f.logger.Info("workstation unbound", zap.String("tunnel_id", tunnelID))
	f.broadcastPresence(tunnelID, name, clients, protocol.TypeWorkstationOffline)
}

// BindClient attaches a client link under its device id. A previous link
// for the same device is closed first.
func (f *Forwarder) BindClient(tunnelID, deviceID string, link Link) {
	f.mu.Lock()
	if f.clients[tunnelID] == nil {
		f.clients[tunnelID] = make(map[string]Link)
	}
	old := f.clients[tunnelID][deviceID]
	f.clients[tunnelID][deviceID] = link
	f.mu.Unlock()

	if old != nil && old != link {
		old.Close(protocol.ErrInternal)
	}
	f.logger.Debug("client bound",
		zap.String("tunnel_id", tunnelID),
		zap.String("device_id", deviceID))
}

// UnbindClient detaches a client link.
func (f *Forwarder) UnbindClient(tunnelID, deviceID string, link Link) {
	f.mu.Lock()
	defer f.mu.Unlock()

	devices, ok := f.clients[tunnelID]
	if !ok {
		return
	}
	if current, ok := devices[deviceID]; !ok || current != link {
		return
	}
	delete(devices, deviceID)
	if len(devices) == 0 {
		delete(f.clients, tunnelID)
	}
}

// FromClient forwards a client frame to the bound workstation, stamping
// the originating device id on the envelope.
func (f *Forwarder) FromClient(tunnelID, deviceID string, msg *protocol.Message) error {
	f.mu.RLock()
	ws, ok := f.workstations[tunnelID]
	f.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%s", protocol.ErrWorkstationOffline)
	}
	msg.DeviceID = deviceID
	if err := ws.Send(msg); err != nil {
		f.logger.Warn("workstation link rejected frame",
			zap.String("tunnel_id", tunnelID),
			zap.Error(err))
		return fmt.Errorf("%s", protocol.ErrWorkstationOffline)
	}
	return nil
}

// FromWorkstation delivers a workstation frame. A device id on the
// envelope selects a single client; otherwise the frame fans out to every
// client bound to the tunnel id. Links that reject the frame are closed
// with BACKPRESSURE_EXCEEDED.
func (f *Forwarder) FromWorkstation(tunnelID string, msg *protocol.Message) {
	f.mu.RLock()
	var targets []Link
	if msg.DeviceID != "" {
		if link, ok := f.clients[tunnelID][msg.DeviceID]; ok {
			targets = append(targets, link)
		}
	} else {
		targets = f.clientLinksLocked(tunnelID)
	}
	f.mu.RUnlock()

	for _, link := range targets {
		if err := link.Send(msg); err != nil {
			link.Close(protocol.ErrBackpressureExceeded)
		}
	}
}

// WorkstationOnline reports whether a live workstation holds the tunnel id.
func (f *Forwarder) WorkstationOnline(tunnelID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.workstations[tunnelID]
	return ok
}

// ClientCount returns the number of clients bound to a tunnel id.
func (f *Forwarder) ClientCount(tunnelID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients[tunnelID])
}

func (f *Forwarder) clientLinksLocked(tunnelID string) []Link {
	devices := f.clients[tunnelID]
	links := make([]Link, 0, len(devices))
	for _, link := range devices {
		links = append(links, link)
	}
	return links
}

func (f *Forwarder) broadcastPresence(tunnelID, name string, clients []Link, msgType string) {
	msg, err := protocol.NewMessage(msgType, protocol.PresencePayload{
		TunnelID: tunnelID,
		Name:     name,
	})
	if err != nil {
		return
	}
	for _, link := range clients {
		if err := link.Send(msg); err != nil {
			link.Close(protocol.ErrBackpressureExceeded)
		}
	}
}
