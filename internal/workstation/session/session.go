// Package session owns the workstation's session registry and the three
// session variants: terminal (PTY), agent (coding-agent subprocess), and the
// supervisor singleton. Each session serializes its state behind its own
// lock; fan-out to devices goes through the hub.
package session

import (
	"github.com/tiflis/tiflis/pkg/protocol"
)

// Session statuses.
const (
	StatusActive = "active"
	StatusIdle   = "idle"
	StatusBusy   = "busy"
)

// Session types.
const (
	TypeTerminal   = "terminal"
	TypeAgent      = "agent"
	TypeSupervisor = "supervisor"
)

// Session is the common surface of all variants.
type Session interface {
	ID() string
	Info() protocol.SessionInfo
	// Subscribe returns the variant-specific snapshot for a joining device.
	Subscribe(deviceID string) protocol.SubscribedPayload
	Unsubscribe(deviceID string)
	Terminate()
}
