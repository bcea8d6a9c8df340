package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/internal/workstation/hub"
	"github.com/tiflis/tiflis/pkg/protocol"
)

// Supervisor is the singleton cross-device chat. Every authenticated device
// sees its output; user turns are echoed to all devices with the sender's
// id so peers can reconcile their optimistic local copy.
type Supervisor struct {
	hub    *hub.Hub
	engine *engine
	logger *logger.Logger
}

// NewSupervisor creates the supervisor.
func NewSupervisor(h *hub.Hub, deps AgentDeps, defaultAgent, workDir string, log *logger.Logger) *Supervisor {
	s := &Supervisor{
		hub:    h,
		logger: log.WithFields(zap.String("component", "supervisor")),
	}
	s.engine = newEngine(engineConfig{
		Agent:             defaultAgent,
		WorkDir:           workDir,
		OutputType:        protocol.TypeSupervisorOutput,
		TranscriptionType: protocol.TypeSupervisorTranscription,
		VoiceType:         protocol.TypeSupervisorVoiceOutput,
		Runner:            deps.Runner,
		Transcriber:       deps.Transcriber,
		Synthesizer:       deps.Synthesizer,
		AudioStore:        deps.AudioStore,
		History:           newHistory(deps.HistoryWindow),
		Emit:              h.BroadcastAll,
	}, s.logger)
	return s
}

// Command starts a supervisor turn. The user turn is broadcast to every
// device as supervisor.user_message before any output streams.
func (s *Supervisor) Command(ctx context.Context, fromDeviceID string, req protocol.ExecutePayload) error {
	return s.engine.Execute(ctx, req, func(text string) {
		msg, err := protocol.NewMessage(protocol.TypeSupervisorUserMessage, protocol.UserMessagePayload{
			Content:      text,
			FromDeviceID: fromDeviceID,
		})
		if err != nil {
			return
		}
		s.hub.BroadcastAll(msg)
	})
}

// Cancel terminates the running turn.
func (s *Supervisor) Cancel() bool {
	return s.engine.Cancel()
}

// ClearContext erases the history and announces it to every device.
func (s *Supervisor) ClearContext() {
	s.engine.cfg.History.clear()
	msg, err := protocol.NewMessage(protocol.TypeSupervisorContextCleared, nil)
	if err != nil {
		return
	}
	s.hub.BroadcastAll(msg)
}

// IsExecuting reports whether a turn is in flight.
func (s *Supervisor) IsExecuting() bool {
	executing, _ := s.engine.Snapshot()
	return executing
}

// StreamingBlocks returns the in-progress blocks of the current turn.
func (s *Supervisor) StreamingBlocks() []protocol.ContentBlock {
	_, blocks := s.engine.Snapshot()
	return blocks
}

// History returns the bounded supervisor history.
func (s *Supervisor) History() []protocol.HistoryRecord {
	return s.engine.cfg.History.snapshot()
}
