package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/internal/workstation/audio"
	"github.com/tiflis/tiflis/internal/workstation/hub"
	"github.com/tiflis/tiflis/internal/workstation/speech"
	"github.com/tiflis/tiflis/pkg/protocol"
)

// Agent is a coding-agent session. One turn runs at a time; output streams
// to the session's subscribers as content blocks, and joiners receive the
// in-progress blocks so they can resume mid-generation.
type Agent struct {
	info   protocol.SessionInfo
	hub    *hub.Hub
	engine *engine
	logger *logger.Logger

	mu     sync.Mutex
	status string
}

// AgentDeps carries the collaborators an agent session needs.
type AgentDeps struct {
	Runner        Runner
	Transcriber   speech.Transcriber
	Synthesizer   speech.Synthesizer
	AudioStore    *audio.Store
	HistoryWindow int
}

// NewAgent creates an agent session.
func NewAgent(info protocol.SessionInfo, h *hub.Hub, deps AgentDeps, log *logger.Logger) *Agent {
	a := &Agent{
		info:   info,
		hub:    h,
		status: StatusIdle,
		logger: log.WithFields(zap.String("session_id", info.SessionID), zap.String("agent", info.Agent)),
	}
	a.engine = newEngine(engineConfig{
		SessionID:         info.SessionID,
		Agent:             info.Agent,
		WorkDir:           info.WorkingDir,
		OutputType:        protocol.TypeSessionOutput,
		TranscriptionType: protocol.TypeSessionTranscription,
		VoiceType:         protocol.TypeSessionVoiceOutput,
		Runner:            deps.Runner,
		Transcriber:       deps.Transcriber,
		Synthesizer:       deps.Synthesizer,
		AudioStore:        deps.AudioStore,
		History:           newHistory(deps.HistoryWindow),
		Emit: func(msg *protocol.Message) {
			h.BroadcastSession(info.SessionID, msg, "")
		},
		OnComplete: func() { a.setStatus(StatusIdle) },
	}, a.logger)
	return a
}

// ID returns the session id.
func (a *Agent) ID() string { return a.info.SessionID }

// Info returns the session descriptor with the live status.
func (a *Agent) Info() protocol.SessionInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	info := a.info
	info.Status = a.status
	return info
}

// Subscribe attaches a device and returns history plus any in-progress
// stream.
func (a *Agent) Subscribe(deviceID string) protocol.SubscribedPayload {
	a.hub.Subscribe(a.info.SessionID, deviceID)

	executing, inProgress := a.engine.Snapshot()
	return protocol.SubscribedPayload{
		SessionID:              a.info.SessionID,
		History:                a.engine.cfg.History.snapshot(),
		IsExecuting:            &executing,
		CurrentStreamingBlocks: inProgress,
	}
}

// Unsubscribe detaches a device.
func (a *Agent) Unsubscribe(deviceID string) {
	a.hub.Unsubscribe(a.info.SessionID, deviceID)
}

// Execute starts a turn. Returns ErrBusy while a previous one runs.
func (a *Agent) Execute(ctx context.Context, req protocol.ExecutePayload) error {
	// Status flips before the run goroutine exists so a fast turn's
	// OnComplete cannot be overwritten with a stale busy.
	a.setStatus(StatusBusy)
	return a.engine.Execute(ctx, req, nil)
}

// Cancel terminates the running turn, reporting whether anything was
// interrupted.
func (a *Agent) Cancel() bool {
	return a.engine.Cancel()
}

// IsExecuting reports whether a turn is in flight.
func (a *Agent) IsExecuting() bool {
	executing, _ := a.engine.Snapshot()
	return executing
}

// StreamingBlocks returns the in-progress blocks of the current turn.
func (a *Agent) StreamingBlocks() []protocol.ContentBlock {
	_, blocks := a.engine.Snapshot()
	return blocks
}

// History returns the bounded chat history.
func (a *Agent) History() []protocol.HistoryRecord {
	return a.engine.cfg.History.snapshot()
}

// Terminate cancels any running turn.
func (a *Agent) Terminate() {
	a.engine.Cancel()
}

func (a *Agent) setStatus(status string) {
	a.mu.Lock()
	a.status = status
	a.mu.Unlock()
}
