package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tiflis/tiflis/internal/common/config"
	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/internal/events/bus"
	"github.com/tiflis/tiflis/internal/workstation/agents"
	"github.com/tiflis/tiflis/internal/workstation/hub"
	"github.com/tiflis/tiflis/pkg/protocol"
)

// Manager owns the session registry and lifecycle. Creation and termination
// are announced to every device and published on the event bus.
type Manager struct {
	cfg      config.WorkstationConfig
	hub      *hub.Hub
	bus      bus.EventBus
	registry *agents.Registry
	deps     AgentDeps
	logger   *logger.Logger

	mu       sync.RWMutex
	sessions map[string]Session
}

// NewManager creates the session manager.
func NewManager(cfg config.WorkstationConfig, h *hub.Hub, eventBus bus.EventBus, registry *agents.Registry, deps AgentDeps, log *logger.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		hub:      h,
		bus:      eventBus,
		registry: registry,
		deps:     deps,
		logger:   log.WithFields(zap.String("component", "session_manager")),
		sessions: make(map[string]Session),
	}
}

// Create spawns a session of the requested type and announces it.
func (m *Manager) Create(req protocol.CreateSessionPayload) (Session, error) {
	info := protocol.SessionInfo{
		SessionID:   uuid.NewString(),
		SessionType: req.SessionType,
		Status:      StatusActive,
		Agent:       req.Agent,
		Workspace:   req.Workspace,
		Project:     req.Project,
		Worktree:    req.Worktree,
		WorkingDir:  m.workingDir(req),
		CreatedAt:   time.Now().UnixMilli(),
	}

	var (
		sess     Session
		termConf *protocol.TerminalConfig
		err      error
	)
	switch req.SessionType {
	case TypeTerminal:
		var term *Terminal
		term, err = NewTerminal(info, m.hub, m.cfg.TerminalBufferSize, m.logger)
		if err == nil {
			conf := term.Config()
			termConf = &conf
			sess = term
		}
	case TypeAgent:
		if !m.registry.Known(req.Agent) {
			return nil, fmt.Errorf("unknown agent %q", req.Agent)
		}
		sess = NewAgent(info, m.hub, m.deps, m.logger)
	default:
		return nil, fmt.Errorf("unknown session type %q", req.SessionType)
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[info.SessionID] = sess
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("session_id", info.SessionID),
		zap.String("session_type", info.SessionType))

	created, merr := protocol.NewSessionMessage(protocol.TypeSessionCreated, info.SessionID, protocol.SessionCreatedPayload{
		Session:        sess.Info(),
		TerminalConfig: termConf,
	})
	if merr == nil {
		m.hub.BroadcastAll(created)
	}
	m.publish(bus.SubjectSessionCreated, info)
	return sess, nil
}

// Get returns a session by id.
func (m *Manager) Get(sessionID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

// Terminal returns a session as a terminal, or nil.
func (m *Manager) Terminal(sessionID string) *Terminal {
	sess, ok := m.Get(sessionID)
	if !ok {
		return nil
	}
	term, _ := sess.(*Terminal)
	return term
}

// Agent returns a session as an agent, or nil.
func (m *Manager) Agent(sessionID string) *Agent {
	sess, ok := m.Get(sessionID)
	if !ok {
		return nil
	}
	agent, _ := sess.(*Agent)
	return agent
}

// List returns descriptors of all live sessions.
func (m *Manager) List() []protocol.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]protocol.SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.Info())
	}
	return out
}

// Terminate stops a session, clears its subscriptions, and announces the
// termination as the session's last event.
func (m *Manager) Terminate(sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	sess.Terminate()
	m.hub.DropSession(sessionID)

	m.logger.Info("session terminated", zap.String("session_id", sessionID))

	terminated, err := protocol.NewSessionMessage(protocol.TypeSessionTerminated, sessionID, protocol.SessionTerminatedPayload{
		SessionID: sessionID,
	})
	if err == nil {
		m.hub.BroadcastAll(terminated)
	}
	m.publish(bus.SubjectSessionTerminated, sess.Info())
	return nil
}

// TerminateAll stops every session, for shutdown.
func (m *Manager) TerminateAll() {
	for _, info := range m.List() {
		_ = m.Terminate(info.SessionID)
	}
}

// ExecutingStates returns session_id -> is_executing for agent sessions.
func (m *Manager) ExecutingStates() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bool)
	for id, sess := range m.sessions {
		if agent, ok := sess.(*Agent); ok {
			out[id] = agent.IsExecuting()
		}
	}
	return out
}

// StreamingBlocks returns session_id -> in-progress blocks for executing
// agent sessions.
func (m *Manager) StreamingBlocks() map[string][]protocol.ContentBlock {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]protocol.ContentBlock)
	for id, sess := range m.sessions {
		agent, ok := sess.(*Agent)
		if !ok {
			continue
		}
		if blocks := agent.StreamingBlocks(); len(blocks) > 0 {
			out[id] = blocks
		}
	}
	return out
}

func (m *Manager) workingDir(req protocol.CreateSessionPayload) string {
	dir := m.cfg.WorkspacesRoot
	for _, part := range []string{req.Workspace, req.Project, req.Worktree} {
		if part != "" {
			dir = filepath.Join(dir, part)
		}
	}
	return dir
}

func (m *Manager) publish(subject string, info protocol.SessionInfo) {
	if m.bus == nil {
		return
	}
	event := bus.NewEvent(subject, "workstation", map[string]interface{}{
		"session_id":   info.SessionID,
		"session_type": info.SessionType,
	})
	if err := m.bus.Publish(context.Background(), subject, event); err != nil {
		m.logger.Debug("event publish failed", zap.Error(err))
	}
}
