package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiflis/tiflis/internal/common/config"
	"github.com/tiflis/tiflis/internal/events/bus"
	"github.com/tiflis/tiflis/internal/workstation/agents"
	"github.com/tiflis/tiflis/internal/workstation/audio"
	"github.com/tiflis/tiflis/internal/workstation/hub"
	"github.com/tiflis/tiflis/pkg/protocol"
)

func newTestManager(t *testing.T) (*Manager, *hub.Hub, *fakeSender, *bus.MemoryEventBus) {
	t.Helper()
	log := testLogger(t)
	h := hub.New(log)
	sender := &fakeSender{}
	h.SetSender(sender)
	h.Authenticate("D1")

	eventBus := bus.NewMemoryEventBus(log)
	registry := agents.NewRegistry(nil, log)
	deps := AgentDeps{
		Runner:        &fakeRunner{},
		AudioStore:    audio.NewStore(10),
		HistoryWindow: 5,
	}
	cfg := config.WorkstationConfig{
		WorkspacesRoot:     t.TempDir(),
		TerminalBufferSize: 100,
		HistoryWindow:      5,
	}
	return NewManager(cfg, h, eventBus, registry, deps, log), h, sender, eventBus
}

func TestCreateAgentSession(t *testing.T) {
	m, _, sender, _ := newTestManager(t)

	sess, err := m.Create(protocol.CreateSessionPayload{
		SessionType: TypeAgent,
		Agent:       "claude",
		Workspace:   "acme",
		Project:     "api",
	})
	require.NoError(t, err)

	info := sess.Info()
	assert.Equal(t, TypeAgent, info.SessionType)
	assert.Contains(t, info.WorkingDir, "acme")
	assert.Contains(t, info.WorkingDir, "api")

	created := sender.ofType(protocol.TypeSessionCreated)
	require.Len(t, created, 1)
	var payload protocol.SessionCreatedPayload
	require.NoError(t, created[0].ParsePayload(&payload))
	assert.Equal(t, info.SessionID, payload.Session.SessionID)
	assert.Nil(t, payload.TerminalConfig)
}

func TestCreateUnknownAgent(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	_, err := m.Create(protocol.CreateSessionPayload{SessionType: TypeAgent, Agent: "gpt"})
	assert.Error(t, err)
}

func TestCreateUnknownSessionType(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	_, err := m.Create(protocol.CreateSessionPayload{SessionType: "quantum"})
	assert.Error(t, err)
}

func TestListAndGet(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	sess, err := m.Create(protocol.CreateSessionPayload{SessionType: TypeAgent, Agent: "claude"})
	require.NoError(t, err)

	infos := m.List()
	require.Len(t, infos, 1)
	assert.Equal(t, sess.ID(), infos[0].SessionID)

	got, ok := m.Get(sess.ID())
	require.True(t, ok)
	assert.Equal(t, sess, got)

	assert.NotNil(t, m.Agent(sess.ID()))
	assert.Nil(t, m.Terminal(sess.ID()))
}

func TestTerminateAnnouncesAndClearsSubscriptions(t *testing.T) {
	m, h, sender, _ := newTestManager(t)

	sess, err := m.Create(protocol.CreateSessionPayload{SessionType: TypeAgent, Agent: "claude"})
	require.NoError(t, err)
	sess.Subscribe("D1")
	require.NotEmpty(t, h.Subscribers(sess.ID()))

	require.NoError(t, m.Terminate(sess.ID()))
	assert.Empty(t, h.Subscribers(sess.ID()))
	assert.Empty(t, m.List())

	terminated := sender.ofType(protocol.TypeSessionTerminated)
	require.Len(t, terminated, 1)
	assert.Equal(t, sess.ID(), terminated[0].SessionID)
}

func TestTerminateUnknownSession(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	assert.ErrorIs(t, m.Terminate("nope"), ErrNotFound)
}

func TestLifecycleEventsOnBus(t *testing.T) {
	m, _, _, eventBus := newTestManager(t)

	events := make(chan *bus.Event, 4)
	_, err := eventBus.Subscribe("sessions.lifecycle.>", func(ctx context.Context, e *bus.Event) error {
		events <- e
		return nil
	})
	require.NoError(t, err)

	sess, err := m.Create(protocol.CreateSessionPayload{SessionType: TypeAgent, Agent: "claude"})
	require.NoError(t, err)
	require.NoError(t, m.Terminate(sess.ID()))

	require.Len(t, events, 2)
	created := <-events
	assert.Equal(t, bus.SubjectSessionCreated, created.Type)
	assert.Equal(t, sess.ID(), created.Data["session_id"])
	terminated := <-events
	assert.Equal(t, bus.SubjectSessionTerminated, terminated.Type)
}

func TestExecutingStates(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	sess, err := m.Create(protocol.CreateSessionPayload{SessionType: TypeAgent, Agent: "claude"})
	require.NoError(t, err)

	states := m.ExecutingStates()
	require.Contains(t, states, sess.ID())
	assert.False(t, states[sess.ID()])
	assert.Empty(t, m.StreamingBlocks())
}
