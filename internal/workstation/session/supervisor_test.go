package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiflis/tiflis/internal/workstation/audio"
	"github.com/tiflis/tiflis/internal/workstation/hub"
	"github.com/tiflis/tiflis/pkg/protocol"
)

func newTestSupervisor(t *testing.T, runner Runner) (*Supervisor, *fakeSender) {
	t.Helper()
	log := testLogger(t)
	h := hub.New(log)
	sender := &fakeSender{}
	h.SetSender(sender)
	h.Authenticate("D1")
	h.Authenticate("D2")

	deps := AgentDeps{
		Runner:        runner,
		AudioStore:    audio.NewStore(10),
		HistoryWindow: 5,
	}
	return NewSupervisor(h, deps, "claude", t.TempDir(), log), sender
}

func TestCommandBroadcastsUserMessageFirst(t *testing.T) {
	turn := newFakeTurn(protocol.TextBlock("b1", "reply"))
	turn.release()
	s, sender := newTestSupervisor(t, &fakeRunner{turns: []*fakeTurn{turn}})

	require.NoError(t, s.Command(context.Background(), "D1", protocol.ExecutePayload{Text: "hi"}))
	waitFor(t, func() bool { return !s.IsExecuting() }, "turn completion")

	// Every device gets the user echo, including the sender.
	echoes := sender.ofType(protocol.TypeSupervisorUserMessage)
	require.Len(t, echoes, 2)
	devices := map[string]bool{}
	for _, m := range echoes {
		devices[m.DeviceID] = true
		var payload protocol.UserMessagePayload
		require.NoError(t, m.ParsePayload(&payload))
		assert.Equal(t, "hi", payload.Content)
		assert.Equal(t, "D1", payload.FromDeviceID)
	}
	assert.True(t, devices["D1"])
	assert.True(t, devices["D2"])

	// The echo precedes the first output frame.
	sender.mu.Lock()
	var echoIdx, outputIdx = -1, -1
	for i, m := range sender.sent {
		if m.Type == protocol.TypeSupervisorUserMessage && echoIdx == -1 {
			echoIdx = i
		}
		if m.Type == protocol.TypeSupervisorOutput && outputIdx == -1 {
			outputIdx = i
		}
	}
	sender.mu.Unlock()
	require.NotEqual(t, -1, echoIdx)
	require.NotEqual(t, -1, outputIdx)
	assert.Less(t, echoIdx, outputIdx)
}

func TestSupervisorOutputReachesAllDevices(t *testing.T) {
	turn := newFakeTurn(protocol.TextBlock("b1", "reply"))
	turn.release()
	s, sender := newTestSupervisor(t, &fakeRunner{turns: []*fakeTurn{turn}})

	require.NoError(t, s.Command(context.Background(), "D1", protocol.ExecutePayload{Text: "hi"}))
	waitFor(t, func() bool { return !s.IsExecuting() }, "turn completion")

	outputs := sender.ofType(protocol.TypeSupervisorOutput)
	devices := map[string]int{}
	for _, m := range outputs {
		devices[m.DeviceID]++
	}
	assert.Equal(t, devices["D1"], devices["D2"])
	assert.Greater(t, devices["D1"], 0)
}

func TestClearContext(t *testing.T) {
	turn := newFakeTurn(protocol.TextBlock("b1", "reply"))
	turn.release()
	s, sender := newTestSupervisor(t, &fakeRunner{turns: []*fakeTurn{turn}})

	require.NoError(t, s.Command(context.Background(), "D1", protocol.ExecutePayload{Text: "hi"}))
	waitFor(t, func() bool { return !s.IsExecuting() }, "turn completion")
	require.NotEmpty(t, s.History())

	s.ClearContext()
	assert.Empty(t, s.History())

	cleared := sender.ofType(protocol.TypeSupervisorContextCleared)
	assert.Len(t, cleared, 2) // one per device
}

func TestSupervisorBusy(t *testing.T) {
	turn := newFakeTurn()
	s, _ := newTestSupervisor(t, &fakeRunner{turns: []*fakeTurn{turn}})

	require.NoError(t, s.Command(context.Background(), "D1", protocol.ExecutePayload{Text: "first"}))
	waitFor(t, s.IsExecuting, "first turn start")

	err := s.Command(context.Background(), "D2", protocol.ExecutePayload{Text: "second"})
	assert.ErrorIs(t, err, ErrBusy)

	assert.True(t, s.Cancel())
	waitFor(t, func() bool { return !s.IsExecuting() }, "cancellation")
}
