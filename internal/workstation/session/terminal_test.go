//go:build !windows

package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiflis/tiflis/internal/workstation/hub"
	"github.com/tiflis/tiflis/pkg/protocol"
)

func newTestTerminal(t *testing.T) (*Terminal, *hub.Hub, *fakeSender) {
	t.Helper()
	t.Setenv("SHELL", "/bin/sh")

	log := testLogger(t)
	h := hub.New(log)
	sender := &fakeSender{}
	h.SetSender(sender)
	h.Authenticate("D1")
	h.Authenticate("D2")

	info := protocol.SessionInfo{
		SessionID:   "T1",
		SessionType: TypeTerminal,
		WorkingDir:  t.TempDir(),
	}
	term, err := NewTerminal(info, h, 100, log)
	require.NoError(t, err)
	t.Cleanup(term.Terminate)
	return term, h, sender
}

func TestFirstSubscriberIsMaster(t *testing.T) {
	term, _, _ := newTestTerminal(t)

	first := term.Subscribe("D1")
	require.NotNil(t, first.IsMaster)
	assert.True(t, *first.IsMaster)
	assert.Equal(t, defaultCols, first.Cols)
	assert.Equal(t, defaultRows, first.Rows)

	second := term.Subscribe("D2")
	require.NotNil(t, second.IsMaster)
	assert.False(t, *second.IsMaster)
}

func TestMasterPromotionOnUnsubscribe(t *testing.T) {
	term, _, sender := newTestTerminal(t)
	term.Subscribe("D1")
	term.Subscribe("D2")
	term.Resize("D1", 100, 30)

	// The resize itself broadcasts session.resized to D2; count those
	// before unsubscribing so the promotion notice is told apart.
	resizedTo := func() []*protocol.Message {
		var out []*protocol.Message
		for _, m := range sender.ofType(protocol.TypeSessionResized) {
			if m.DeviceID == "D2" {
				out = append(out, m)
			}
		}
		return out
	}
	var before int
	require.Eventually(t, func() bool {
		before = len(resizedTo())
		return before >= 1
	}, time.Second, 10*time.Millisecond, "resize broadcast")

	term.Unsubscribe("D1")
	assert.Equal(t, "D2", term.Master())

	// The promoted device is told it is now master via session.resized
	// carrying the current size.
	var notice *protocol.Message
	require.Eventually(t, func() bool {
		frames := resizedTo()
		if len(frames) <= before {
			return false
		}
		notice = frames[len(frames)-1]
		return true
	}, time.Second, 10*time.Millisecond, "promotion notice")

	var payload protocol.ResizedPayload
	require.NoError(t, notice.ParsePayload(&payload))
	assert.True(t, payload.Success)
	assert.Equal(t, 100, payload.Cols)
	assert.Equal(t, 30, payload.Rows)
}

func TestResizeOnlyByMaster(t *testing.T) {
	term, _, _ := newTestTerminal(t)
	term.Subscribe("D1")
	term.Subscribe("D2")

	rejected := term.Resize("D2", 120, 40)
	assert.False(t, rejected.Success)
	assert.Equal(t, "not_master", rejected.Reason)
	assert.Equal(t, defaultCols, rejected.Cols)

	applied := term.Resize("D1", 120, 40)
	assert.True(t, applied.Success)
	assert.Equal(t, 120, applied.Cols)
	assert.Equal(t, 40, applied.Rows)
}

func TestResizeClampsToMinimums(t *testing.T) {
	term, _, _ := newTestTerminal(t)
	term.Subscribe("D1")

	applied := term.Resize("D1", 10, 5)
	assert.True(t, applied.Success)
	assert.Equal(t, minCols, applied.Cols)
	assert.Equal(t, minRows, applied.Rows)
}

func TestResizeBroadcastsToOtherSubscribers(t *testing.T) {
	term, _, sender := newTestTerminal(t)
	term.Subscribe("D1")
	term.Subscribe("D2")

	term.Resize("D1", 100, 30)

	var events []*protocol.Message
	require.Eventually(t, func() bool {
		events = sender.ofType(protocol.TypeSessionResized)
		return len(events) >= 1
	}, time.Second, 10*time.Millisecond)

	for _, m := range events {
		assert.Equal(t, "D2", m.DeviceID)
	}
}

func TestInputProducesOrderedOutput(t *testing.T) {
	term, _, sender := newTestTerminal(t)
	term.Subscribe("D1")

	require.NoError(t, term.Input("echo tiflis-marker\n"))

	require.Eventually(t, func() bool {
		for _, m := range sender.ofType(protocol.TypeSessionOutput) {
			var payload protocol.OutputPayload
			if m.ParsePayload(&payload) == nil && strings.Contains(payload.Content, "tiflis-marker") {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "echo output")

	outputs := sender.ofType(protocol.TypeSessionOutput)
	var last int64
	for _, m := range outputs {
		require.Greater(t, m.Sequence, last)
		last = m.Sequence
	}

	data := term.Replay(protocol.ReplayPayload{})
	assert.NotEmpty(t, data.Records)
	assert.Equal(t, "T1", data.SessionID)
}

func TestInputAfterTerminate(t *testing.T) {
	term, _, _ := newTestTerminal(t)
	term.Subscribe("D1")
	term.Terminate()
	assert.Error(t, term.Input("echo nope\n"))
}
