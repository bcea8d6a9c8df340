package session

import (
	"strings"
	"sync"
	"time"

	"github.com/tiflis/tiflis/pkg/protocol"
)

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// history is a bounded chronological record of chat turns. Oldest turns
// fall off when the window is exceeded; sequences keep increasing.
type history struct {
	mu      sync.Mutex
	turns   []protocol.HistoryRecord
	window  int
	seq     int64
}

func newHistory(window int) *history {
	if window <= 0 {
		window = 50
	}
	return &history{window: window}
}

func (h *history) append(role, content string, blocks []protocol.ContentBlock) protocol.HistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	rec := protocol.HistoryRecord{
		Role:          role,
		Content:       content,
		ContentBlocks: blocks,
		Sequence:      h.seq,
		CreatedAt:     time.Now().UnixMilli(),
	}
	h.turns = append(h.turns, rec)
	if len(h.turns) > h.window {
		h.turns = h.turns[len(h.turns)-h.window:]
	}
	return rec
}

func (h *history) snapshot() []protocol.HistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]protocol.HistoryRecord(nil), h.turns...)
}

func (h *history) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}

// blocksText joins the text content of a turn's blocks, for history and
// for TTS summarization.
func blocksText(blocks []protocol.ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.BlockType == protocol.BlockText && b.Content != "" {
			parts = append(parts, b.Content)
		}
	}
	return strings.Join(parts, "\n")
}
