package longpoll

import (
	"sync"
	"time"

	"github.com/tiflis/tiflis/pkg/protocol"
)

// Record is one queued frame with the adapter-assigned delivery sequence.
// This sequence is the long-poll cursor and is unrelated to the per-session
// sequences inside the message itself.
type Record struct {
	Sequence int64             `json:"sequence"`
	Message  *protocol.Message `json:"message"`
}

// virtualClient is a forwarder.Link backed by a bounded ring instead of a
// socket. The forwarder pushes into it; HTTP polls drain it.
type virtualClient struct {
	deviceID string
	tunnelID string
	limit    int

	mu       sync.Mutex
	records  []Record
	seq      int64
	lastPoll time.Time
}

func newVirtualClient(deviceID, tunnelID string, limit int) *virtualClient {
	return &virtualClient{
		deviceID: deviceID,
		tunnelID: tunnelID,
		limit:    limit,
		lastPoll: time.Now(),
	}
}

// Send enqueues a frame. The ring never rejects: on overflow the oldest
// record is dropped and a QUEUE_OVERFLOW marker takes its place so the
// device knows it lost data and can replay.
func (vc *virtualClient) Send(msg *protocol.Message) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if len(vc.records) >= vc.limit {
		drop := len(vc.records) - vc.limit + 2
		if drop > len(vc.records) {
			drop = len(vc.records)
		}
		vc.records = vc.records[drop:]
		vc.seq++
		vc.records = append(vc.records, Record{
			Sequence: vc.seq,
			Message:  protocol.NewError("", protocol.ErrQueueOverflow, "messages dropped, replay to recover"),
		})
	}

	vc.seq++
	vc.records = append(vc.records, Record{Sequence: vc.seq, Message: msg})
	return nil
}

// Close satisfies forwarder.Link. A non-empty code is queued as an error
// record; the virtual client itself stays pollable until it is removed or
// expires.
func (vc *virtualClient) Close(code string) {
	if code == "" {
		return
	}
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.seq++
	vc.records = append(vc.records, Record{
		Sequence: vc.seq,
		Message:  protocol.NewError("", code, "connection closed"),
	})
}

// after returns records with sequence strictly greater than since, plus the
// current head sequence.
func (vc *virtualClient) after(since int64) ([]Record, int64) {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	out := make([]Record, 0, len(vc.records))
	for _, r := range vc.records {
		if r.Sequence > since {
			out = append(out, r)
		}
	}
	return out, vc.seq
}

// acknowledge trims records with sequence <= ack.
func (vc *virtualClient) acknowledge(ack int64) {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	i := 0
	for i < len(vc.records) && vc.records[i].Sequence <= ack {
		i++
	}
	vc.records = vc.records[i:]
}

func (vc *virtualClient) touch() {
	vc.mu.Lock()
	vc.lastPoll = time.Now()
	vc.mu.Unlock()
}

func (vc *virtualClient) idleSince() time.Time {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.lastPoll
}

func (vc *virtualClient) stats() (queued int, current int64) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return len(vc.records), vc.seq
}
