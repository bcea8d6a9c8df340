package session

import (
	"sync"
	"time"

	"github.com/tiflis/tiflis/pkg/protocol"
)

// outputRing is a bounded buffer of output records with a strictly
// increasing per-session sequence starting at 1. When full, the oldest
// record is evicted; replay callers learn the surviving range from
// FirstSequence/LastSequence.
type outputRing struct {
	mu      sync.Mutex
	records []protocol.OutputRecord
	limit   int
	seq     int64
}

func newOutputRing(limit int) *outputRing {
	if limit <= 0 {
		limit = 1000
	}
	return &outputRing{limit: limit}
}

// Append stores a chunk and returns its assigned sequence.
func (r *outputRing) Append(content string) protocol.OutputRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	rec := protocol.OutputRecord{
		Sequence:  r.seq,
		Timestamp: time.Now().UnixMilli(),
		Content:   content,
	}
	r.records = append(r.records, rec)
	if len(r.records) > r.limit {
		r.records = r.records[len(r.records)-r.limit:]
	}
	return rec
}

// Replay returns up to limit records strictly after the cursor, plus the
// ring boundaries. since < 0 means "from the beginning".
func (r *outputRing) Replay(since int64, limit int) protocol.ReplayDataPayload {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = defaultReplayLimit
	}

	out := protocol.ReplayDataPayload{CurrentSequence: r.seq}
	if len(r.records) > 0 {
		out.FirstSequence = r.records[0].Sequence
		out.LastSequence = r.records[len(r.records)-1].Sequence
	}

	for _, rec := range r.records {
		if rec.Sequence <= since {
			continue
		}
		if len(out.Records) == limit {
			out.HasMore = true
			break
		}
		out.Records = append(out.Records, rec)
	}
	return out
}

// ReplaySinceTime returns up to limit records with timestamps strictly
// after the given instant.
func (r *outputRing) ReplaySinceTime(sinceMillis int64, limit int) protocol.ReplayDataPayload {
	r.mu.Lock()
	cursor := int64(0)
	for _, rec := range r.records {
		if rec.Timestamp <= sinceMillis {
			cursor = rec.Sequence
		}
	}
	r.mu.Unlock()
	return r.Replay(cursor, limit)
}

// Current returns the latest assigned sequence.
func (r *outputRing) Current() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

const defaultReplayLimit = 100
