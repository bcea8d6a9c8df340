// Package audio keeps synthesized and recorded audio out of band. Sync
// snapshots and history carry has_audio flags only; clients fetch the bytes
// by message id through audio.request.
package audio

import (
	"container/list"
	"sync"
)

// Audio types stored per message.
const (
	TypeInput  = "input"  // user voice recording
	TypeOutput = "output" // synthesized assistant speech
)

type entry struct {
	key   string
	audio string
}

// Store is a bounded LRU of base64 audio keyed by message id and audio
// type. Oldest entries are evicted when the capacity is exceeded.
type Store struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
}

// NewStore creates a store holding at most capacity entries.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 100
	}
	return &Store{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Put stores audio for a message. Re-putting an existing key refreshes it.
func (s *Store) Put(messageID, audioType, audioBase64 string) {
	key := messageID + "/" + audioType

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		el.Value.(*entry).audio = audioBase64
		s.order.MoveToFront(el)
		return
	}
	s.entries[key] = s.order.PushFront(&entry{key: key, audio: audioBase64})
	if s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*entry).key)
	}
}

// Get returns the audio for a message, if still stored.
func (s *Store) Get(messageID, audioType string) (string, bool) {
	key := messageID + "/" + audioType

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return "", false
	}
	s.order.MoveToFront(el)
	return el.Value.(*entry).audio, true
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
