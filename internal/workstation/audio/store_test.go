package audio

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutGet(t *testing.T) {
	s := NewStore(10)
	s.Put("m1", TypeOutput, "AUDIO1")

	got, ok := s.Get("m1", TypeOutput)
	assert.True(t, ok)
	assert.Equal(t, "AUDIO1", got)

	_, ok = s.Get("m1", TypeInput)
	assert.False(t, ok)
}

func TestInputAndOutputCoexist(t *testing.T) {
	s := NewStore(10)
	s.Put("m1", TypeInput, "IN")
	s.Put("m1", TypeOutput, "OUT")

	in, _ := s.Get("m1", TypeInput)
	out, _ := s.Get("m1", TypeOutput)
	assert.Equal(t, "IN", in)
	assert.Equal(t, "OUT", out)
}

func TestEvictsOldest(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Put(fmt.Sprintf("m%d", i), TypeOutput, "A")
	}
	assert.Equal(t, 3, s.Len())

	_, ok := s.Get("m0", TypeOutput)
	assert.False(t, ok)
	_, ok = s.Get("m4", TypeOutput)
	assert.True(t, ok)
}

func TestGetRefreshesRecency(t *testing.T) {
	s := NewStore(2)
	s.Put("m1", TypeOutput, "A")
	s.Put("m2", TypeOutput, "B")

	// Touch m1 so m2 becomes the eviction candidate.
	s.Get("m1", TypeOutput)
	s.Put("m3", TypeOutput, "C")

	_, ok := s.Get("m1", TypeOutput)
	assert.True(t, ok)
	_, ok = s.Get("m2", TypeOutput)
	assert.False(t, ok)
}

func TestRePutRefreshes(t *testing.T) {
	s := NewStore(2)
	s.Put("m1", TypeOutput, "A")
	s.Put("m1", TypeOutput, "B")
	assert.Equal(t, 1, s.Len())

	got, _ := s.Get("m1", TypeOutput)
	assert.Equal(t, "B", got)
}
