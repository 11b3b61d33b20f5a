package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joss/aaroh/internal/domain"
)

func seqs(chunks []domain.Chunk) []int {
	out := make([]int, len(chunks))
	for i, c := range chunks {
		out[i] = c.Sequence
	}
	return out
}

func TestReplayBuffer_KeepsSequenceOrder(t *testing.T) {
	b := NewReplayBuffer(4)
	for _, s := range []int{2, 0, 3, 1} {
		b.Push(domain.Chunk{Sequence: s})
	}
	assert.Equal(t, []int{0, 1, 2, 3}, seqs(b.Pending()))
	assert.Equal(t, 4, b.Len())
}

func TestReplayBuffer_EvictsOldestAsLost(t *testing.T) {
	b := NewReplayBuffer(2)

	b.Push(domain.Chunk{Sequence: 0})
	b.Push(domain.Chunk{Sequence: 1})

	evicted, lost := b.Push(domain.Chunk{Sequence: 2})
	assert.Equal(t, 0, evicted.Sequence)
	assert.True(t, lost)

	// Acknowledged chunks leave the buffer and are never evicted.
	assert.True(t, b.Ack(1))
	_, lost = b.Push(domain.Chunk{Sequence: 3})
	assert.False(t, lost)

	evicted, lost = b.Push(domain.Chunk{Sequence: 4})
	assert.Equal(t, 2, evicted.Sequence)
	assert.True(t, lost)

	assert.Equal(t, []int{3, 4}, seqs(b.Pending()))
}

func TestReplayBuffer_AckAndGet(t *testing.T) {
	b := NewReplayBuffer(0)
	assert.Equal(t, DefaultReplaySize, b.size)

	b.Push(domain.Chunk{Sequence: 5, Payload: []byte("a")})
	b.Push(domain.Chunk{Sequence: 6})

	c, ok := b.Get(5)
	assert.True(t, ok)
	assert.Equal(t, []byte("a"), c.Payload)

	assert.True(t, b.Ack(5))
	assert.False(t, b.Ack(5))
	_, ok = b.Get(5)
	assert.False(t, ok)
	assert.Equal(t, []int{6}, seqs(b.Pending()))
}

func TestReplayBuffer_RepushReplaces(t *testing.T) {
	b := NewReplayBuffer(2)
	b.Push(domain.Chunk{Sequence: 1, Payload: []byte("old")})
	_, lost := b.Push(domain.Chunk{Sequence: 1, Payload: []byte("new")})

	assert.False(t, lost)
	assert.Equal(t, 1, b.Len())
	c, _ := b.Get(1)
	assert.Equal(t, []byte("new"), c.Payload)
}
