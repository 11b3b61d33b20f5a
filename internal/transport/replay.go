package transport

import (
	"sort"

	"github.com/joss/aaroh/internal/domain"
)

// DefaultReplaySize is how many unacknowledged chunks a link keeps.
const DefaultReplaySize = 8

// ReplayBuffer holds the most recent unacknowledged chunks in sequence
// order. It is not safe for concurrent use.
type ReplayBuffer struct {
	size   int
	chunks []domain.Chunk
}

// NewReplayBuffer creates a buffer holding at most size chunks.
func NewReplayBuffer(size int) *ReplayBuffer {
	if size <= 0 {
		size = DefaultReplaySize
	}
	return &ReplayBuffer{size: size}
}

func (b *ReplayBuffer) find(seq int) int {
	i := sort.Search(len(b.chunks), func(i int) bool { return b.chunks[i].Sequence >= seq })
	if i < len(b.chunks) && b.chunks[i].Sequence == seq {
		return i
	}
	return -1
}

// Push adds a chunk. When the buffer is full the oldest chunk is evicted
// and lost is true. Held chunks are unacknowledged, so an evicted chunk
// must be reported as a gap even if it was written to a connection.
func (b *ReplayBuffer) Push(c domain.Chunk) (evicted domain.Chunk, lost bool) {
	if i := b.find(c.Sequence); i >= 0 {
		b.chunks[i] = c
		return domain.Chunk{}, false
	}

	i := sort.Search(len(b.chunks), func(i int) bool { return b.chunks[i].Sequence > c.Sequence })
	b.chunks = append(b.chunks, domain.Chunk{})
	copy(b.chunks[i+1:], b.chunks[i:])
	b.chunks[i] = c

	if len(b.chunks) <= b.size {
		return domain.Chunk{}, false
	}
	old := b.chunks[0]
	b.chunks = b.chunks[1:]
	return old, true
}

// Ack drops an acknowledged chunk. It reports whether the chunk was held.
func (b *ReplayBuffer) Ack(seq int) bool {
	i := b.find(seq)
	if i < 0 {
		return false
	}
	b.chunks = append(b.chunks[:i], b.chunks[i+1:]...)
	return true
}

// Get returns a held chunk.
func (b *ReplayBuffer) Get(seq int) (domain.Chunk, bool) {
	i := b.find(seq)
	if i < 0 {
		return domain.Chunk{}, false
	}
	return b.chunks[i], true
}

// Pending returns every held chunk in sequence order.
func (b *ReplayBuffer) Pending() []domain.Chunk {
	out := make([]domain.Chunk, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Len returns the number of held chunks.
func (b *ReplayBuffer) Len() int {
	return len(b.chunks)
}
