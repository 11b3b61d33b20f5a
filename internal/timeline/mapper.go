// Package timeline maps chunk sequences and a playback clock onto an
// expected chord schedule.
package timeline

import (
	"math"
	"sort"
	"time"

	"github.com/joss/aaroh/internal/domain"
)

// Mapper maps a chunk sequence number to the expected event it attempted.
// A chunk with sequence n starts at n*chunk seconds; it matches the event
// whose start is nearest, provided the distance is at most half a chunk.
type Mapper struct {
	events []domain.ChordEvent
	chunk  float64
}

// NewMapper creates a mapper. events must be sorted by start.
func NewMapper(events []domain.ChordEvent, chunk time.Duration) *Mapper {
	return &Mapper{events: events, chunk: chunk.Seconds()}
}

// Index returns the index of the event sequence maps to, or -1.
func (m *Mapper) Index(sequence int) int {
	if len(m.events) == 0 || m.chunk <= 0 || sequence < 0 {
		return -1
	}
	t := float64(sequence) * m.chunk
	tolerance := m.chunk / 2

	// First event starting at or after t; the nearest start is it or its predecessor.
	i := sort.Search(len(m.events), func(i int) bool {
		return m.events[i].Start >= t
	})

	best, bestDist := -1, math.Inf(1)
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(m.events) {
			continue
		}
		d := math.Abs(m.events[j].Start - t)
		// Ties go to the earlier event.
		if d < bestDist {
			best, bestDist = j, d
		}
	}
	if bestDist > tolerance+1e-9 {
		return -1
	}
	return best
}

// EventFor returns the event sequence maps to.
func (m *Mapper) EventFor(sequence int) (domain.ChordEvent, bool) {
	i := m.Index(sequence)
	if i < 0 {
		return domain.ChordEvent{}, false
	}
	return m.events[i], true
}

// Annotate fills the expected-event fields of v and derives Correct.
// A failure verdict keeps Correct false.
func (m *Mapper) Annotate(v domain.Verdict) domain.Verdict {
	e, ok := m.EventFor(v.Sequence)
	if !ok {
		v.EventIndex = -1
		v.ExpectedChord = ""
		v.Correct = false
		return v
	}
	v.EventIndex = e.Index
	v.ExpectedChord = e.Chord
	v.Correct = v.Failure == "" && v.DetectedChord != "" && SameChord(v.DetectedChord, e.Chord)
	return v
}
