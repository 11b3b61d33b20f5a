package timeline

import (
	"sort"

	"github.com/joss/aaroh/internal/domain"
)

// ActiveAt returns the event with start <= t < start+duration.
// events must be sorted by start and non-overlapping.
func ActiveAt(events []domain.ChordEvent, t float64) (domain.ChordEvent, bool) {
	i := sort.Search(len(events), func(i int) bool {
		return events[i].Start > t
	}) - 1
	if i >= 0 && events[i].Contains(t) {
		return events[i], true
	}
	return domain.ChordEvent{}, false
}

// Cursor answers ActiveAt for a clock that mostly moves forward.
// Successive calls with non-decreasing t scan forward from the last
// position; a smaller t falls back to a binary search.
type Cursor struct {
	events []domain.ChordEvent
	pos    int // index of the last event with start <= last t, or -1
	last   float64
}

// NewCursor creates a cursor positioned before the first event.
func NewCursor(events []domain.ChordEvent) *Cursor {
	return &Cursor{events: events, pos: -1}
}

// Active returns the event active at t.
func (c *Cursor) Active(t float64) (domain.ChordEvent, bool) {
	if t < c.last {
		c.pos = sort.Search(len(c.events), func(i int) bool {
			return c.events[i].Start > t
		}) - 1
	}
	for c.pos+1 < len(c.events) && c.events[c.pos+1].Start <= t {
		c.pos++
	}
	c.last = t

	if c.pos >= 0 && c.events[c.pos].Contains(t) {
		return c.events[c.pos], true
	}
	return domain.ChordEvent{}, false
}

// Reset moves the cursor back to the beginning.
func (c *Cursor) Reset() {
	c.pos = -1
	c.last = 0
}
