package timeline

import (
	"sync"

	"github.com/joss/aaroh/internal/domain"
)

// Status is the feedback state of one expected event.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCorrect   Status = "correct"
	StatusIncorrect Status = "incorrect"
	StatusMissing   Status = "missing"
)

// Mark is an expected event together with what was played for it.
type Mark struct {
	Event    domain.ChordEvent
	Status   Status
	Detected string // label of the latest verdict, "" when none
}

// Frame is what a renderer draws at one playback position.
type Frame struct {
	Position float64
	Active   bool // false when the position falls between events
	Mark     Mark
}

// Timeline joins an expected schedule with the verdict stream.
// Verdicts may arrive on another goroutine than the one rendering.
type Timeline struct {
	mu       sync.Mutex
	events   []domain.ChordEvent
	cursor   *Cursor
	verdicts map[int]domain.Verdict // by event index, latest sequence wins
	sealed   bool
}

// New creates a timeline over events sorted by start.
func New(events []domain.ChordEvent) *Timeline {
	return &Timeline{
		events:   events,
		cursor:   NewCursor(events),
		verdicts: make(map[int]domain.Verdict),
	}
}

// Apply records a verdict against the event it was mapped to.
// Unmatched verdicts are ignored.
func (tl *Timeline) Apply(v domain.Verdict) {
	if !v.Matched() || v.EventIndex >= len(tl.events) {
		return
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if prev, ok := tl.verdicts[v.EventIndex]; ok && prev.Sequence > v.Sequence {
		return
	}
	tl.verdicts[v.EventIndex] = v
}

// Seal marks events still without a verdict as missing.
func (tl *Timeline) Seal() {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.sealed = true
}

// At returns the frame for playback position t.
func (tl *Timeline) At(t float64) Frame {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	f := Frame{Position: t}
	e, ok := tl.cursor.Active(t)
	if !ok {
		return f
	}
	f.Active = true
	f.Mark = tl.mark(e)
	return f
}

// Marks returns every event with its current status.
func (tl *Timeline) Marks() []Mark {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	out := make([]Mark, len(tl.events))
	for i, e := range tl.events {
		out[i] = tl.mark(e)
	}
	return out
}

func (tl *Timeline) mark(e domain.ChordEvent) Mark {
	m := Mark{Event: e, Status: StatusPending}
	v, ok := tl.verdicts[e.Index]
	switch {
	case ok:
		m.Detected = v.Label()
		m.Status = StatusIncorrect
		if v.Correct {
			m.Status = StatusCorrect
		}
	case tl.sealed:
		m.Status = StatusMissing
	}
	return m
}
