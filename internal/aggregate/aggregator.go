package aggregate

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/joss/aaroh/internal/domain"
)

var (
	// ErrSealed is returned when a verdict arrives after the summary was sealed.
	ErrSealed = errors.New("summary already sealed")
	// ErrDuplicate is returned for a second verdict with the same sequence.
	ErrDuplicate = errors.New("duplicate verdict sequence")
)

// DefaultGrace is how long a missing sequence holds back running totals.
const DefaultGrace = 2 * time.Second

// Running is a snapshot of the in-order running totals.
//
// Totals advance in sequence order. A sequence still missing after the
// grace window is skipped; if its verdict shows up later it is counted
// but earlier snapshots are not revised.
type Running struct {
	Next      int     `json:"next"` // lowest sequence not yet applied or skipped
	Received  int     `json:"received"`
	Applied   int     `json:"applied"`
	Correct   int     `json:"correct"`
	Mistakes  int     `json:"mistakes"`
	Unmatched int     `json:"unmatched"`
	Accuracy  float64 `json:"accuracy"`
	Skipped   []int   `json:"skipped,omitempty"`
	Buffered  int     `json:"buffered"`
}

// Options configures an Aggregator.
type Options struct {
	Grace time.Duration
	Now   func() time.Time
}

// Aggregator collects verdicts for one session.
// Add, Gap and Seal are serialized; Running may be called concurrently.
type Aggregator struct {
	mu        sync.RWMutex
	sessionID string
	events    []domain.ChordEvent
	grace     time.Duration
	now       func() time.Time

	verdicts     map[int]domain.Verdict
	pending      map[int]domain.Verdict // received, not yet applied in order
	gaps         map[int]bool
	skipped      map[int]bool
	waitingSince time.Time // when the hole at running.Next was first noticed
	running      Running
	final        *domain.Summary
}

// New creates an aggregator for a session's expected events.
func New(sessionID string, events []domain.ChordEvent, opts Options) *Aggregator {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		sessionID: sessionID,
		events:    events,
		grace:     opts.Grace,
		now:       opts.Now,
		verdicts:  make(map[int]domain.Verdict),
		pending:   make(map[int]domain.Verdict),
		gaps:      make(map[int]bool),
		skipped:   make(map[int]bool),
	}
}

// Add records a verdict and advances the running totals.
func (a *Aggregator) Add(v domain.Verdict) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.final != nil {
		return ErrSealed
	}
	if _, ok := a.verdicts[v.Sequence]; ok {
		return ErrDuplicate
	}
	a.verdicts[v.Sequence] = v
	a.running.Received++
	delete(a.gaps, v.Sequence)

	if v.Sequence < a.running.Next {
		// Its slot was already skipped: count it without reordering.
		delete(a.skipped, v.Sequence)
		a.apply(v)
	} else {
		a.pending[v.Sequence] = v
	}
	a.advance()
	return nil
}

// Gap records sequences that will never arrive. They no longer hold back
// the running totals and are reported in the summary.
func (a *Aggregator) Gap(sequences ...int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.final != nil {
		return
	}
	for _, s := range sequences {
		if _, ok := a.verdicts[s]; !ok {
			a.gaps[s] = true
		}
	}
	a.advance()
}

// Tick skips holes whose grace window has expired. Callers invoke it
// periodically so totals advance even when no verdict arrives.
func (a *Aggregator) Tick() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance()
}

func (a *Aggregator) advance() {
	for {
		if v, ok := a.pending[a.running.Next]; ok {
			delete(a.pending, a.running.Next)
			a.apply(v)
			a.running.Next++
			a.waitingSince = time.Time{}
			continue
		}
		if a.gaps[a.running.Next] {
			a.running.Next++
			a.waitingSince = time.Time{}
			continue
		}
		if len(a.pending) == 0 {
			break
		}

		// A later sequence is buffered but Next is missing.
		now := a.now()
		if a.waitingSince.IsZero() {
			a.waitingSince = now
		}
		if now.Sub(a.waitingSince) < a.grace {
			break
		}
		a.skipped[a.running.Next] = true
		a.running.Next++
	}
	a.running.Buffered = len(a.pending)
}

func (a *Aggregator) apply(v domain.Verdict) {
	a.running.Applied++
	switch {
	case !v.Matched():
		a.running.Unmatched++
	case v.Correct:
		a.running.Correct++
	default:
		a.running.Mistakes++
	}
	if n := a.running.Correct + a.running.Mistakes; n > 0 {
		a.running.Accuracy = round2(float64(a.running.Correct) / float64(n) * 100)
	}
}

// Running returns the current running totals.
func (a *Aggregator) Running() Running {
	a.mu.RLock()
	defer a.mu.RUnlock()

	r := a.running
	r.Skipped = make([]int, 0, len(a.skipped))
	for s := range a.skipped {
		r.Skipped = append(r.Skipped, s)
	}
	sort.Ints(r.Skipped)
	return r
}

// Summary recomputes the summary from every verdict received so far.
// After Seal it returns the sealed summary.
func (a *Aggregator) Summary() domain.Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.final != nil {
		return *a.final
	}
	return a.summarize()
}

func (a *Aggregator) summarize() domain.Summary {
	verdicts := make([]domain.Verdict, 0, len(a.verdicts))
	for _, v := range a.verdicts {
		verdicts = append(verdicts, v)
	}
	gaps := make([]int, 0, len(a.gaps))
	for g := range a.gaps {
		gaps = append(gaps, g)
	}
	return Summarize(a.sessionID, a.events, verdicts, gaps)
}

// Seal computes the final summary. Later verdicts are rejected and later
// calls return the same summary.
func (a *Aggregator) Seal() domain.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.final == nil {
		s := a.summarize()
		s.Final = true
		a.final = &s
	}
	return *a.final
}

// Verdicts returns the received verdicts ordered by sequence.
func (a *Aggregator) Verdicts() []domain.Verdict {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]domain.Verdict, 0, len(a.verdicts))
	for _, v := range a.verdicts {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}
