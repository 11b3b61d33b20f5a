// Package schedule loads and validates expected chord schedules.
//
// A schedule is the time-ordered list of chords derived from the ideal
// take. It is read-only for the lifetime of a session.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/joss/aaroh/internal/domain"
)

// ErrUnavailable is returned when a schedule cannot be loaded.
var ErrUnavailable = errors.New("schedule unavailable")

// ErrInvalid is returned when a schedule violates ordering or overlap rules.
var ErrInvalid = errors.New("invalid schedule")

// UnavailableError names the schedule that could not be loaded.
type UnavailableError struct {
	Ref string
	Err error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("schedule %q unavailable", e.Ref)
	}
	return fmt.Sprintf("schedule %q unavailable: %v", e.Ref, e.Err)
}

// Unwrap exposes both ErrUnavailable and the underlying cause.
func (e *UnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnavailable}
	}
	return []error{ErrUnavailable, e.Err}
}

// Provider resolves a schedule reference.
type Provider interface {
	Schedule(ctx context.Context, ref string) (*Schedule, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, ref string) (*Schedule, error)

// Schedule implements Provider.
func (f ProviderFunc) Schedule(ctx context.Context, ref string) (*Schedule, error) {
	return f(ctx, ref)
}

// Schedule is an ordered list of expected chord events.
type Schedule struct {
	Ref    string
	Title  string
	Events []domain.ChordEvent
}

// New sorts events by start, renumbers them and validates the result.
func New(ref, title string, events []domain.ChordEvent) (*Schedule, error) {
	sorted := make([]domain.ChordEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})
	for i := range sorted {
		sorted[i].Index = i
		sorted[i].Chord = strings.TrimSpace(sorted[i].Chord)
	}

	s := &Schedule{Ref: ref, Title: title, Events: sorted}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that events are sorted by start, have a chord and a
// positive duration, and do not overlap within a lane.
func (s *Schedule) Validate() error {
	lastEnd := map[int]float64{}
	for i, e := range s.Events {
		if e.Chord == "" {
			return fmt.Errorf("%w: event %d has no chord", ErrInvalid, i)
		}
		if e.Start < 0 || e.Duration <= 0 {
			return fmt.Errorf("%w: event %d (%s) has start %.3f duration %.3f", ErrInvalid, i, e.Chord, e.Start, e.Duration)
		}
		if i > 0 && e.Start < s.Events[i-1].Start {
			return fmt.Errorf("%w: event %d starts before event %d", ErrInvalid, i, i-1)
		}
		if end, ok := lastEnd[e.StringIndex]; ok && e.Start < end {
			return fmt.Errorf("%w: event %d (%s) overlaps the previous event in lane %d", ErrInvalid, i, e.Chord, e.StringIndex)
		}
		lastEnd[e.StringIndex] = e.End()
	}
	return nil
}

// Len returns the number of events.
func (s *Schedule) Len() int {
	return len(s.Events)
}

// Duration returns the end time of the last event, in seconds.
func (s *Schedule) Duration() float64 {
	var end float64
	for _, e := range s.Events {
		if e.End() > end {
			end = e.End()
		}
	}
	return end
}

// Chords returns the distinct chord labels in order of first appearance.
func (s *Schedule) Chords() []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range s.Events {
		if !seen[e.Chord] {
			seen[e.Chord] = true
			out = append(out, e.Chord)
		}
	}
	return out
}
