// Package store persists expected schedules and archived practice sessions.
package store

import (
	"context"
	"time"

	"github.com/joss/aaroh/internal/domain"
)

// Store is the minimal interface all stores implement.
type Store interface {
	// Ping verifies the backing database is usable.
	Ping(ctx context.Context) error
	// Close releases any resources held by the store.
	Close() error
}

// Filter defines query parameters for listing records.
type Filter struct {
	Limit       int                 // Maximum results (0 = no limit)
	Offset      int                 // Skip first N results
	OrderDesc   bool                // Newest first if true
	State       domain.SessionState // Sessions only; empty matches all
	ScheduleRef string              // Sessions only; empty matches all
}

// DefaultFilter returns a filter with sensible defaults.
func DefaultFilter() Filter {
	return Filter{
		Limit:     100,
		OrderDesc: true,
	}
}

// WithLimit returns a copy of the filter with a new limit.
func (f Filter) WithLimit(n int) Filter {
	f.Limit = n
	return f
}

// WithOffset returns a copy of the filter with a new offset.
func (f Filter) WithOffset(n int) Filter {
	f.Offset = n
	return f
}

// WithState returns a copy of the filter restricted to one session state.
func (f Filter) WithState(s domain.SessionState) Filter {
	f.State = s
	return f
}

// WithSchedule returns a copy of the filter restricted to one schedule.
func (f Filter) WithSchedule(ref string) Filter {
	f.ScheduleRef = ref
	return f
}

// ScheduleRecord is a stored expected schedule.
type ScheduleRecord struct {
	Ref       string
	Title     string
	Source    string // file the schedule was imported from, if any
	Events    []domain.ChordEvent
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionRecord is an archived session with its sealed summary, if any.
type SessionRecord struct {
	Session domain.Session
	Summary *domain.Summary
}

// ScheduleStore reads and writes expected schedules.
type ScheduleStore interface {
	Store
	PutSchedule(ctx context.Context, rec *ScheduleRecord) error
	GetSchedule(ctx context.Context, ref string) (*ScheduleRecord, error)
	ListSchedules(ctx context.Context, filter Filter) ([]*ScheduleRecord, error)
	DeleteSchedule(ctx context.Context, ref string) error
}

// Archive records session progress so finished sessions can be reviewed.
// Consumers that only write depend on Archive; the CLI reads through ArchiveReader.
type Archive interface {
	SaveSession(ctx context.Context, s *domain.Session) error
	SaveVerdict(ctx context.Context, v domain.Verdict) error
	SaveSummary(ctx context.Context, s *domain.Summary) error
}

// ArchiveReader reads archived sessions.
type ArchiveReader interface {
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	ListSessions(ctx context.Context, filter Filter) ([]*SessionRecord, error)
	Verdicts(ctx context.Context, sessionID string) ([]domain.Verdict, error)
}
