// Package domain defines the core types of a practice session.
// Capture, transport, coordination and aggregation all speak in these terms.
package domain

import "time"

// SessionState is the lifecycle state of one practice attempt.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateRecording  SessionState = "recording"
	StateFinalizing SessionState = "finalizing"
	StateCompleted  SessionState = "completed"
	StateFailed     SessionState = "failed"
)

// stateMeta describes each state (extend via map, not switch).
var stateMeta = map[SessionState]struct {
	Accepting bool
	Terminal  bool
}{
	StateIdle:       {false, false},
	StateRecording:  {true, false},
	StateFinalizing: {false, false},
	StateCompleted:  {false, true},
	StateFailed:     {false, true},
}

// Accepting reports whether chunks may be submitted in this state.
func (s SessionState) Accepting() bool {
	return stateMeta[s].Accepting
}

// Terminal reports whether the session can no longer change.
func (s SessionState) Terminal() bool {
	return stateMeta[s].Terminal
}

// Valid reports whether s is a known state.
func (s SessionState) Valid() bool {
	_, ok := stateMeta[s]
	return ok
}

// Session identifies one practice attempt.
type Session struct {
	ID            string        `json:"id"`
	State         SessionState  `json:"state"`
	ScheduleRef   string        `json:"schedule_ref"`
	ChunkDuration time.Duration `json:"chunk_duration"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       time.Time     `json:"ended_at,omitempty"`
	Reason        string        `json:"reason,omitempty"` // set when failed
}

// Elapsed returns how long the session ran, or has run so far.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if !s.EndedAt.IsZero() {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}
