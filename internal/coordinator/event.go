package coordinator

import (
	"github.com/joss/aaroh/internal/domain"
)

// EventKind identifies what a coordinator event carries.
type EventKind string

const (
	EventVerdict EventKind = "verdict"
	EventStatus  EventKind = "status"
	EventSummary EventKind = "summary"
	EventFailed  EventKind = "failed"
)

// Event is one message from a session to its client. Events of a session
// are delivered in the order they were produced.
type Event struct {
	Kind      EventKind
	SessionID string
	Verdict   *domain.Verdict
	Summary   *domain.Summary
	Message   string // status text or failure reason
}

// Sink receives a session's events. A Deliver error marks the client as
// detached; undelivered events are kept until Attach.
type Sink interface {
	Deliver(ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ev Event) error {
	return f(ev)
}

func verdictEvent(v domain.Verdict) Event {
	return Event{Kind: EventVerdict, SessionID: v.SessionID, Verdict: &v}
}

func statusEvent(sessionID, msg string) Event {
	return Event{Kind: EventStatus, SessionID: sessionID, Message: msg}
}

func summaryEvent(s domain.Summary) Event {
	return Event{Kind: EventSummary, SessionID: s.SessionID, Summary: &s}
}

func failedEvent(sessionID, reason string) Event {
	return Event{Kind: EventFailed, SessionID: sessionID, Message: reason}
}

// Terminal reports whether no further events follow this one.
func (e Event) Terminal() bool {
	return e.Kind == EventSummary || e.Kind == EventFailed
}
