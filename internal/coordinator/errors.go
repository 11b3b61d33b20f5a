package coordinator

import (
	"errors"

	"github.com/joss/aaroh/internal/schedule"
)

var (
	// ErrSessionNotFound is returned when no session with the ID accepts the request.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when starting a session whose ID is in use.
	ErrSessionExists = errors.New("session already exists")

	// ErrDuplicateSequence is returned when a chunk's sequence was already accepted.
	// The chunk is ignored.
	ErrDuplicateSequence = errors.New("duplicate chunk sequence")

	// ErrBackpressure is returned when the session queue stayed full for the
	// whole backpressure bound. The chunk was not accepted and may be resent.
	ErrBackpressure = errors.New("session queue full")

	// ErrScheduleUnavailable is returned by Start when the schedule cannot be loaded.
	ErrScheduleUnavailable = schedule.ErrUnavailable

	// ErrTransportLost is the failure reason when a detached client does not
	// come back within the reconnect window.
	ErrTransportLost = errors.New("transport lost")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("coordinator closed")
)
