package protocol

import (
	"errors"
	"fmt"

	"github.com/joss/aaroh/internal/coordinator"
)

// Error codes carried in ErrorPayload.Code.
const (
	CodeBadRequest          = "bad_request"
	CodeSessionNotFound     = "session_not_found"
	CodeSessionExists       = "session_exists"
	CodeSessionBusy         = "session_busy"
	CodeScheduleUnavailable = "schedule_unavailable"
	CodeBackpressure        = "backpressure"
	CodeSessionFailed       = "session_failed"
	CodeUnavailable         = "server_unavailable"
	CodeInternal            = "internal"
)

// ErrDisconnected is returned by client calls once the connection is gone.
var ErrDisconnected = errors.New("connection closed")

// ErrorPayload reports a failed request or a failed session. It is also
// the error returned by client calls the server rejected.
type ErrorPayload struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	For       MessageType `json:"for,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Sequence  int         `json:"sequence,omitempty"`
}

func (p *ErrorPayload) Error() string {
	if p.SessionID != "" {
		return fmt.Sprintf("%s: %s (session %s)", p.Code, p.Message, p.SessionID)
	}
	return fmt.Sprintf("%s: %s", p.Code, p.Message)
}

// IsCode reports whether err is a server error with the given code.
func IsCode(err error, code string) bool {
	var p *ErrorPayload
	return errors.As(err, &p) && p.Code == code
}

// CodeFor maps a coordinator error to its wire code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, coordinator.ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, coordinator.ErrSessionExists):
		return CodeSessionExists
	case errors.Is(err, coordinator.ErrScheduleUnavailable):
		return CodeScheduleUnavailable
	case errors.Is(err, coordinator.ErrBackpressure):
		return CodeBackpressure
	case errors.Is(err, coordinator.ErrClosed):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}
