package logging

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// PanicError is returned by WrapError when the wrapped function panicked.
type PanicError struct {
	Component string
	Value     interface{}
	Stack     string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Component, e.Value)
}

// IsPanic reports whether err came from a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}

// RecoveryHandler turns panics into log events and, for WrapError, errors.
// Session is attached to the log event when set.
type RecoveryHandler struct {
	Component string
	Session   string
	OnPanic   func(err interface{}, stack string)
}

// NewRecoveryHandler creates a recovery handler for a component.
func NewRecoveryHandler(component string) *RecoveryHandler {
	return &RecoveryHandler{Component: component}
}

// ForSession returns a copy of the handler that tags events with a session.
func (r *RecoveryHandler) ForSession(session string) *RecoveryHandler {
	cp := *r
	cp.Session = session
	return &cp
}

// Wrap runs fn and swallows a panic after logging it.
func (r *RecoveryHandler) Wrap(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.handle(rec, string(debug.Stack()))
		}
	}()
	fn()
}

// WrapError runs fn and converts a panic into a *PanicError.
func (r *RecoveryHandler) WrapError(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = r.handle(rec, string(debug.Stack()))
		}
	}()
	return fn()
}

func (r *RecoveryHandler) handle(rec interface{}, stack string) error {
	pe := &PanicError{Component: r.Component, Value: rec, Stack: stack}

	New(r.Component).WithSession(r.Session).Error("panic_recovered", map[string]interface{}{
		"stack":     stack,
		"recovered": true,
	}, pe)

	if r.OnPanic != nil {
		r.OnPanic(rec, stack)
	}
	return pe
}

// SafeGo launches a goroutine whose panics are logged instead of crashing
// the process.
func SafeGo(component string, fn func()) {
	go NewRecoveryHandler(component).Wrap(fn)
}

// Recover logs a panic in progress. Use it as `defer logging.Recover("x")`.
func Recover(component string) {
	if rec := recover(); rec != nil {
		NewRecoveryHandler(component).handle(rec, string(debug.Stack()))
	}
}
