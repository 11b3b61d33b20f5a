// Package recognizer turns an audio chunk into a chord label.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joss/aaroh/internal/logging"
)

var (
	// ErrTimeout is returned when recognition exceeds its deadline.
	ErrTimeout = errors.New("recognition timed out")
	// ErrRejected is returned when the recognizer refuses the audio.
	ErrRejected = errors.New("recognizer rejected audio")
)

// Result is the outcome of one recognition. An empty Chord means no
// chord was heard.
type Result struct {
	Chord      string  `json:"chord"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Recognizer identifies the chord in an encoded audio chunk.
type Recognizer interface {
	Recognize(ctx context.Context, payload []byte) (Result, error)
}

// Func adapts a function to Recognizer.
type Func func(ctx context.Context, payload []byte) (Result, error)

// Recognize implements Recognizer.
func (f Func) Recognize(ctx context.Context, payload []byte) (Result, error) {
	return f(ctx, payload)
}

type bounded struct {
	inner   Recognizer
	timeout time.Duration
}

// WithTimeout bounds every call to inner by timeout. The call returns
// ErrTimeout at the deadline even if inner ignores its context, and a
// panic in inner is returned as an error.
func WithTimeout(inner Recognizer, timeout time.Duration) Recognizer {
	return &bounded{inner: inner, timeout: timeout}
}

func (b *bounded) Recognize(ctx context.Context, payload []byte) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		var res Result
		err := logging.NewRecoveryHandler("recognizer").WrapError(func() error {
			var err error
			res, err = b.inner.Recognize(ctx, payload)
			return err
		})
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w after %v", ErrTimeout, b.timeout)
		}
		return o.res, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w after %v", ErrTimeout, b.timeout)
		}
		return Result{}, ctx.Err()
	}
}

// Scripted returns Chords in call order, cycling when exhausted.
// It is used for demos and tests.
type Scripted struct {
	Chords []string
	Delay  time.Duration

	mu   sync.Mutex
	next int
}

// Recognize implements Recognizer.
func (s *Scripted) Recognize(ctx context.Context, payload []byte) (Result, error) {
	s.mu.Lock()
	var chord string
	if len(s.Chords) > 0 {
		chord = s.Chords[s.next%len(s.Chords)]
		s.next++
	}
	s.mu.Unlock()

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return Result{Chord: chord, Confidence: 1}, nil
}
