// Package runtime coordinates orderly teardown of the aaroh server and client.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joss/aaroh/internal/logging"
)

// ShutdownFunc is a cleanup step run during shutdown.
type ShutdownFunc func(ctx context.Context) error

// ShutdownManager runs registered cleanup steps once, last registered first.
//
// Steps run sequentially: the gateway must stop accepting chunks before
// open sessions are finalized, and sessions must be finalized before the
// archive store is closed.
type ShutdownManager struct {
	mu          sync.Mutex
	steps       []namedStep
	timeout     time.Duration
	shutdownCtx context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	once        sync.Once
	err         error
	log         *logging.Logger
}

type namedStep struct {
	name string
	fn   ShutdownFunc
}

// DefaultShutdownTimeout bounds the whole teardown.
const DefaultShutdownTimeout = 10 * time.Second

// NewShutdownManager creates a manager whose steps share one timeout.
func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ShutdownManager{
		timeout:     timeout,
		shutdownCtx: ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		log:         logging.New("shutdown"),
	}
}

// Register adds a cleanup step.
func (m *ShutdownManager) Register(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, namedStep{name: name, fn: fn})
}

// RegisterSimple adds a cleanup step that cannot fail.
func (m *ShutdownManager) RegisterSimple(name string, fn func()) {
	m.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// Context is cancelled as soon as shutdown begins.
func (m *ShutdownManager) Context() context.Context {
	return m.shutdownCtx
}

// Done is closed once every step has returned or the timeout expired.
func (m *ShutdownManager) Done() <-chan struct{} {
	return m.done
}

// Err returns the joined step errors after Done is closed.
func (m *ShutdownManager) Err() error {
	<-m.done
	return m.err
}

// ListenForSignals triggers Shutdown on SIGINT or SIGTERM.
func (m *ShutdownManager) ListenForSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-sigChan:
			m.log.Info("signal", map[string]interface{}{"signal": sig.String()})
			m.Shutdown()
		case <-m.done:
		}
		signal.Stop(sigChan)
	}()
}

// Shutdown runs the teardown. Later calls are no-ops.
func (m *ShutdownManager) Shutdown() {
	m.once.Do(m.performShutdown)
}

func (m *ShutdownManager) performShutdown() {
	defer close(m.done)

	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	steps := make([]namedStep, len(m.steps))
	copy(steps, m.steps)
	m.mu.Unlock()

	m.log.Info("shutdown_begin", map[string]interface{}{"steps": len(steps)})

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			m.log.Warn("shutdown_timeout", map[string]interface{}{"skipped": steps[i].name}, ctx.Err())
			errs = append(errs, fmt.Errorf("%s: %w", steps[i].name, ctx.Err()))
			continue
		}
		if err := m.runStep(ctx, steps[i]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", steps[i].name, err))
		}
	}

	m.err = errors.Join(errs...)
	m.log.Info("shutdown_complete", map[string]interface{}{"errors": len(errs)})
}

// runStep bounds a single step by ctx even if the step ignores it.
func (m *ShutdownManager) runStep(ctx context.Context, step namedStep) error {
	start := time.Now()
	result := make(chan error, 1)
	go func() {
		result <- logging.NewRecoveryHandler("shutdown").WrapError(func() error {
			return step.fn(ctx)
		})
	}()

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		m.log.Warn("step_failed", map[string]interface{}{"step": step.name}, err)
	} else {
		m.log.TimedEvent("step_done", start, map[string]interface{}{"step": step.name})
	}
	return err
}
