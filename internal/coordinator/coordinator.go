// Package coordinator runs live feedback sessions: it accepts chunks,
// dispatches them to a recognizer with bounded concurrency, emits one
// verdict per accepted chunk in acceptance order, and seals the summary
// once the stream ends.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joss/aaroh/internal/aggregate"
	"github.com/joss/aaroh/internal/config"
	"github.com/joss/aaroh/internal/domain"
	"github.com/joss/aaroh/internal/logging"
	"github.com/joss/aaroh/internal/metrics"
	"github.com/joss/aaroh/internal/recognizer"
	"github.com/joss/aaroh/internal/schedule"
	"github.com/joss/aaroh/internal/store"
)

// Options tunes a Coordinator. Zero values take the defaults from
// config.Defaults.
type Options struct {
	ChunkDuration       time.Duration
	Dispatch            int
	QueueDepth          int
	RecognitionTimeout  time.Duration
	BackpressureTimeout time.Duration
	GraceWindow         time.Duration
	ReconnectWindow     time.Duration
}

// OptionsFrom copies the session tuning out of loaded settings.
func OptionsFrom(s config.Settings) Options {
	return Options{
		ChunkDuration:       s.ChunkDuration,
		Dispatch:            s.Dispatch,
		QueueDepth:          s.QueueDepth,
		RecognitionTimeout:  s.RecognitionTimeout,
		BackpressureTimeout: s.BackpressureTimeout,
		GraceWindow:         s.GraceWindow,
		ReconnectWindow:     s.ReconnectWindow,
	}
}

func (o Options) withDefaults() Options {
	d := OptionsFrom(config.Defaults())
	if o.ChunkDuration <= 0 {
		o.ChunkDuration = d.ChunkDuration
	}
	if o.Dispatch <= 0 {
		o.Dispatch = d.Dispatch
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = d.QueueDepth
	}
	if o.RecognitionTimeout <= 0 {
		o.RecognitionTimeout = d.RecognitionTimeout
	}
	if o.BackpressureTimeout <= 0 {
		o.BackpressureTimeout = d.BackpressureTimeout
	}
	if o.GraceWindow <= 0 {
		o.GraceWindow = d.GraceWindow
	}
	if o.ReconnectWindow <= 0 {
		o.ReconnectWindow = d.ReconnectWindow
	}
	return o
}

// Deps are the collaborators of a Coordinator. Archive and Metrics are optional.
type Deps struct {
	Schedules  schedule.Provider
	Recognizer recognizer.Recognizer
	Archive    store.Archive
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// StartRequest opens a session.
type StartRequest struct {
	SessionID     string // generated when empty
	ScheduleRef   string
	ChunkDuration time.Duration // coordinator default when zero
}

// Snapshot is the observable state of a session.
type Snapshot struct {
	Session domain.Session
	Running aggregate.Running
	Summary domain.Summary
	Held    int // events not yet delivered, e.g. while the client is away
}

// Coordinator owns every live session.
type Coordinator struct {
	opts Options
	deps Deps
	rec  recognizer.Recognizer
	log  *logging.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// New creates a coordinator.
func New(opts Options, deps Deps) *Coordinator {
	opts = opts.withDefaults()
	if deps.Metrics == nil {
		deps.Metrics = metrics.Global()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Coordinator{
		opts:     opts,
		deps:     deps,
		rec:      recognizer.WithTimeout(deps.Recognizer, opts.RecognitionTimeout),
		log:      logging.New("coordinator"),
		sessions: make(map[string]*session),
	}
}

// Options returns the effective options.
func (c *Coordinator) Options() Options {
	return c.opts
}

// Start loads the schedule and opens a Recording session whose events go
// to sink. No session is created when the schedule is unavailable.
func (c *Coordinator) Start(ctx context.Context, req StartRequest, sink Sink) (domain.Session, error) {
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = ulid.Make().String()
	}
	chunk := req.ChunkDuration
	if chunk <= 0 {
		chunk = c.opts.ChunkDuration
	}

	c.mu.Lock()
	closed, exists := c.closed, c.sessions[id] != nil
	c.mu.Unlock()
	if closed {
		return domain.Session{}, ErrClosed
	}
	if exists {
		return domain.Session{}, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	sched, err := c.deps.Schedules.Schedule(ctx, req.ScheduleRef)
	if err != nil {
		c.log.WithSession(id).Warn("schedule_unavailable", map[string]interface{}{"ref": req.ScheduleRef}, err)
		if _, ok := err.(*schedule.UnavailableError); !ok {
			err = &schedule.UnavailableError{Ref: req.ScheduleRef, Err: err}
		}
		return domain.Session{}, err
	}

	info := domain.Session{
		ID:            id,
		State:         domain.StateIdle,
		ScheduleRef:   sched.Ref,
		ChunkDuration: chunk,
		StartedAt:     c.deps.Now(),
	}
	s := newSession(c, info, sched, sink)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.Session{}, ErrClosed
	}
	if c.sessions[id] != nil {
		c.mu.Unlock()
		return domain.Session{}, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	c.sessions[id] = s
	c.mu.Unlock()

	s.begin()
	return s.snapshotInfo(), nil
}

func (c *Coordinator) lookup(id string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (c *Coordinator) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

// Submit accepts a chunk for recognition. It returns ErrSessionNotFound
// unless the session is Recording, ErrDuplicateSequence for a sequence
// already accepted, and ErrBackpressure when the queue stays full.
func (c *Coordinator) Submit(ctx context.Context, chunk domain.Chunk) error {
	s, err := c.lookup(chunk.SessionID)
	if err != nil {
		c.deps.Metrics.RecordChunk(metrics.ChunkRejected)
		return err
	}
	return s.submit(ctx, chunk)
}

// Gap records sequences the client could not deliver.
func (c *Coordinator) Gap(sessionID string, sequences []int) error {
	s, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	s.gap(sequences)
	return nil
}

// Finalize stops accepting chunks, waits for accepted chunks to be
// recognized or time out, and returns the sealed summary. The summary is
// also delivered to the sink exactly once. If ctx ends first, finalization
// continues in the background.
func (c *Coordinator) Finalize(ctx context.Context, sessionID string) (domain.Summary, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return domain.Summary{}, err
	}
	return s.finalize(ctx)
}

// Abort fails the session, cancelling in-flight recognition.
func (c *Coordinator) Abort(sessionID, reason string) error {
	s, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	s.fail(reason)
	return nil
}

// Detach records that the client connection went away. Events are held
// until Attach; if no Attach happens within the reconnect window the
// session fails with ErrTransportLost. When sink is non-nil the session
// is only detached if it still delivers to sink.
func (c *Coordinator) Detach(sessionID string, sink Sink) error {
	s, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	s.detach(sink)
	return nil
}

// Attach resumes delivery to a new sink and replays held events.
func (c *Coordinator) Attach(sessionID string, sink Sink) (domain.Session, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if !s.attach(sink) {
		return domain.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s.snapshotInfo(), nil
}

// Status returns the session, its running totals and the summary so far.
func (c *Coordinator) Status(sessionID string) (Snapshot, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// Sessions lists live sessions.
func (c *Coordinator) Sessions() []domain.Session {
	c.mu.Lock()
	list := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		list = append(list, s)
	}
	c.mu.Unlock()

	out := make([]domain.Session, 0, len(list))
	for _, s := range list {
		out = append(out, s.snapshotInfo())
	}
	return out
}

// Close stops accepting new sessions and finalizes recording ones.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	list := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		list = append(list, s)
	}
	c.mu.Unlock()

	var firstErr error
	for _, s := range list {
		if s.snapshotInfo().State.Terminal() {
			continue
		}
		if _, err := s.finalize(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
