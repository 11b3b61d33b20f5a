package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/joss/aaroh/internal/aggregate"
	"github.com/joss/aaroh/internal/domain"
	"github.com/joss/aaroh/internal/logging"
	"github.com/joss/aaroh/internal/metrics"
	"github.com/joss/aaroh/internal/recognizer"
	"github.com/joss/aaroh/internal/schedule"
	"github.com/joss/aaroh/internal/timeline"
)

// job is an accepted chunk waiting for recognition.
type job struct {
	ordinal int // acceptance order
	chunk   domain.Chunk
}

// session is the coordinator state of one practice attempt.
//
// Lock order: submitLock, then mu. The outbox has its own lock and is
// never held while taking mu.
type session struct {
	c        *Coordinator
	log      *logging.Logger
	recovery *logging.RecoveryHandler
	schedule *schedule.Schedule
	mapper   *timeline.Mapper
	agg      *aggregate.Aggregator

	ctx    context.Context // cancelled on failure; bounds recognition
	cancel context.CancelFunc

	submitLock chan struct{} // serializes acceptance so ordinals follow queue order
	queue      chan job
	sem        *semaphore.Weighted
	inflight   sync.WaitGroup

	mu       sync.Mutex
	info     domain.Session
	accepted map[int]bool
	ordinal  int
	results  map[int]domain.Verdict // completed, waiting for earlier ordinals
	nextEmit int

	finishOnce sync.Once
	doneOnce   sync.Once
	done       chan struct{} // closed when the session is terminal
	final      domain.Summary

	out *outbox
}

func newSession(c *Coordinator, info domain.Session, sched *schedule.Schedule, sink Sink) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		c:          c,
		log:        logging.New("coordinator").WithSession(info.ID),
		recovery:   logging.NewRecoveryHandler("coordinator").ForSession(info.ID),
		schedule:   sched,
		mapper:     timeline.NewMapper(sched.Events, info.ChunkDuration),
		agg:        aggregate.New(info.ID, sched.Events, aggregate.Options{Grace: c.opts.GraceWindow, Now: c.deps.Now}),
		ctx:        ctx,
		cancel:     cancel,
		submitLock: make(chan struct{}, 1),
		queue:      make(chan job, c.opts.QueueDepth),
		sem:        semaphore.NewWeighted(int64(c.opts.Dispatch)),
		info:       info,
		accepted:   make(map[int]bool),
		results:    make(map[int]domain.Verdict),
		done:       make(chan struct{}),
	}
	s.out = newOutbox(s, sink)
	return s
}

// begin moves the session to Recording and starts its goroutines.
func (s *session) begin() {
	s.transition(domain.StateRecording)
	s.c.deps.Metrics.RecordSessionStarted()
	s.archiveSession()

	go s.recovery.Wrap(s.dispatch)
	go s.recovery.Wrap(s.out.run)

	s.out.push(statusEvent(s.info.ID, "recording started"))
	s.log.Info("session_started", map[string]interface{}{
		"schedule": s.info.ScheduleRef,
		"events":   s.schedule.Len(),
		"chunk_ms": s.info.ChunkDuration.Milliseconds(),
	})
}

func (s *session) transition(to domain.SessionState) {
	s.mu.Lock()
	from := s.info.State
	if from.Terminal() {
		s.mu.Unlock()
		return
	}
	s.info.State = to
	s.mu.Unlock()
	logging.SessionEvent(s.info.ID, string(from), string(to), "")
}

// terminate moves a live session to a terminal state. Only the first
// caller wins.
func (s *session) terminate(to domain.SessionState, reason string) bool {
	s.mu.Lock()
	from := s.info.State
	if from.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.info.State = to
	s.info.EndedAt = s.c.deps.Now()
	s.info.Reason = reason
	s.mu.Unlock()
	logging.SessionEvent(s.info.ID, string(from), string(to), reason)
	return true
}

func (s *session) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *session) snapshotInfo() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *session) state() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.State
}

func (s *session) submit(ctx context.Context, chunk domain.Chunk) error {
	m := s.c.deps.Metrics
	deadline := time.NewTimer(s.c.opts.BackpressureTimeout)
	defer deadline.Stop()

	select {
	case s.submitLock <- struct{}{}:
	case <-deadline.C:
		m.RecordChunk(metrics.ChunkRejected)
		return ErrBackpressure
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.submitLock }()

	s.mu.Lock()
	if !s.info.State.Accepting() {
		s.mu.Unlock()
		m.RecordChunk(metrics.ChunkRejected)
		return fmt.Errorf("%w: %s is %s", ErrSessionNotFound, s.info.ID, s.info.State)
	}
	if s.accepted[chunk.Sequence] {
		s.mu.Unlock()
		m.RecordChunk(metrics.ChunkDuplicate)
		return ErrDuplicateSequence
	}
	j := job{ordinal: s.ordinal, chunk: chunk}
	s.mu.Unlock()

	s.inflight.Add(1)
	select {
	case s.queue <- j:
	case <-deadline.C:
		s.inflight.Done()
		m.RecordChunk(metrics.ChunkRejected)
		s.log.Warn("backpressure", map[string]interface{}{"sequence": chunk.Sequence}, ErrBackpressure)
		return ErrBackpressure
	case <-s.ctx.Done():
		s.inflight.Done()
		m.RecordChunk(metrics.ChunkRejected)
		return fmt.Errorf("%w: %s failed", ErrSessionNotFound, s.info.ID)
	case <-ctx.Done():
		s.inflight.Done()
		return ctx.Err()
	}

	if s.ctx.Err() != nil {
		// Failed while enqueueing; the dispatcher may already be gone.
		s.drainQueue()
	}

	s.mu.Lock()
	s.accepted[chunk.Sequence] = true
	s.ordinal++
	s.mu.Unlock()
	m.RecordChunk(metrics.ChunkAccepted)
	return nil
}

// dispatch feeds queued chunks to the recognizer, at most Dispatch at a time.
func (s *session) dispatch() {
	for {
		select {
		case j := <-s.queue:
			if err := s.sem.Acquire(s.ctx, 1); err != nil {
				s.inflight.Done()
				continue
			}
			go func(j job) {
				defer s.sem.Release(1)
				defer s.inflight.Done()
				s.recognize(j)
			}(j)
		case <-s.ctx.Done():
			s.drainQueue()
			return
		case <-s.done:
			return
		}
	}
}

func (s *session) drainQueue() {
	for {
		select {
		case <-s.queue:
			s.inflight.Done()
		default:
			return
		}
	}
}

func (s *session) recognize(j job) {
	start := time.Now()
	res, err := s.c.rec.Recognize(s.ctx, j.chunk.Payload)
	elapsed := time.Since(start)
	logging.RecognitionEvent(s.info.ID, j.chunk.Sequence, res.Chord, elapsed, err)

	if s.ctx.Err() != nil {
		// Session failed while recognizing; nothing is emitted after failure.
		return
	}

	var v domain.Verdict
	if err != nil {
		reason := "recognition failed"
		switch {
		case errors.Is(err, recognizer.ErrTimeout):
			reason = "recognition timed out"
		case logging.IsPanic(err):
			reason = "recognizer crashed"
		}
		v = domain.FailureVerdict(s.info.ID, j.chunk.Sequence, reason, s.c.deps.Now())
	} else {
		v = domain.Verdict{
			SessionID:     s.info.ID,
			Sequence:      j.chunk.Sequence,
			DetectedChord: res.Chord,
			Confidence:    res.Confidence,
			Timestamp:     s.c.deps.Now(),
		}
	}
	v = s.mapper.Annotate(v)

	if err := s.agg.Add(v); err != nil {
		s.log.Warn("aggregate_rejected", map[string]interface{}{"sequence": v.Sequence}, err)
	}
	s.c.deps.Metrics.RecordVerdict(err != nil, errors.Is(err, recognizer.ErrTimeout), elapsed.Milliseconds())
	s.archiveVerdict(v)
	s.complete(j.ordinal, v)
}

// complete releases verdicts in acceptance order.
func (s *session) complete(ordinal int, v domain.Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[ordinal] = v
	for {
		next, ok := s.results[s.nextEmit]
		if !ok {
			return
		}
		delete(s.results, s.nextEmit)
		s.nextEmit++
		s.out.push(verdictEvent(next))
	}
}

func (s *session) gap(sequences []int) {
	if len(sequences) == 0 {
		return
	}
	s.agg.Gap(sequences...)
	s.c.deps.Metrics.RecordGaps(len(sequences))
	s.log.Info("gap", map[string]interface{}{"sequences": sequences})
}

func (s *session) finalize(ctx context.Context) (domain.Summary, error) {
	s.mu.Lock()
	state := s.info.State
	s.mu.Unlock()
	if state == domain.StateFailed {
		return domain.Summary{}, fmt.Errorf("%w: %s failed", ErrSessionNotFound, s.info.ID)
	}

	s.finishOnce.Do(func() {
		if state == domain.StateRecording {
			s.transition(domain.StateFinalizing)
			s.out.push(statusEvent(s.info.ID, "stream ended"))
		}
		go s.recovery.Wrap(s.finish)
	})

	select {
	case <-s.done:
	case <-ctx.Done():
		return domain.Summary{}, ctx.Err()
	}
	if s.state() == domain.StateFailed {
		return domain.Summary{}, fmt.Errorf("%w: %s failed", ErrSessionNotFound, s.info.ID)
	}
	return s.final, nil
}

// finish waits for accepted chunks, then seals and emits the summary.
func (s *session) finish() {
	start := time.Now()

	// Wait out any Submit still holding the acceptance lock.
	s.submitLock <- struct{}{}
	<-s.submitLock

	s.inflight.Wait()
	if s.ctx.Err() != nil {
		return
	}

	sum := s.agg.Seal()
	s.final = sum
	if !s.terminate(domain.StateCompleted, "") {
		return
	}
	s.c.deps.Metrics.RecordSessionEnded(true)
	s.archiveSession()
	s.archiveSummary(sum)
	s.log.TimedEvent("session_completed", start, map[string]interface{}{
		"accuracy": sum.Accuracy,
		"total":    sum.TotalChords,
		"gaps":     len(sum.Gaps),
	})

	s.out.push(summaryEvent(sum))
	s.closeDone()
}

// fail moves a live session to Failed, cancelling in-flight recognition.
// It is a no-op on terminal sessions.
func (s *session) fail(reason string) {
	if !s.terminate(domain.StateFailed, reason) {
		return
	}
	s.cancel()
	s.c.deps.Metrics.RecordSessionEnded(false)
	s.archiveSession()
	s.log.Warn("session_failed", map[string]interface{}{"reason": reason}, nil)

	s.out.push(failedEvent(s.info.ID, reason))
	s.closeDone()
}

// detach pauses delivery. A non-nil sink limits it to the case where that
// sink is still the attached one, so a stale connection closing late
// cannot detach its replacement.
func (s *session) detach(sink Sink) {
	if sink == nil {
		s.detachGen(-1)
		return
	}
	if gen, ok := s.out.genOf(sink); ok {
		s.detachGen(gen)
	}
}

// detachGen holds events until a new sink attaches. When the reconnect
// window passes first, a live session fails with ErrTransportLost.
func (s *session) detachGen(gen int) {
	window := s.c.opts.ReconnectWindow
	ok := s.out.detach(gen, window, func() {
		s.fail(ErrTransportLost.Error())
		s.out.stop()
		s.c.remove(s.info.ID)
	})
	if ok {
		s.log.Info("client_detached", map[string]interface{}{"window_ms": window.Milliseconds()})
	}
}

func (s *session) attach(sink Sink) bool {
	if s.state() == domain.StateFailed {
		return false
	}
	ok := s.out.attach(sink)
	if ok {
		s.log.Info("client_attached", nil)
	}
	return ok
}

func (s *session) snapshot() Snapshot {
	s.agg.Tick()
	return Snapshot{
		Session: s.snapshotInfo(),
		Running: s.agg.Running(),
		Summary: s.agg.Summary(),
		Held:    s.out.held(),
	}
}

// Archive writes are best effort: a broken archive must not stop a session.

func (s *session) archiveSession() {
	if s.c.deps.Archive == nil {
		return
	}
	info := s.snapshotInfo()
	if err := s.c.deps.Archive.SaveSession(context.Background(), &info); err != nil {
		s.log.Error("archive_session", nil, err)
	}
}

func (s *session) archiveVerdict(v domain.Verdict) {
	if s.c.deps.Archive == nil {
		return
	}
	if err := s.c.deps.Archive.SaveVerdict(context.Background(), v); err != nil {
		s.log.Error("archive_verdict", map[string]interface{}{"sequence": v.Sequence}, err)
	}
}

func (s *session) archiveSummary(sum domain.Summary) {
	if s.c.deps.Archive == nil {
		return
	}
	if err := s.c.deps.Archive.SaveSummary(context.Background(), &sum); err != nil {
		s.log.Error("archive_summary", nil, err)
	}
}
