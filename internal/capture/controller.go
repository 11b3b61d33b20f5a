// Package capture slices live or recorded audio into fixed-cadence chunks.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/joss/aaroh/internal/audio"
	"github.com/joss/aaroh/internal/domain"
	"github.com/joss/aaroh/internal/logging"
)

// DefaultCadence is the nominal chunk length.
const DefaultCadence = time.Second

var (
	// ErrDevice means the audio source could not be opened or read.
	ErrDevice = errors.New("capture device unavailable")
	// ErrBusy is returned by Start outside Idle.
	ErrBusy = errors.New("capture already running")
)

// State is the controller's position in Idle -> Recording -> Stopping -> Idle.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
)

// Source produces mono samples.
type Source interface {
	// Open acquires the device and returns its sample rate.
	Open(ctx context.Context) (int, error)
	// Drain returns the samples captured since the previous call.
	// io.EOF marks a source that will produce nothing more; the returned
	// samples are still valid.
	Drain() ([]float64, error)
	Close() error
}

// Sink takes the chunks of one session. transport.Link implements it.
type Sink interface {
	Send(ctx context.Context, chunk domain.Chunk) error
	End(ctx context.Context) (domain.Summary, error)
}

// Options tunes a controller.
type Options struct {
	Cadence time.Duration
	// Encode frames drained samples as a chunk payload. Defaults to 16-bit PCM WAV.
	Encode func(samples []float64, sampleRate int) []byte
}

// Controller owns the capture state machine for one client.
type Controller struct {
	source Source
	sink   Sink
	opts   Options
	log    *logging.Logger

	// Callbacks. OnState runs under the controller lock and must not
	// call back into the controller.
	OnChunk func(domain.Chunk)
	OnState func(State)
	OnError func(error)

	mu        sync.Mutex
	state     State
	sessionID string
	seq       int
	rate      int
	offset    time.Duration
	err       error

	stop     chan struct{}
	loopDone chan struct{}
	ended    chan struct{}
}

// NewController creates an idle controller.
func NewController(source Source, sink Sink, opts Options) *Controller {
	if opts.Cadence <= 0 {
		opts.Cadence = DefaultCadence
	}
	if opts.Encode == nil {
		opts.Encode = audio.EncodeWAV
	}
	return &Controller{
		source: source,
		sink:   sink,
		opts:   opts,
		log:    logging.New("capture"),
		state:  StateIdle,
	}
}

// Start opens the source and begins emitting chunks for sessionID,
// numbered from 0.
func (c *Controller) Start(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}

	rate, err := c.source.Open(ctx)
	if err != nil {
		c.mu.Unlock()
		c.source.Close()
		c.log.WithSession(sessionID).Error("open_failed", nil, err)
		return fmt.Errorf("%w: %v", ErrDevice, err)
	}

	c.sessionID = sessionID
	c.rate = rate
	c.seq = 0
	c.offset = 0
	c.err = nil
	c.stop = make(chan struct{})
	c.loopDone = make(chan struct{})
	c.ended = make(chan struct{})
	c.setState(StateRecording)
	stop, loopDone, ended := c.stop, c.loopDone, c.ended
	c.mu.Unlock()

	c.log.WithSession(sessionID).Info("recording_started", map[string]interface{}{
		"sample_rate": rate,
		"cadence_ms":  c.opts.Cadence.Milliseconds(),
	})
	go c.run(stop, loopDone, ended)
	return nil
}

// setState must be called with mu held.
func (c *Controller) setState(s State) {
	c.state = s
	if c.OnState != nil {
		c.OnState(s)
	}
}

// run is the timer loop. The timer is re-armed only after an emission
// completes, so a slow sink delays the next tick instead of dropping it.
func (c *Controller) run(stop <-chan struct{}, loopDone, ended chan struct{}) {
	defer close(loopDone)
	defer logging.Recover("capture")

	timer := time.NewTimer(c.opts.Cadence)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		eof, err := c.emit(context.Background())
		if err != nil {
			c.abort(err)
			return
		}
		if eof {
			c.log.WithSession(c.SessionID()).Info("source_exhausted", nil)
			close(ended)
			return
		}
		timer.Reset(c.opts.Cadence)
	}
}

// emit drains the source and sends what it got as the next chunk.
func (c *Controller) emit(ctx context.Context) (bool, error) {
	samples, err := c.source.Drain()
	eof := errors.Is(err, io.EOF)
	if err != nil && !eof {
		return false, fmt.Errorf("%w: %v", ErrDevice, err)
	}
	if len(samples) == 0 {
		return eof, nil
	}

	c.mu.Lock()
	chunk := domain.Chunk{
		SessionID:  c.sessionID,
		Sequence:   c.seq,
		CapturedAt: c.offset,
		Payload:    c.opts.Encode(samples, c.rate),
	}
	c.seq++
	c.offset += time.Duration(len(samples)) * time.Second / time.Duration(c.rate)
	c.mu.Unlock()

	if err := c.sink.Send(ctx, chunk); err != nil {
		return false, fmt.Errorf("send chunk %d: %w", chunk.Sequence, err)
	}
	if c.OnChunk != nil {
		c.OnChunk(chunk)
	}
	return eof, nil
}

// abort leaves Recording after a fatal loop error. A concurrent Stop
// owns the release instead.
func (c *Controller) abort(err error) {
	c.mu.Lock()
	c.err = err
	recording := c.state == StateRecording
	if recording {
		c.release()
	}
	c.mu.Unlock()

	c.log.WithSession(c.SessionID()).Error("capture_failed", nil, err)
	if recording && c.OnError != nil {
		c.OnError(err)
	}
}

// release closes the source and returns to Idle. mu must be held.
func (c *Controller) release() {
	if err := c.source.Close(); err != nil {
		c.log.WithSession(c.sessionID).Warn("close_failed", nil, err)
	}
	c.setState(StateIdle)
}

// Stop ends the recording: the in-flight chunk is flushed even when
// short, the sink is told the stream is over, and Stop returns once the
// sink has acknowledged with the session summary. Stop in Idle is a no-op.
func (c *Controller) Stop(ctx context.Context) (domain.Summary, error) {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return domain.Summary{}, nil
	}
	c.setState(StateStopping)
	stop, loopDone := c.stop, c.loopDone
	c.mu.Unlock()

	close(stop)
	<-loopDone

	defer func() {
		c.mu.Lock()
		c.release()
		c.mu.Unlock()
	}()

	if err := c.Err(); err != nil {
		return domain.Summary{}, err
	}
	if _, err := c.emit(ctx); err != nil {
		return domain.Summary{}, err
	}

	start := time.Now()
	summary, err := c.sink.End(ctx)
	if err != nil {
		c.log.WithSession(c.SessionID()).Error("end_failed", nil, err)
		return domain.Summary{}, fmt.Errorf("end session: %w", err)
	}
	c.log.WithSession(c.SessionID()).TimedEvent("recording_stopped", start, map[string]interface{}{
		"chunks": c.Sequence(),
	})
	return summary, nil
}

// Ended is closed when the source runs dry. Callers usually Stop then.
// It is nil before the first Start.
func (c *Controller) Ended() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the session being recorded, or the last one.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Sequence returns the number of chunks emitted so far.
func (c *Controller) Sequence() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Err returns the error that ended the last recording, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
