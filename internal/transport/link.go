// Package transport keeps a practice session's chunk stream flowing to
// the server across connection drops: it buffers recent unacknowledged
// chunks, reconnects with exponential backoff inside a bounded window,
// replays what the server may have missed and reports what was lost.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joss/aaroh/internal/domain"
	"github.com/joss/aaroh/internal/logging"
	"github.com/joss/aaroh/internal/protocol"
)

var (
	// ErrDisconnected is reported while the link is reconnecting.
	ErrDisconnected = errors.New("transport disconnected")

	// ErrTransportLost is returned once the reconnect window is exhausted.
	// The server fails the session on its side as well.
	ErrTransportLost = errors.New("transport lost")

	// ErrSessionFailed is returned by End when the server failed the session.
	ErrSessionFailed = errors.New("session failed")
)

// DialFunc opens a new, not yet running, protocol client.
type DialFunc func(ctx context.Context) (*protocol.Client, error)

// TCPDialer dials a server address.
func TCPDialer(addr string) DialFunc {
	return func(ctx context.Context) (*protocol.Client, error) {
		return protocol.Dial(ctx, addr)
	}
}

// State is the connection state of a link.
type State string

const (
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateLost         State = "lost"
	StateClosed       State = "closed"
)

// Options tunes a Link.
type Options struct {
	ReplayBuffer    int
	ReconnectWindow time.Duration
	BaseDelay       time.Duration // first reconnect delay, doubled per attempt
	MaxDelay        time.Duration
	RetryDelay      time.Duration // resend delay after server backpressure
}

func (o Options) withDefaults() Options {
	if o.ReplayBuffer <= 0 {
		o.ReplayBuffer = DefaultReplaySize
	}
	if o.ReconnectWindow <= 0 {
		o.ReconnectWindow = 30 * time.Second
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 200 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 5 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 100 * time.Millisecond
	}
	return o
}

// Events are the session updates a link hands to its owner. Each verdict
// is reported once even when the server replays it after a reconnect.
type Events struct {
	OnVerdict func(v domain.Verdict)
	OnStatus  func(sessionID, message string)
	OnSummary func(s domain.Summary)
	OnFailed  func(sessionID, reason string)
	OnState   func(s State)
}

// Link is the client side of one practice session.
type Link struct {
	dial   DialFunc
	opts   Options
	events Events
	log    *logging.Logger

	mu        sync.Mutex
	client    *protocol.Client
	sessionID string
	buf       *ReplayBuffer
	gaps      []int
	seen      map[int]bool
	state     State
	summary   *domain.Summary
	failure   string
	changed   chan struct{} // closed and replaced on every change
	stop      chan struct{}
}

// NewLink creates a link. Nothing is dialed until Open.
func NewLink(dial DialFunc, opts Options, events Events) *Link {
	opts = opts.withDefaults()
	return &Link{
		dial:    dial,
		opts:    opts,
		events:  events,
		log:     logging.New("transport"),
		buf:     NewReplayBuffer(opts.ReplayBuffer),
		seen:    make(map[int]bool),
		changed: make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

// broadcast wakes waiters. Callers hold l.mu.
func (l *Link) broadcast() {
	close(l.changed)
	l.changed = make(chan struct{})
}

func (l *Link) waitFor(ctx context.Context, cond func() bool) error {
	for {
		l.mu.Lock()
		if cond() {
			l.mu.Unlock()
			return nil
		}
		ch := l.changed
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Link) logger() *logging.Logger {
	l.mu.Lock()
	id := l.sessionID
	l.mu.Unlock()
	return l.log.WithSession(id)
}

// changeState sets the state. Callers hold l.mu and call announce after
// unlocking when it returns true.
func (l *Link) changeState(s State) bool {
	if l.state == s {
		return false
	}
	l.state = s
	l.broadcast()
	return true
}

func (l *Link) announce(s State) {
	l.logger().Info("link_state", map[string]interface{}{"state": string(s)})
	if l.events.OnState != nil {
		l.events.OnState(s)
	}
}

// Open connects and starts the session. A session ID is generated when
// req.SessionID is empty.
func (l *Link) Open(ctx context.Context, req protocol.StartSessionPayload) (string, error) {
	if req.SessionID == "" {
		req.SessionID = ulid.Make().String()
	}

	c, err := l.dial(ctx)
	if err != nil {
		return "", fmt.Errorf("connect: %w", err)
	}
	l.mu.Lock()
	l.sessionID = req.SessionID
	l.mu.Unlock()
	l.wire(c)

	ack, err := c.StartSession(ctx, req)
	if err != nil {
		c.Close()
		return "", fmt.Errorf("start session: %w", err)
	}

	l.mu.Lock()
	if ack.SessionID != "" && ack.SessionID != l.sessionID {
		l.sessionID = ack.SessionID
	}
	l.client = c
	l.changeState(StateConnected)
	id := l.sessionID
	l.mu.Unlock()

	l.announce(StateConnected)
	l.watch(c)
	return id, nil
}

// wire installs the callbacks and starts reading.
func (l *Link) wire(c *protocol.Client) {
	c.OnVerdict = l.onVerdict
	c.OnStatus = func(p protocol.StatusPayload) {
		if l.events.OnStatus != nil {
			l.events.OnStatus(p.SessionID, p.Message)
		}
	}
	c.OnSummary = l.onSummary
	c.OnAck = l.onAck
	c.OnError = l.onError
	logging.SafeGo("transport", func() { c.Run() })
}

// watch starts a reconnect when c drops.
func (l *Link) watch(c *protocol.Client) {
	logging.SafeGo("transport", func() {
		select {
		case <-c.Done():
			l.lose(c, c.Err())
		case <-l.stop:
		}
	})
}

func (l *Link) onVerdict(v domain.Verdict) {
	l.mu.Lock()
	dup := l.seen[v.Sequence]
	l.seen[v.Sequence] = true
	l.mu.Unlock()
	if !dup && l.events.OnVerdict != nil {
		l.events.OnVerdict(v)
	}
}

func (l *Link) onSummary(s domain.Summary) {
	l.mu.Lock()
	first := l.summary == nil
	if first {
		l.summary = &s
		l.broadcast()
	}
	l.mu.Unlock()
	if first && l.events.OnSummary != nil {
		l.events.OnSummary(s)
	}
}

func (l *Link) onAck(p protocol.AckPayload) {
	if p.For != protocol.MsgChunk {
		return
	}
	l.mu.Lock()
	l.buf.Ack(p.Sequence)
	l.broadcast()
	l.mu.Unlock()
}

func (l *Link) onError(p protocol.ErrorPayload) {
	switch {
	case p.Code == protocol.CodeSessionFailed:
		l.mu.Lock()
		first := l.failure == ""
		if first {
			l.failure = p.Message
			l.broadcast()
		}
		l.mu.Unlock()
		if first && l.events.OnFailed != nil {
			l.events.OnFailed(p.SessionID, p.Message)
		}

	case p.For == protocol.MsgChunk && p.Code == protocol.CodeBackpressure:
		// Still buffered: resend once the server had time to drain.
		time.AfterFunc(l.opts.RetryDelay, func() { l.resend(p.Sequence) })

	case p.For == protocol.MsgChunk:
		// The server will never take this chunk.
		l.log.WithSession(p.SessionID).Warn("chunk_rejected", map[string]interface{}{"sequence": p.Sequence}, &p)
		l.mu.Lock()
		l.buf.Ack(p.Sequence)
		l.broadcast()
		l.mu.Unlock()

	default:
		l.log.WithSession(p.SessionID).Warn("server_error", nil, &p)
	}
}

func (l *Link) resend(seq int) {
	l.mu.Lock()
	chunk, ok := l.buf.Get(seq)
	c := l.client
	l.mu.Unlock()
	if ok && c != nil {
		l.transmit(c, chunk)
	}
}

func (l *Link) transmit(c *protocol.Client, chunk domain.Chunk) {
	if err := c.SendChunk(chunk); err != nil {
		l.lose(c, err)
	}
}

// Send queues a chunk for delivery. While reconnecting the chunk is only
// buffered; Send never blocks on the network state.
func (l *Link) Send(ctx context.Context, chunk domain.Chunk) error {
	l.mu.Lock()
	switch l.state {
	case StateLost:
		l.mu.Unlock()
		return ErrTransportLost
	case StateClosed:
		l.mu.Unlock()
		return protocol.ErrDisconnected
	}
	if chunk.SessionID == "" {
		chunk.SessionID = l.sessionID
	}
	evicted, lost := l.buf.Push(chunk)
	if lost {
		l.gaps = append(l.gaps, evicted.Sequence)
		l.log.WithSession(l.sessionID).Warn("chunk_evicted", map[string]interface{}{"sequence": evicted.Sequence}, nil)
	}
	c := l.client
	l.mu.Unlock()

	if c != nil {
		l.transmit(c, chunk)
	}
	return nil
}

// lose handles a dropped connection. Stale clients are ignored.
func (l *Link) lose(c *protocol.Client, cause error) {
	l.mu.Lock()
	if l.client != c || l.state != StateConnected {
		l.mu.Unlock()
		return
	}
	l.client = nil
	l.changeState(StateReconnecting)
	l.mu.Unlock()

	c.Close()
	l.logger().Warn("connection_lost", nil, cause)
	l.announce(StateReconnecting)
	logging.SafeGo("transport", func() { l.reconnect(time.Now()) })
}

func (l *Link) reconnect(since time.Time) {
	deadline := since.Add(l.opts.ReconnectWindow)
	delay := l.opts.BaseDelay

	for attempt := 1; ; attempt++ {
		wait := delay
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-l.stop:
				return
			}
		}
		if !time.Now().Before(deadline) {
			l.giveUp()
			return
		}

		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		err := l.resume(ctx)
		cancel()
		if err == nil {
			return
		}
		l.logger().Debug("reconnect_failed", map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
		})
		if protocol.IsCode(err, protocol.CodeSessionNotFound) {
			// The server already gave up on the session.
			l.giveUp()
			return
		}

		delay *= 2
		if delay > l.opts.MaxDelay {
			delay = l.opts.MaxDelay
		}
	}
}

// resume dials, re-attaches to the session, reports gaps and replays
// every buffered chunk. The server ignores the ones it already has.
func (l *Link) resume(ctx context.Context) error {
	c, err := l.dial(ctx)
	if err != nil {
		return err
	}
	l.wire(c)

	l.mu.Lock()
	id := l.sessionID
	l.mu.Unlock()
	if _, err := c.ResumeSession(ctx, id); err != nil {
		c.Close()
		return err
	}

	l.mu.Lock()
	if l.state != StateReconnecting {
		l.mu.Unlock()
		c.Close()
		return nil
	}
	l.client = c
	l.changeState(StateConnected)
	gaps := l.gaps
	l.gaps = nil
	pending := l.buf.Pending()
	l.mu.Unlock()

	l.announce(StateConnected)
	l.watch(c)

	if len(gaps) > 0 {
		if err := c.SendGap(id, gaps); err != nil {
			l.mu.Lock()
			l.gaps = append(gaps, l.gaps...)
			l.mu.Unlock()
			l.lose(c, err)
			return nil
		}
	}
	for _, chunk := range pending {
		l.transmit(c, chunk)
	}
	return nil
}

func (l *Link) giveUp() {
	l.mu.Lock()
	if l.state != StateReconnecting {
		l.mu.Unlock()
		return
	}
	l.changeState(StateLost)
	id := l.sessionID
	l.mu.Unlock()

	l.announce(StateLost)
	if l.events.OnFailed != nil {
		l.events.OnFailed(id, ErrTransportLost.Error())
	}
}

// End waits until every buffered chunk is acknowledged, ends the session
// and returns its summary. A connection drop in between is ridden out
// like any other.
func (l *Link) End(ctx context.Context) (domain.Summary, error) {
	var (
		stateErr error
		c        *protocol.Client
	)
	// settled reports a terminal link state in stateErr, or a live client
	// with nothing left to acknowledge.
	settled := func() bool {
		stateErr = nil
		switch {
		case l.summary != nil:
			return true
		case l.state == StateLost:
			stateErr = ErrTransportLost
		case l.state == StateClosed:
			stateErr = protocol.ErrDisconnected
		case l.failure != "":
			stateErr = fmt.Errorf("%w: %s", ErrSessionFailed, l.failure)
		default:
			c = l.client
			return c != nil && l.buf.Len() == 0
		}
		return true
	}

	for {
		if err := l.waitFor(ctx, settled); err != nil {
			return domain.Summary{}, fmt.Errorf("drain: %w", err)
		}
		if stateErr != nil {
			return domain.Summary{}, stateErr
		}
		if l.finalSummary() != nil {
			break
		}

		l.mu.Lock()
		id := l.sessionID
		gaps := l.gaps
		l.gaps = nil
		l.mu.Unlock()

		if len(gaps) > 0 {
			if err := c.SendGap(id, gaps); err != nil {
				l.mu.Lock()
				l.gaps = append(gaps, l.gaps...)
				l.mu.Unlock()
				l.lose(c, err)
				continue
			}
		}
		if err := c.EndSession(id); err != nil {
			l.lose(c, err)
			continue
		}
		break
	}

	// The summary may come over a later connection if this one drops.
	err := l.waitFor(ctx, func() bool {
		return l.summary != nil || (settled() && stateErr != nil)
	})
	if err != nil {
		return domain.Summary{}, fmt.Errorf("await summary: %w", err)
	}
	if s := l.finalSummary(); s != nil {
		return *s, nil
	}
	return domain.Summary{}, stateErr
}

func (l *Link) finalSummary() *domain.Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.summary
}

// Abort fails the session on the server.
func (l *Link) Abort(reason string) error {
	l.mu.Lock()
	c, id := l.client, l.sessionID
	l.mu.Unlock()
	if c == nil {
		return ErrDisconnected
	}
	return c.AbortSession(id, reason)
}

// SessionID returns the session the link carries.
func (l *Link) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// State returns the connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err reports ErrDisconnected while reconnecting and ErrTransportLost
// once the link gave up.
func (l *Link) Err() error {
	switch l.State() {
	case StateReconnecting:
		return ErrDisconnected
	case StateLost:
		return ErrTransportLost
	}
	return nil
}

// Buffered returns how many chunks await acknowledgement.
func (l *Link) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Len()
}

// Close drops the connection without ending the session.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return nil
	}
	c := l.client
	l.client = nil
	l.changeState(StateClosed)
	close(l.stop)
	l.mu.Unlock()

	l.announce(StateClosed)
	if c != nil {
		return c.Close()
	}
	return nil
}
