package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joss/aaroh/internal/coordinator"
	"github.com/joss/aaroh/internal/domain"
	"github.com/joss/aaroh/internal/logging"
)

// Peer is the outbound half of a client connection.
type Peer interface {
	Encode(env *Envelope) error
}

// Server answers protocol messages by driving a coordinator.
type Server struct {
	coord *coordinator.Coordinator
	log   *logging.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewServer creates a server over coord.
func NewServer(coord *coordinator.Coordinator) *Server {
	return &Server{
		coord: coord,
		log:   logging.New("protocol"),
		conns: make(map[string]*Conn),
	}
}

// Conn is one client connection. It owns the sessions started or resumed
// through it; when it closes those sessions are detached, not failed.
// At most one owned session may be recording at a time.
type Conn struct {
	id     string
	srv    *Server
	peer   Peer
	log    *logging.Logger
	closed atomic.Bool

	startMu sync.Mutex // serializes start and resume

	mu       sync.Mutex
	sessions map[string]struct{}
	ending   map[string]struct{} // end or abort requested, not yet terminal
}

// Open registers a connection that writes to peer.
func (s *Server) Open(connID string, peer Peer) *Conn {
	if connID == "" {
		connID = logging.NewConnID()
	}
	c := &Conn{
		id:       connID,
		srv:      s,
		peer:     peer,
		log:      s.log.WithConn(connID),
		sessions: make(map[string]struct{}),
		ending:   make(map[string]struct{}),
	}

	s.mu.Lock()
	s.conns[connID] = c
	s.mu.Unlock()
	c.log.Info("conn_opened", nil)
	return c
}

// ListConns returns the IDs of open connections.
func (s *Server) ListConns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ID returns the connection ID.
func (c *Conn) ID() string {
	return c.id
}

// Sessions returns the sessions owned by this connection.
func (c *Conn) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Conn) own(sessionID string) {
	c.mu.Lock()
	c.sessions[sessionID] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) disown(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	delete(c.ending, sessionID)
	c.mu.Unlock()
}

func (c *Conn) markEnding(sessionID string) {
	c.mu.Lock()
	if _, ok := c.sessions[sessionID]; ok {
		c.ending[sessionID] = struct{}{}
	}
	c.mu.Unlock()
}

// recording returns the owned session that is still recording, if any.
// Sessions the client already asked to end do not count.
func (c *Conn) recording() (string, bool) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		if _, ok := c.ending[id]; !ok {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	for _, id := range ids {
		snap, err := c.srv.coord.Status(id)
		if err == nil && snap.Session.State == domain.StateRecording {
			return id, true
		}
	}
	return "", false
}

func (c *Conn) busyError(env *Envelope, active, requested string) {
	c.fail(env, CodeSessionBusy, fmt.Errorf("session %s is still recording on this connection", active), requested, 0)
}

// Close detaches every session owned by the connection.
func (c *Conn) Close() {
	if c.closed.Swap(true) {
		return
	}
	for _, id := range c.Sessions() {
		if err := c.srv.coord.Detach(id, c); err != nil && !errors.Is(err, coordinator.ErrSessionNotFound) {
			c.log.Warn("detach_failed", map[string]interface{}{"session": id}, err)
		}
	}

	c.srv.mu.Lock()
	delete(c.srv.conns, c.id)
	c.srv.mu.Unlock()
	c.log.Info("conn_closed", nil)
}

// Deliver implements coordinator.Sink.
func (c *Conn) Deliver(ev coordinator.Event) error {
	if c.closed.Load() {
		return ErrDisconnected
	}

	var env *Envelope
	switch ev.Kind {
	case coordinator.EventVerdict:
		env = NewEnvelope(MsgVerdict, ev.Verdict)
	case coordinator.EventSummary:
		env = NewEnvelope(MsgSummary, ev.Summary)
		c.disown(ev.SessionID)
	case coordinator.EventStatus:
		env = NewEnvelope(MsgStatus, &StatusPayload{SessionID: ev.SessionID, Message: ev.Message})
	case coordinator.EventFailed:
		env = NewEnvelope(MsgError, &ErrorPayload{
			Code:      CodeSessionFailed,
			Message:   ev.Message,
			SessionID: ev.SessionID,
		})
		c.disown(ev.SessionID)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return c.peer.Encode(env)
}

func (c *Conn) reply(req *Envelope, msgType MessageType, payload any) {
	if err := c.peer.Encode(Reply(req, msgType, payload)); err != nil {
		c.log.Debug("reply_failed", map[string]interface{}{"type": string(msgType), "error": err.Error()})
	}
}

func (c *Conn) fail(req *Envelope, code string, err error, sessionID string, sequence int) {
	c.reply(req, MsgError, &ErrorPayload{
		Code:      code,
		Message:   err.Error(),
		For:       req.Type,
		SessionID: sessionID,
		Sequence:  sequence,
	})
}

// Handle processes one inbound message. Chunks block while the session
// queue is full, which throttles the connection.
func (c *Conn) Handle(ctx context.Context, env *Envelope) {
	switch env.Type {
	case MsgStartSession:
		c.handleStart(ctx, env)

	case MsgChunk:
		c.handleChunk(ctx, env)

	case MsgGap:
		var p GapPayload
		if err := env.GetPayload(&p); err != nil {
			c.fail(env, CodeBadRequest, err, "", 0)
			return
		}
		if err := c.srv.coord.Gap(p.SessionID, p.Sequences); err != nil {
			c.fail(env, CodeFor(err), err, p.SessionID, 0)
			return
		}
		c.reply(env, MsgAck, &AckPayload{For: MsgGap, SessionID: p.SessionID})

	case MsgEndSession:
		c.handleEnd(env)

	case MsgAbortSession:
		var p SessionPayload
		if err := env.GetPayload(&p); err != nil {
			c.fail(env, CodeBadRequest, err, "", 0)
			return
		}
		reason := p.Reason
		if reason == "" {
			reason = "aborted by client"
		}
		c.markEnding(p.SessionID)
		if err := c.srv.coord.Abort(p.SessionID, reason); err != nil {
			c.fail(env, CodeFor(err), err, p.SessionID, 0)
		}

	case MsgResumeSession:
		var p SessionPayload
		if err := env.GetPayload(&p); err != nil {
			c.fail(env, CodeBadRequest, err, "", 0)
			return
		}
		c.startMu.Lock()
		defer c.startMu.Unlock()
		if active, busy := c.recording(); busy && active != p.SessionID {
			c.busyError(env, active, p.SessionID)
			return
		}
		info, err := c.srv.coord.Attach(p.SessionID, c)
		if err != nil {
			c.fail(env, CodeFor(err), err, p.SessionID, 0)
			return
		}
		c.own(p.SessionID)
		c.reply(env, MsgAck, &AckPayload{For: MsgResumeSession, SessionID: info.ID, State: string(info.State)})

	case MsgPing:
		c.reply(env, MsgPong, nil)

	default:
		c.fail(env, CodeBadRequest, fmt.Errorf("unknown message type: %s", env.Type), "", 0)
	}
}

func (c *Conn) handleStart(ctx context.Context, env *Envelope) {
	var p StartSessionPayload
	if err := env.GetPayload(&p); err != nil {
		c.fail(env, CodeBadRequest, err, "", 0)
		return
	}
	if p.ScheduleRef == "" {
		c.fail(env, CodeBadRequest, errors.New("expectedScheduleRef is required"), p.SessionID, 0)
		return
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()
	if active, busy := c.recording(); busy {
		c.busyError(env, active, p.SessionID)
		return
	}

	info, err := c.srv.coord.Start(ctx, coordinator.StartRequest{
		SessionID:     p.SessionID,
		ScheduleRef:   p.ScheduleRef,
		ChunkDuration: time.Duration(p.ChunkMs) * time.Millisecond,
	}, c)
	if err != nil {
		c.fail(env, CodeFor(err), err, p.SessionID, 0)
		return
	}
	c.own(info.ID)
	c.reply(env, MsgAck, &AckPayload{For: MsgStartSession, SessionID: info.ID, State: string(info.State)})
}

func (c *Conn) handleChunk(ctx context.Context, env *Envelope) {
	p, err := env.AsChunk()
	if err != nil {
		c.fail(env, CodeBadRequest, err, "", 0)
		return
	}

	err = c.srv.coord.Submit(ctx, p.Chunk())
	switch {
	case err == nil:
		c.reply(env, MsgAck, &AckPayload{For: MsgChunk, SessionID: p.SessionID, Sequence: p.Sequence})
	case errors.Is(err, coordinator.ErrDuplicateSequence):
		c.reply(env, MsgAck, &AckPayload{For: MsgChunk, SessionID: p.SessionID, Sequence: p.Sequence, Duplicate: true})
	default:
		c.fail(env, CodeFor(err), err, p.SessionID, p.Sequence)
	}
}

// handleEnd finalizes in the background so the connection keeps reading;
// the summary reaches the client through Deliver.
func (c *Conn) handleEnd(env *Envelope) {
	var p SessionPayload
	if err := env.GetPayload(&p); err != nil {
		c.fail(env, CodeBadRequest, err, "", 0)
		return
	}
	c.markEnding(p.SessionID)
	logging.SafeGo("protocol", func() {
		if _, err := c.srv.coord.Finalize(context.Background(), p.SessionID); err != nil {
			c.fail(env, CodeFor(err), err, p.SessionID, 0)
		}
	})
}

// ServeConn reads messages from rwc until EOF or ctx ends.
func (s *Server) ServeConn(ctx context.Context, rwc io.ReadWriteCloser) error {
	defer rwc.Close()

	ctx = logging.WithConnID(ctx, "")
	c := s.Open(logging.ConnID(ctx), NewEncoder(rwc))
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { rwc.Close() })
	defer stop()

	dec := NewDecoder(rwc)
	for {
		env, err := dec.Decode()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("decode from %s: %w", c.id, err)
		}
		c.Handle(ctx, env)
	}
}

// Serve accepts connections on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.log.Info("listening", map[string]interface{}{"addr": ln.Addr().String()})
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		logging.SafeGo("protocol", func() {
			if err := s.ServeConn(ctx, conn); err != nil {
				s.log.Warn("conn_error", map[string]interface{}{"remote": conn.RemoteAddr().String()}, err)
			}
		})
	}
}
