package protocol

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/joss/aaroh/internal/domain"
	"github.com/joss/aaroh/internal/logging"
)

// Client is the practicing side of a connection. Set the callbacks, then
// start Run in a goroutine; callbacks run on that goroutine.
type Client struct {
	conn io.ReadWriteCloser
	enc  *Encoder
	dec  *Decoder
	log  *logging.Logger

	// Callbacks
	OnVerdict func(v domain.Verdict)
	OnStatus  func(p StatusPayload)
	OnSummary func(s domain.Summary)
	OnAck     func(p AckPayload)
	OnError   func(p ErrorPayload)

	mu      sync.Mutex
	waiters map[string]chan *Envelope
	done    chan struct{}
	err     error
}

// Dial connects to a server over TCP.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn io.ReadWriteCloser) *Client {
	return &Client{
		conn:    conn,
		enc:     NewEncoder(conn),
		dec:     NewDecoder(conn),
		log:     logging.New("client"),
		waiters: make(map[string]chan *Envelope),
		done:    make(chan struct{}),
	}
}

// Run reads server messages until the connection ends.
func (c *Client) Run() error {
	for {
		env, err := c.dec.Decode()
		if err != nil {
			if err == io.EOF {
				err = ErrDisconnected
			} else {
				err = fmt.Errorf("%w: %v", ErrDisconnected, err)
			}
			c.shutdown(err)
			return err
		}
		c.handleMessage(env)
	}
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}
	c.err = err
	close(c.done)
	for ref, ch := range c.waiters {
		close(ch)
		delete(c.waiters, ref)
	}
}

func (c *Client) handleMessage(env *Envelope) {
	if env.Ref != "" {
		c.mu.Lock()
		ch, ok := c.waiters[env.Ref]
		if ok {
			delete(c.waiters, env.Ref)
		}
		c.mu.Unlock()
		if ok {
			ch <- env
			return
		}
	}

	switch env.Type {
	case MsgVerdict:
		if v, err := env.AsVerdict(); err == nil && c.OnVerdict != nil {
			c.OnVerdict(*v)
		}

	case MsgStatus:
		var p StatusPayload
		if err := env.GetPayload(&p); err == nil && c.OnStatus != nil {
			c.OnStatus(p)
		}

	case MsgSummary:
		if s, err := env.AsSummary(); err == nil && c.OnSummary != nil {
			c.OnSummary(*s)
		}

	case MsgAck:
		if p, err := env.AsAck(); err == nil && c.OnAck != nil {
			c.OnAck(*p)
		}

	case MsgError:
		if p, err := env.AsError(); err == nil && c.OnError != nil {
			c.OnError(*p)
		}

	case MsgPong:
		// Unsolicited pong, nothing to do

	default:
		c.log.Debug("unknown_message", map[string]interface{}{"type": string(env.Type)})
	}
}

// request sends a message and waits for the reply that references it.
// An error reply is returned as *ErrorPayload.
func (c *Client) request(ctx context.Context, msgType MessageType, payload any) (*Envelope, error) {
	env := NewEnvelope(msgType, payload)
	ch := make(chan *Envelope, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, c.err
	default:
	}
	c.waiters[env.ID] = ch
	c.mu.Unlock()

	if err := c.enc.Encode(env); err != nil {
		c.forget(env.ID)
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, c.Err()
		}
		if reply.Type == MsgError {
			p, err := reply.AsError()
			if err != nil {
				return nil, err
			}
			return nil, p
		}
		return reply, nil
	case <-ctx.Done():
		c.forget(env.ID)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.waiters, id)
	c.mu.Unlock()
}

func (c *Client) send(msgType MessageType, payload any) error {
	select {
	case <-c.done:
		return c.err
	default:
	}
	if err := c.enc.Send(msgType, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// StartSession opens a session and waits for the server to accept it.
func (c *Client) StartSession(ctx context.Context, p StartSessionPayload) (AckPayload, error) {
	reply, err := c.request(ctx, MsgStartSession, &p)
	if err != nil {
		return AckPayload{}, err
	}
	ack, err := reply.AsAck()
	if err != nil {
		return AckPayload{}, err
	}
	return *ack, nil
}

// ResumeSession re-attaches to a session after a reconnect. Events the
// server held while detached are replayed after the ack.
func (c *Client) ResumeSession(ctx context.Context, sessionID string) (AckPayload, error) {
	reply, err := c.request(ctx, MsgResumeSession, &SessionPayload{SessionID: sessionID})
	if err != nil {
		return AckPayload{}, err
	}
	ack, err := reply.AsAck()
	if err != nil {
		return AckPayload{}, err
	}
	return *ack, nil
}

// SendChunk sends a chunk without waiting; the ack or error arrives
// through OnAck and OnError.
func (c *Client) SendChunk(chunk domain.Chunk) error {
	return c.send(MsgChunk, ChunkFrom(chunk))
}

// SendGap reports sequences that will never be delivered.
func (c *Client) SendGap(sessionID string, sequences []int) error {
	return c.send(MsgGap, &GapPayload{SessionID: sessionID, Sequences: sequences})
}

// EndSession asks the server to finalize; the summary arrives through OnSummary.
func (c *Client) EndSession(sessionID string) error {
	return c.send(MsgEndSession, &SessionPayload{SessionID: sessionID})
}

// AbortSession fails the session on the server.
func (c *Client) AbortSession(sessionID, reason string) error {
	return c.send(MsgAbortSession, &SessionPayload{SessionID: sessionID, Reason: reason})
}

// Ping checks the server answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, MsgPing, nil)
	return err
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.shutdown(ErrDisconnected)
	return err
}
