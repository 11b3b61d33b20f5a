// Package protocol defines the client↔server wire protocol for practice
// sessions. Messages are JSON envelopes, one per line, over any byte
// stream (TCP in production, pipes in tests). The socket.io gateway
// carries the same message types as event names.
//
// Client → server:
//
//	start-session   open a session against an expected schedule
//	chunk           one audio chunk (payload base64)
//	gap             sequences the client could not deliver
//	end-session     stop recording; the server replies with a summary
//	abort-session   fail the session
//	resume-session  re-attach to a session after a reconnect
//
// Server → client: ack, status, verdict, summary, error.
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joss/aaroh/internal/domain"
)

// MessageType identifies the kind of message.
type MessageType string

const (
	// Client → Server
	MsgStartSession  MessageType = "start-session"
	MsgChunk         MessageType = "chunk"
	MsgGap           MessageType = "gap"
	MsgEndSession    MessageType = "end-session"
	MsgAbortSession  MessageType = "abort-session"
	MsgResumeSession MessageType = "resume-session"
	MsgPing          MessageType = "ping"

	// Server → Client
	MsgAck     MessageType = "ack"
	MsgStatus  MessageType = "status"
	MsgVerdict MessageType = "verdict"
	MsgSummary MessageType = "summary"
	MsgPong    MessageType = "pong"

	// Bidirectional
	MsgError MessageType = "error"
)

// Envelope wraps all protocol messages.
type Envelope struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id"`            // Message ID for correlation
	Ref       string      `json:"ref,omitempty"` // ID of the request this replies to
	Timestamp string      `json:"ts"`            // RFC3339
	Payload   any         `json:"payload,omitempty"`
}

// NewEnvelope creates a new envelope with a random ID and the current time.
func NewEnvelope(msgType MessageType, payload any) *Envelope {
	return &Envelope{
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
}

// Reply creates an envelope answering req.
func Reply(req *Envelope, msgType MessageType, payload any) *Envelope {
	env := NewEnvelope(msgType, payload)
	if req != nil {
		env.Ref = req.ID
	}
	return env
}

// ─────────────────────────────────────────────────────────────────────────────
// Payload types for Client → Server
// ─────────────────────────────────────────────────────────────────────────────

// StartSessionPayload opens a session. SessionID may be empty.
type StartSessionPayload struct {
	SessionID   string `json:"sessionId,omitempty"`
	ScheduleRef string `json:"expectedScheduleRef"`
	ChunkMs     int64  `json:"chunkMs,omitempty"`
}

// ChunkPayload carries one audio chunk. Payload is base64 on the wire.
type ChunkPayload struct {
	SessionID    string `json:"sessionId"`
	Sequence     int    `json:"sequence"`
	CapturedAtMs int64  `json:"capturedAt"`
	Payload      []byte `json:"payload"`
}

// ChunkFrom converts a captured chunk to its wire form.
func ChunkFrom(c domain.Chunk) ChunkPayload {
	return ChunkPayload{
		SessionID:    c.SessionID,
		Sequence:     c.Sequence,
		CapturedAtMs: c.CapturedAt.Milliseconds(),
		Payload:      c.Payload,
	}
}

// Chunk converts the wire form back to a domain chunk.
func (p ChunkPayload) Chunk() domain.Chunk {
	return domain.Chunk{
		SessionID:  p.SessionID,
		Sequence:   p.Sequence,
		CapturedAt: time.Duration(p.CapturedAtMs) * time.Millisecond,
		Payload:    p.Payload,
	}
}

// GapPayload lists sequences that will never be delivered.
type GapPayload struct {
	SessionID string `json:"sessionId"`
	Sequences []int  `json:"sequences"`
}

// SessionPayload names a session for end, abort and resume.
type SessionPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Payload types for Server → Client
// ─────────────────────────────────────────────────────────────────────────────

// AckPayload confirms a request. For chunks, Sequence names the chunk and
// Duplicate reports that it had already been accepted.
type AckPayload struct {
	For       MessageType `json:"for"`
	SessionID string      `json:"sessionId"`
	Sequence  int         `json:"sequence,omitempty"`
	Duplicate bool        `json:"duplicate,omitempty"`
	State     string      `json:"state,omitempty"`
}

// StatusPayload is an advisory session update.
type StatusPayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Encoder/Decoder for streaming JSON lines
// ─────────────────────────────────────────────────────────────────────────────

// Encoder writes envelopes as JSON lines.
type Encoder struct {
	w  io.Writer
	mu sync.Mutex
}

// NewEncoder creates an encoder for the given writer.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes an envelope as a single JSON line.
func (e *Encoder) Encode(env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = fmt.Fprintf(e.w, "%s\n", data)
	return err
}

// Send is a convenience method to create and encode an envelope.
func (e *Encoder) Send(msgType MessageType, payload any) error {
	return e.Encode(NewEnvelope(msgType, payload))
}

// Decoder reads envelopes from JSON lines.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a decoder for the given reader.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	// A one second chunk of 16-bit 44.1 kHz mono is ~118 KB in base64
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Decoder{scanner: scanner}
}

// Decode reads the next envelope.
func (d *Decoder) Decode() (*Envelope, error) {
	for {
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return nil, fmt.Errorf("unmarshal envelope: %w", err)
		}
		return &env, nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Payload extraction helpers
// ─────────────────────────────────────────────────────────────────────────────

// GetPayload extracts and unmarshals the payload into the target type.
func (e *Envelope) GetPayload(target any) error {
	if e.Payload == nil {
		return nil
	}

	var data []byte
	switch p := e.Payload.(type) {
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	default:
		// Payload comes as map[string]any from JSON, re-marshal to unmarshal into struct
		var err error
		if data, err = json.Marshal(e.Payload); err != nil {
			return err
		}
	}
	return json.Unmarshal(data, target)
}

// AsChunk extracts ChunkPayload.
func (e *Envelope) AsChunk() (*ChunkPayload, error) {
	var p ChunkPayload
	if err := e.GetPayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// AsVerdict extracts a verdict.
func (e *Envelope) AsVerdict() (*domain.Verdict, error) {
	var v domain.Verdict
	if err := e.GetPayload(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// AsSummary extracts a session summary.
func (e *Envelope) AsSummary() (*domain.Summary, error) {
	var s domain.Summary
	if err := e.GetPayload(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// AsAck extracts AckPayload.
func (e *Envelope) AsAck() (*AckPayload, error) {
	var p AckPayload
	if err := e.GetPayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// AsError extracts ErrorPayload.
func (e *Envelope) AsError() (*ErrorPayload, error) {
	var p ErrorPayload
	if err := e.GetPayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}
