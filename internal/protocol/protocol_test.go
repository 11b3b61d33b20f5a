package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/joss/aaroh/internal/coordinator"
	"github.com/joss/aaroh/internal/domain"
)

func TestEnvelopeEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	dec := NewDecoder(&buf)

	chunk := domain.Chunk{
		SessionID:  "sess-1",
		Sequence:   3,
		CapturedAt: 3 * time.Second,
		Payload:    []byte{0x52, 0x49, 0x46, 0x46, 0x00},
	}
	if err := enc.Send(MsgChunk, ChunkFrom(chunk)); err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, err := dec.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != MsgChunk {
		t.Errorf("expected type %s, got %s", MsgChunk, env.Type)
	}
	if env.ID == "" || env.Timestamp == "" {
		t.Errorf("expected id and timestamp, got %+v", env)
	}

	got, err := env.AsChunk()
	if err != nil {
		t.Fatalf("AsChunk: %v", err)
	}
	back := got.Chunk()
	if back.Sequence != 3 || back.SessionID != "sess-1" {
		t.Errorf("unexpected chunk: %+v", back)
	}
	if back.CapturedAt != 3*time.Second {
		t.Errorf("CapturedAt: expected 3s, got %v", back.CapturedAt)
	}
	if !bytes.Equal(back.Payload, chunk.Payload) {
		t.Errorf("payload mismatch: %v", back.Payload)
	}
}

func TestChunkPayloadIsBase64OnTheWire(t *testing.T) {
	var buf bytes.Buffer
	NewEncoder(&buf).Send(MsgChunk, ChunkPayload{SessionID: "s", Sequence: 0, Payload: []byte("RIFF")})

	if !strings.Contains(buf.String(), `"payload":"UklGRg=="`) {
		t.Errorf("expected base64 payload, got %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"capturedAt":0`) {
		t.Errorf("expected capturedAt field, got %s", buf.String())
	}
}

func TestMultipleMessages(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	messages := []MessageType{MsgPing, MsgPong, MsgStatus}
	for _, m := range messages {
		enc.Send(m, nil)
	}
	buf.WriteString("\n\n")

	dec := NewDecoder(&buf)
	for i, expected := range messages {
		env, err := dec.Decode()
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if env.Type != expected {
			t.Errorf("message %d: expected %s, got %s", i, expected, env.Type)
		}
	}

	// Blank lines are skipped, then EOF
	_, err := dec.Decode()
	if err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestDecodeMalformedLine(t *testing.T) {
	dec := NewDecoder(strings.NewReader("{not json\n"))
	if _, err := dec.Decode(); err == nil || !strings.Contains(err.Error(), "unmarshal envelope") {
		t.Errorf("expected unmarshal error, got %v", err)
	}
}

func TestReplyCarriesRef(t *testing.T) {
	req := NewEnvelope(MsgStartSession, &StartSessionPayload{ScheduleRef: "warmup"})
	rep := Reply(req, MsgAck, &AckPayload{For: MsgStartSession, SessionID: "s"})

	if rep.Ref != req.ID {
		t.Errorf("expected ref %s, got %s", req.ID, rep.Ref)
	}
	if rep.ID == req.ID {
		t.Error("reply must have its own id")
	}
}

func TestVerdictPayloadNullChord(t *testing.T) {
	var buf bytes.Buffer
	v := domain.FailureVerdict("s", 4, "recognition timed out", time.Unix(0, 0).UTC())
	NewEncoder(&buf).Send(MsgVerdict, &v)

	if !strings.Contains(buf.String(), `"detectedChord":null`) {
		t.Errorf("expected null chord, got %s", buf.String())
	}

	env, err := NewDecoder(&buf).Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := env.AsVerdict()
	if err != nil {
		t.Fatalf("AsVerdict: %v", err)
	}
	if got.Sequence != 4 || got.DetectedChord != "" || got.Failure != "recognition timed out" {
		t.Errorf("unexpected verdict: %+v", got)
	}
}

func TestGetPayloadRawMessage(t *testing.T) {
	env := &Envelope{Type: MsgGap, Payload: json.RawMessage(`{"sessionId":"s","sequences":[2,5]}`)}

	var p GapPayload
	if err := env.GetPayload(&p); err != nil {
		t.Fatalf("GetPayload: %v", err)
	}
	if p.SessionID != "s" || len(p.Sequences) != 2 || p.Sequences[1] != 5 {
		t.Errorf("unexpected payload: %+v", p)
	}
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("%w: x", coordinator.ErrSessionNotFound), CodeSessionNotFound},
		{coordinator.ErrSessionExists, CodeSessionExists},
		{fmt.Errorf("load: %w", coordinator.ErrScheduleUnavailable), CodeScheduleUnavailable},
		{coordinator.ErrBackpressure, CodeBackpressure},
		{coordinator.ErrClosed, CodeUnavailable},
		{io.ErrUnexpectedEOF, CodeInternal},
	}
	for _, tt := range tests {
		if got := CodeFor(tt.err); got != tt.code {
			t.Errorf("CodeFor(%v) = %s, want %s", tt.err, got, tt.code)
		}
	}

	err := fmt.Errorf("start: %w", &ErrorPayload{Code: CodeBackpressure, Message: "full"})
	if !IsCode(err, CodeBackpressure) {
		t.Error("IsCode should see through wrapping")
	}
	if IsCode(err, CodeSessionNotFound) {
		t.Error("IsCode matched the wrong code")
	}
}
