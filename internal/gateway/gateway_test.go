package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/aaroh/internal/coordinator"
	"github.com/joss/aaroh/internal/domain"
	"github.com/joss/aaroh/internal/logging"
	"github.com/joss/aaroh/internal/metrics"
	"github.com/joss/aaroh/internal/protocol"
	"github.com/joss/aaroh/internal/recognizer"
	"github.com/joss/aaroh/internal/schedule"
)

func TestMain(m *testing.M) {
	logging.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type emitted struct {
	event string
	env   protocol.Envelope
}

// fakeSocket implements the parts of socketio.Conn the gateway uses.
type fakeSocket struct {
	socketio.Conn
	id string

	mu   sync.Mutex
	ctx  interface{}
	sent []emitted
}

func (f *fakeSocket) ID() string { return f.id }

func (f *fakeSocket) SetContext(v interface{}) {
	f.mu.Lock()
	f.ctx = v
	f.mu.Unlock()
}

func (f *fakeSocket) Emit(event string, v ...interface{}) {
	var env protocol.Envelope
	if len(v) == 1 {
		if s, ok := v[0].(string); ok {
			json.Unmarshal([]byte(s), &env)
		}
	}
	f.mu.Lock()
	f.sent = append(f.sent, emitted{event: event, env: env})
	f.mu.Unlock()
}

func (f *fakeSocket) events(name string) []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Envelope
	for _, e := range f.sent {
		if e.event == name {
			out = append(out, e.env)
		}
	}
	return out
}

func newGateway(t *testing.T) *Gateway {
	t.Helper()
	sched, err := schedule.New("warmup", "", []domain.ChordEvent{
		{Chord: "C", Start: 0, Duration: 1},
		{Chord: "G", Start: 1, Duration: 1},
	})
	require.NoError(t, err)

	coord := coordinator.New(coordinator.Options{}, coordinator.Deps{
		Schedules: schedule.ProviderFunc(func(ctx context.Context, ref string) (*schedule.Schedule, error) {
			return sched, nil
		}),
		Recognizer: recognizer.Func(func(ctx context.Context, payload []byte) (recognizer.Result, error) {
			return recognizer.Result{Chord: string(payload)}, nil
		}),
		Metrics: metrics.New(),
	})
	t.Cleanup(func() { coord.Close(context.Background()) })
	return New(protocol.NewServer(coord))
}

func TestGatewaySessionFlow(t *testing.T) {
	g := newGateway(t)
	s := &fakeSocket{id: "abc"}

	g.connect(s)
	assert.Equal(t, 1, g.Connections())
	assert.Equal(t, "sio-abc", s.ctx)

	g.handle(s, protocol.MsgStartSession, `{"sessionId":"web-1","expectedScheduleRef":"warmup","chunkMs":1000}`)
	acks := s.events("ack")
	require.Len(t, acks, 1)

	var ack protocol.AckPayload
	require.NoError(t, acks[0].GetPayload(&ack))
	assert.Equal(t, "web-1", ack.SessionID)
	assert.Equal(t, protocol.MsgStartSession, ack.For)

	// "C" base64-encoded
	g.handle(s, protocol.MsgChunk, `{"sessionId":"web-1","sequence":0,"capturedAt":0,"payload":"Qw=="}`)
	g.handle(s, protocol.MsgEndSession, `{"sessionId":"web-1"}`)

	require.Eventually(t, func() bool { return len(s.events("summary")) == 1 }, 2*time.Second, 5*time.Millisecond)

	verdicts := s.events("verdict")
	require.Len(t, verdicts, 1)
	v, err := verdicts[0].AsVerdict()
	require.NoError(t, err)
	assert.Equal(t, "C", v.DetectedChord)
	assert.True(t, v.Correct)

	sum, err := s.events("summary")[0].AsSummary()
	require.NoError(t, err)
	assert.Equal(t, 1, sum.CorrectChords)
	assert.True(t, sum.Final)
}

func TestGatewayRejectsInvalidJSON(t *testing.T) {
	g := newGateway(t)
	s := &fakeSocket{id: "bad"}
	g.connect(s)

	g.handle(s, protocol.MsgChunk, `{not json`)

	errs := s.events("error")
	require.Len(t, errs, 1)
	p, err := errs[0].AsError()
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeBadRequest, p.Code)
	assert.Equal(t, protocol.MsgChunk, p.For)
}

func TestGatewayDisconnectDetachesSessions(t *testing.T) {
	g := newGateway(t)
	s := &fakeSocket{id: "gone"}
	g.connect(s)
	g.handle(s, protocol.MsgStartSession, `{"sessionId":"web-2","expectedScheduleRef":"warmup"}`)

	g.disconnect(s, "transport close")
	assert.Equal(t, 0, g.Connections())

	// A new socket can pick the session up again.
	next := &fakeSocket{id: "back"}
	g.connect(next)
	g.handle(next, protocol.MsgResumeSession, `{"sessionId":"web-2"}`)

	acks := next.events("ack")
	require.Len(t, acks, 1)
	var ack protocol.AckPayload
	require.NoError(t, acks[0].GetPayload(&ack))
	assert.Equal(t, string(domain.StateRecording), ack.State)
}

func TestGatewayIgnoresUnknownSocket(t *testing.T) {
	g := newGateway(t)
	s := &fakeSocket{id: "stranger"}

	g.handle(s, protocol.MsgPing, "")
	assert.Empty(t, s.events("pong"))
}

func TestCORSPreflight(t *testing.T) {
	g := newGateway(t)

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/socket.io/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
