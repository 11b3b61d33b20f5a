// Package metrics provides a simple Prometheus-compatible metrics endpoint.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// ChunkOutcome classifies what happened to a submitted chunk.
type ChunkOutcome int

const (
	ChunkAccepted ChunkOutcome = iota
	ChunkDuplicate
	ChunkRejected
)

// Metrics holds runtime metrics for the feedback server
type Metrics struct {
	// Session lifecycle
	SessionsStarted   atomic.Int64
	SessionsCompleted atomic.Int64
	SessionsFailed    atomic.Int64
	ActiveSessions    atomic.Int64

	// Chunk intake
	ChunksAccepted  atomic.Int64
	ChunksDuplicate atomic.Int64
	ChunksRejected  atomic.Int64
	GapsReported    atomic.Int64

	// Recognition
	Verdicts            atomic.Int64
	RecognitionFailures atomic.Int64
	RecognitionTimeouts atomic.Int64

	// Timing (last operation duration in ms)
	LastRecognitionMs atomic.Int64

	startTime time.Time
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// Global returns the global metrics instance
func Global() *Metrics {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// New creates an independent metrics instance.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordSessionStarted records a new recording session
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Add(1)
	m.ActiveSessions.Add(1)
}

// RecordSessionEnded records a session reaching a terminal state
func (m *Metrics) RecordSessionEnded(completed bool) {
	if completed {
		m.SessionsCompleted.Add(1)
	} else {
		m.SessionsFailed.Add(1)
	}
	m.ActiveSessions.Add(-1)
}

// RecordChunk records a submit outcome
func (m *Metrics) RecordChunk(outcome ChunkOutcome) {
	switch outcome {
	case ChunkAccepted:
		m.ChunksAccepted.Add(1)
	case ChunkDuplicate:
		m.ChunksDuplicate.Add(1)
	case ChunkRejected:
		m.ChunksRejected.Add(1)
	}
}

// RecordGaps records sequences the transport could not deliver
func (m *Metrics) RecordGaps(n int) {
	m.GapsReported.Add(int64(n))
}

// RecordVerdict records an emitted verdict and the recognizer latency behind it
func (m *Metrics) RecordVerdict(failed, timedOut bool, durationMs int64) {
	m.Verdicts.Add(1)
	if failed {
		m.RecognitionFailures.Add(1)
	}
	if timedOut {
		m.RecognitionTimeouts.Add(1)
	}
	m.LastRecognitionMs.Store(durationMs)
}

type series struct {
	name  string
	help  string
	kind  string
	value func(m *Metrics) int64
}

var exported = []series{
	{"aaroh_sessions_started_total", "Total sessions started", "counter", func(m *Metrics) int64 { return m.SessionsStarted.Load() }},
	{"aaroh_sessions_completed_total", "Total sessions completed", "counter", func(m *Metrics) int64 { return m.SessionsCompleted.Load() }},
	{"aaroh_sessions_failed_total", "Total sessions failed", "counter", func(m *Metrics) int64 { return m.SessionsFailed.Load() }},
	{"aaroh_sessions_active", "Sessions not yet completed or failed", "gauge", func(m *Metrics) int64 { return m.ActiveSessions.Load() }},
	{"aaroh_chunks_accepted_total", "Chunks accepted for recognition", "counter", func(m *Metrics) int64 { return m.ChunksAccepted.Load() }},
	{"aaroh_chunks_duplicate_total", "Chunks ignored as duplicate sequences", "counter", func(m *Metrics) int64 { return m.ChunksDuplicate.Load() }},
	{"aaroh_chunks_rejected_total", "Chunks rejected by backpressure or unknown session", "counter", func(m *Metrics) int64 { return m.ChunksRejected.Load() }},
	{"aaroh_gaps_total", "Sequences reported lost by the transport", "counter", func(m *Metrics) int64 { return m.GapsReported.Load() }},
	{"aaroh_verdicts_total", "Verdicts emitted", "counter", func(m *Metrics) int64 { return m.Verdicts.Load() }},
	{"aaroh_recognition_failures_total", "Synthetic failure verdicts", "counter", func(m *Metrics) int64 { return m.RecognitionFailures.Load() }},
	{"aaroh_recognition_timeouts_total", "Recognizer calls that timed out", "counter", func(m *Metrics) int64 { return m.RecognitionTimeouts.Load() }},
	{"aaroh_last_recognition_duration_ms", "Last recognizer call duration", "gauge", func(m *Metrics) int64 { return m.LastRecognitionMs.Load() }},
}

// Handler returns an HTTP handler for /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		uptime := time.Since(m.startTime).Seconds()

		fmt.Fprintf(w, "# HELP aaroh_uptime_seconds Time since the server started\n")
		fmt.Fprintf(w, "# TYPE aaroh_uptime_seconds gauge\n")
		fmt.Fprintf(w, "aaroh_uptime_seconds %.2f\n", uptime)

		for _, s := range exported {
			fmt.Fprintf(w, "\n# HELP %s %s\n", s.name, s.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", s.name, s.kind)
			fmt.Fprintf(w, "%s %d\n", s.name, s.value(m))
		}
	}
}

// HealthFunc reports whether a dependency is usable.
type HealthFunc func(ctx context.Context) error

// Server wraps the metrics HTTP server
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server on the given port.
// health may be nil, in which case /health always answers ok.
func NewServer(port int, m *Metrics, health HealthFunc) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", m.Handler())
	mux.HandleFunc("/health", healthHandler(health))

	return &Server{
		srv: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}
}

func healthHandler(health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

// Start starts the metrics server in background
func (s *Server) Start() error {
	go s.srv.ListenAndServe()
	return nil
}

// Stop gracefully shuts down the metrics server
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
