package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsGlobal(t *testing.T) {
	m1 := Global()
	m2 := Global()

	if m1 != m2 {
		t.Error("Global() should return same instance")
	}
}

func TestRecordSessionLifecycle(t *testing.T) {
	m := New()

	m.RecordSessionStarted()
	m.RecordSessionStarted()
	if m.ActiveSessions.Load() != 2 {
		t.Errorf("expected 2 active, got %d", m.ActiveSessions.Load())
	}

	m.RecordSessionEnded(true)
	m.RecordSessionEnded(false)
	if m.SessionsCompleted.Load() != 1 {
		t.Errorf("expected 1 completed, got %d", m.SessionsCompleted.Load())
	}
	if m.SessionsFailed.Load() != 1 {
		t.Errorf("expected 1 failed, got %d", m.SessionsFailed.Load())
	}
	if m.ActiveSessions.Load() != 0 {
		t.Errorf("expected 0 active, got %d", m.ActiveSessions.Load())
	}
}

func TestRecordChunkOutcomes(t *testing.T) {
	m := New()

	m.RecordChunk(ChunkAccepted)
	m.RecordChunk(ChunkAccepted)
	m.RecordChunk(ChunkDuplicate)
	m.RecordChunk(ChunkRejected)
	m.RecordGaps(3)

	if m.ChunksAccepted.Load() != 2 {
		t.Errorf("expected 2 accepted, got %d", m.ChunksAccepted.Load())
	}
	if m.ChunksDuplicate.Load() != 1 {
		t.Errorf("expected 1 duplicate, got %d", m.ChunksDuplicate.Load())
	}
	if m.ChunksRejected.Load() != 1 {
		t.Errorf("expected 1 rejected, got %d", m.ChunksRejected.Load())
	}
	if m.GapsReported.Load() != 3 {
		t.Errorf("expected 3 gaps, got %d", m.GapsReported.Load())
	}
}

func TestRecordVerdict(t *testing.T) {
	m := New()

	m.RecordVerdict(false, false, 120)
	m.RecordVerdict(true, true, 5000)

	if m.Verdicts.Load() != 2 {
		t.Errorf("expected 2 verdicts, got %d", m.Verdicts.Load())
	}
	if m.RecognitionFailures.Load() != 1 {
		t.Errorf("expected 1 failure, got %d", m.RecognitionFailures.Load())
	}
	if m.RecognitionTimeouts.Load() != 1 {
		t.Errorf("expected 1 timeout, got %d", m.RecognitionTimeouts.Load())
	}
	if m.LastRecognitionMs.Load() != 5000 {
		t.Errorf("expected last duration 5000, got %d", m.LastRecognitionMs.Load())
	}
}

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.RecordSessionStarted()
	m.RecordChunk(ChunkAccepted)
	m.RecordVerdict(false, false, 80)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler()(rec, req)

	resp := rec.Result()
	body, _ := io.ReadAll(resp.Body)
	output := string(body)

	if resp.Header.Get("Content-Type") != "text/plain; version=0.0.4" {
		t.Errorf("wrong content type: %s", resp.Header.Get("Content-Type"))
	}

	expectedMetrics := []string{
		"# TYPE aaroh_uptime_seconds gauge",
		"aaroh_sessions_started_total 1",
		"aaroh_sessions_active 1",
		"aaroh_chunks_accepted_total 1",
		"aaroh_verdicts_total 1",
		"aaroh_last_recognition_duration_ms 80",
		"# TYPE aaroh_chunks_duplicate_total counter",
	}

	for _, expected := range expectedMetrics {
		if !strings.Contains(output, expected) {
			t.Errorf("missing metric: %s\nOutput:\n%s", expected, output)
		}
	}
}

func TestNewServer(t *testing.T) {
	srv := NewServer(9999, New(), nil)
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
	if srv.srv.Addr != ":9999" {
		t.Errorf("expected addr ':9999', got '%s'", srv.srv.Addr)
	}
}

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(nil)(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("expected 'ok', got '%s'", rec.Body.String())
	}

	failing := func(ctx context.Context) error { return errors.New("store closed") }
	rec = httptest.NewRecorder()
	healthHandler(failing)(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "store closed") {
		t.Errorf("expected error body, got '%s'", rec.Body.String())
	}
}

func TestConcurrentMetricsRecording(t *testing.T) {
	m := New()

	done := make(chan bool)
	for i := 0; i < 100; i++ {
		go func() {
			m.RecordChunk(ChunkAccepted)
			m.RecordVerdict(false, false, 10)
			done <- true
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}

	if m.ChunksAccepted.Load() != 100 {
		t.Errorf("expected 100 chunks, got %d", m.ChunksAccepted.Load())
	}
	if m.Verdicts.Load() != 100 {
		t.Errorf("expected 100 verdicts, got %d", m.Verdicts.Load())
	}
}
