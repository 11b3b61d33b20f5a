package selftest

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/joss/aaroh/internal/coordinator"
	"github.com/joss/aaroh/internal/protocol"
	"github.com/joss/aaroh/internal/recognizer"
)

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{5*time.Minute + 30*time.Second, "5m30s"},
		{2*time.Hour + 15*time.Minute + 30*time.Second, "2h15m30s"},
		{3*24*time.Hour + 5*time.Hour + 30*time.Minute, "3d5h30m"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := formatUptime(tt.duration)
			if got != tt.expected {
				t.Errorf("formatUptime(%v) = %s, want %s", tt.duration, got, tt.expected)
			}
		})
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckHealth(t *testing.T) {
	probes := []Probe{
		PingProbe("store", pingFunc(func(ctx context.Context) error { return nil })),
		{Name: "slow", Slow: time.Millisecond, Check: func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		}},
	}

	status := CheckHealth(context.Background(), probes)

	if status.Timestamp == "" || status.Uptime == "" {
		t.Error("timestamp and uptime should be set")
	}
	if status.Components["store"].Status != "ok" {
		t.Errorf("store: expected ok, got %+v", status.Components["store"])
	}
	if status.Components["slow"].Status != "degraded" {
		t.Errorf("slow: expected degraded, got %+v", status.Components["slow"])
	}
	if status.Status != "degraded" {
		t.Errorf("expected degraded overall, got %s", status.Status)
	}
	if status.Err() != nil {
		t.Errorf("degraded is not an error: %v", status.Err())
	}
}

func TestCheckHealthFailure(t *testing.T) {
	probes := []Probe{
		PingProbe("recognizer", pingFunc(func(ctx context.Context) error { return errors.New("connection refused") })),
		PingProbe("store", pingFunc(func(ctx context.Context) error { return nil })),
	}

	status := CheckHealth(context.Background(), probes)
	if status.Status != "unhealthy" {
		t.Errorf("expected unhealthy, got %s", status.Status)
	}
	err := HealthFunc(probes)(context.Background())
	if err == nil || !strings.Contains(err.Error(), "recognizer: connection refused") {
		t.Errorf("expected recognizer error, got %v", err)
	}
}

func TestHealthHandler(t *testing.T) {
	probes := []Probe{PingProbe("store", pingFunc(func(ctx context.Context) error { return errors.New("closed") }))}

	rec := httptest.NewRecorder()
	HealthHandler(probes)(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %s", ct)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Components["store"].Error != "closed" {
		t.Errorf("unexpected body: %+v", status)
	}
}

func TestServerProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	coord := coordinator.New(coordinator.Options{}, coordinator.Deps{
		Recognizer: recognizer.Func(func(ctx context.Context, payload []byte) (recognizer.Result, error) {
			return recognizer.Result{}, nil
		}),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go protocol.NewServer(coord).Serve(ctx, ln)

	status := CheckHealth(context.Background(), []Probe{ServerProbe(ln.Addr().String())})
	if status.Components["server"].Status == "error" {
		t.Errorf("server probe failed: %s", status.Components["server"].Error)
	}

	ln.Close()
	status = CheckHealth(context.Background(), []Probe{ServerProbe(ln.Addr().String())})
	if status.Components["server"].Status != "error" {
		t.Error("expected error after listener closed")
	}
}
