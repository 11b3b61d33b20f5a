package selftest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joss/aaroh/internal/protocol"
)

// ComponentStatus represents health of a single component
type ComponentStatus struct {
	Status  string `json:"status"` // ok, degraded, error
	Latency int64  `json:"latency_ms,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthStatus represents overall system health
type HealthStatus struct {
	Status     string                     `json:"status"` // healthy, degraded, unhealthy
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentStatus `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Err summarizes failed components, or nil when none failed.
func (h *HealthStatus) Err() error {
	var failed []string
	for name, c := range h.Components {
		if c.Status == "error" {
			failed = append(failed, fmt.Sprintf("%s: %s", name, c.Error))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	sort.Strings(failed)
	return errors.New(strings.Join(failed, "; "))
}

// Probe checks one dependency. A check slower than Slow reports degraded.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
	Slow  time.Duration
}

// Pinger is anything with a liveness check, such as the SQLite store or
// the HTTP recognizer.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingProbe wraps a Pinger.
func PingProbe(name string, p Pinger) Probe {
	return Probe{Name: name, Check: p.Ping, Slow: 100 * time.Millisecond}
}

// ServerProbe dials a session server and round-trips a ping.
func ServerProbe(addr string) Probe {
	return Probe{
		Name: "server",
		Slow: 250 * time.Millisecond,
		Check: func(ctx context.Context) error {
			c, err := protocol.Dial(ctx, addr)
			if err != nil {
				return err
			}
			defer c.Close()
			go c.Run()
			return c.Ping(ctx)
		},
	}
}

var startTime = time.Now()

// CheckHealth runs the probes concurrently.
func CheckHealth(ctx context.Context, probes []Probe) *HealthStatus {
	status := &HealthStatus{
		Status:     "healthy",
		Uptime:     formatUptime(time.Since(startTime)),
		Components: make(map[string]ComponentStatus),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, p := range probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			result := run(ctx, p)
			mu.Lock()
			status.Components[p.Name] = result
			if result.Status == "error" {
				status.Status = "unhealthy"
			} else if result.Status == "degraded" && status.Status == "healthy" {
				status.Status = "degraded"
			}
			mu.Unlock()
		}(p)
	}

	wg.Wait()
	return status
}

func run(ctx context.Context, p Probe) ComponentStatus {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.Check(ctx); err != nil {
		return ComponentStatus{
			Status:  "error",
			Latency: time.Since(start).Milliseconds(),
			Error:   err.Error(),
		}
	}

	latency := time.Since(start)
	status := "ok"
	if p.Slow > 0 && latency > p.Slow {
		status = "degraded"
	}
	return ComponentStatus{
		Status:  status,
		Latency: latency.Milliseconds(),
	}
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd%dh%dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// HealthFunc adapts the probes to the metrics server's /health check.
func HealthFunc(probes []Probe) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return CheckHealth(ctx, probes).Err()
	}
}

// HealthHandler returns an HTTP handler reporting every probe as JSON.
func HealthHandler(probes []Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		status := CheckHealth(ctx, probes)

		w.Header().Set("Content-Type", "application/json")

		switch status.Status {
		case "healthy", "degraded":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(status)
	}
}
