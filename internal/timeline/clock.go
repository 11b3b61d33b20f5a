package timeline

import (
	"fmt"
	"sync"
	"time"
)

// Tempos are the supported playback speed multipliers.
var Tempos = []float64{0.5, 1, 1.5, 2}

// Clock is a pausable playback clock whose position advances at Tempo
// seconds per wall-clock second. It starts paused at position 0.
type Clock struct {
	mu        sync.Mutex
	now       func() time.Time
	tempo     float64
	base      float64 // position at the last resume, pause, seek or tempo change
	resumedAt time.Time
	running   bool
}

// NewClock creates a paused clock at 1x. now may be nil for time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now, tempo: 1}
}

// Position returns the playback position in seconds.
func (c *Clock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position()
}

func (c *Clock) position() float64 {
	if !c.running {
		return c.base
	}
	return c.base + c.now().Sub(c.resumedAt).Seconds()*c.tempo
}

// Play starts or resumes playback.
func (c *Clock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.resumedAt = c.now()
	c.running = true
}

// Pause freezes the position.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.base = c.position()
	c.running = false
}

// Playing reports whether the clock is advancing.
func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Seek jumps to position seconds. Negative positions clamp to 0.
func (c *Clock) Seek(position float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if position < 0 {
		position = 0
	}
	c.base = position
	c.resumedAt = c.now()
}

// Tempo returns the current multiplier.
func (c *Clock) Tempo() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tempo
}

// SetTempo changes the multiplier without moving the current position.
func (c *Clock) SetTempo(tempo float64) error {
	supported := false
	for _, t := range Tempos {
		if t == tempo {
			supported = true
		}
	}
	if !supported {
		return fmt.Errorf("unsupported tempo %.2fx", tempo)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = c.position()
	c.resumedAt = c.now()
	c.tempo = tempo
	return nil
}
