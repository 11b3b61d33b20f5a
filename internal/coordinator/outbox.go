package coordinator

import (
	"reflect"
	"sync"
	"time"
)

// outbox delivers a session's events to its current sink in production
// order. Events stay queued while no sink is attached.
type outbox struct {
	s *session

	mu       sync.Mutex
	pending  []Event
	sink     Sink
	gen      int // bumped on every attach
	detached bool
	stopped  bool
	timer    *time.Timer

	notify chan struct{}
	quit   chan struct{}
}

func newOutbox(s *session, sink Sink) *outbox {
	return &outbox{
		s:      s,
		sink:   sink,
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
}

func (o *outbox) push(ev Event) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.pending = append(o.pending, ev)
	o.mu.Unlock()
	o.wake()
}

func (o *outbox) wake() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// held returns the number of undelivered events.
func (o *outbox) held() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

func (o *outbox) run() {
	for {
		select {
		case <-o.notify:
		case <-o.quit:
			return
		}
		if o.flush() {
			return
		}
	}
}

// flush delivers queued events until the queue is empty or the sink
// fails. It returns true once the terminal event was delivered.
func (o *outbox) flush() bool {
	for {
		o.mu.Lock()
		if o.stopped || o.detached || o.sink == nil || len(o.pending) == 0 {
			o.mu.Unlock()
			return false
		}
		ev, sink, gen := o.pending[0], o.sink, o.gen
		o.mu.Unlock()

		if err := sink.Deliver(ev); err != nil {
			o.s.log.Warn("deliver_failed", map[string]interface{}{"kind": string(ev.Kind)}, err)
			o.s.detachGen(gen)
			return false
		}

		// A sink attached mid-delivery gets the event replayed.
		o.mu.Lock()
		popped := o.gen == gen && len(o.pending) > 0
		if popped {
			o.pending = o.pending[1:]
		}
		o.mu.Unlock()

		if popped && ev.Terminal() {
			o.stop()
			o.s.c.remove(o.s.info.ID)
			return true
		}
	}
}

// detach pauses delivery and arms the reconnect timer. gen < 0 detaches
// whatever sink is current; otherwise the call is ignored when that sink
// was already replaced.
func (o *outbox) detach(gen int, window time.Duration, expire func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped || (gen >= 0 && gen != o.gen) {
		return false
	}
	o.detached = true
	if o.timer == nil {
		o.timer = time.AfterFunc(window, func() {
			o.mu.Lock()
			if !o.detached || o.stopped {
				o.mu.Unlock()
				return
			}
			o.mu.Unlock()
			expire()
		})
	}
	return true
}

// genOf returns the current generation when sink is the attached sink.
func (o *outbox) genOf(sink Sink) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !sameSink(o.sink, sink) {
		return 0, false
	}
	return o.gen, true
}

// sameSink compares sinks by identity. Sinks of non-comparable dynamic
// type (SinkFunc) never match.
func sameSink(a, b Sink) bool {
	if a == nil || b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	return ta == reflect.TypeOf(b) && ta.Comparable() && a == b
}

// attach swaps in a new sink and replays everything still queued.
func (o *outbox) attach(sink Sink) bool {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return false
	}
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.sink = sink
	o.gen++
	o.detached = false
	o.mu.Unlock()
	o.wake()
	return true
}

func (o *outbox) stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}
	o.stopped = true
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	close(o.quit)
}
