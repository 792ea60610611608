package testutil

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// TimerRecorder hands out backoff timers that fire immediately and remembers
// every delay they were started with.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type TimerRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

// NewTimerRecorder creates an empty recorder.
func NewTimerRecorder() *TimerRecorder {
	return &TimerRecorder{}
}

// NewTimer returns a timer that records its delay and fires at once.
// Matches the retry.Policy NewTimer hook.
func (r *TimerRecorder) NewTimer() backoff.Timer {
	return &instantTimer{rec: r, c: make(chan time.Time, 1)}
}

// Delays returns every recorded delay in start order.
func (r *TimerRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

// Total returns the sum of all recorded delays.
func (r *TimerRecorder) Total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total time.Duration
	for _, d := range r.delays {
		total += d
	}
	return total
}

func (r *TimerRecorder) record(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
}

type instantTimer struct {
	rec *TimerRecorder
	c   chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.rec.record(d)
	select {
	case t.c <- time.Time{}:
	default:
	}
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time {
	return t.c
}
