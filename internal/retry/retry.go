// Package retry wraps fallible remote writes with bounded, linearly backed-off
// retries.
//
// Before attempt n (0-indexed) the policy waits 2*n units, so three attempts
// wait 0, 2 and 4 units. Transient failures on every attempt but the last are
// swallowed; the last attempt's error is returned unmodified. Anything the
// classifier does not consider transient is returned at once.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/observablehq/airbyte/internal/commonroom"
)

const (
	// DefaultMaxAttempts is the number of calls made before giving up.
	DefaultMaxAttempts = 3

	// DefaultUnit is the backoff time unit.
	DefaultUnit = time.Second
)

// Policy describes how an operation is retried.
// The zero value is usable and means DefaultMaxAttempts and DefaultUnit.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int

	// Unit scales the delay: attempt n waits 2*n*Unit.
	Unit time.Duration

	// Transient decides which errors are retried.
	// Defaults to commonroom.IsTransient.
	Transient func(error) bool

	// Notify, when set, is called before each retry with the error that
	// triggered it and the delay about to be taken.
	Notify func(err error, delay time.Duration)

	// NewTimer, when set, supplies the timer used for delays.
	// Tests use it to observe delays without sleeping.
	NewTimer func() backoff.Timer
}

// Do runs op until it succeeds, fails permanently, or attempts run out.
func (p Policy) Do(ctx context.Context, op func() error) error {
	transient := p.Transient
	if transient == nil {
		transient = commonroom.IsTransient
	}

	attempt := func() error {
		err := op()
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var timer backoff.Timer
	if p.NewTimer != nil {
		timer = p.NewTimer()
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{unit: p.unit()}, uint64(p.attempts()-1)),
		ctx,
	)

	var notify backoff.Notify
	if p.Notify != nil {
		notify = backoff.Notify(p.Notify)
	}

	return backoff.RetryNotifyWithTimer(attempt, b, notify, timer)
}

// Delay returns the wait taken before attempt n.
func (p Policy) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(2*n) * p.unit()
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) unit() time.Duration {
	if p.Unit <= 0 {
		return DefaultUnit
	}
	return p.Unit
}

// linearBackOff yields 2, 4, 6, ... units. Not safe for concurrent use;
// Do builds one per call.
type linearBackOff struct {
	unit time.Duration
	n    int
}

// NextBackOff implements backoff.BackOff.
func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(2*b.n) * b.unit
}

// Reset implements backoff.BackOff.
func (b *linearBackOff) Reset() {
	b.n = 0
}
