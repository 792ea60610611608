package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observablehq/airbyte/internal/commonroom"
	"github.com/observablehq/airbyte/internal/testutil"
)

var errTransient = &commonroom.StatusError{Method: "POST", Path: "members", StatusCode: 503}

// failing returns an op that fails n times with err, then succeeds.
func failing(n int, err error, calls *int) func() error {
	return func() error {
		*calls++
		if *calls <= n {
			return err
		}
		return nil
	}
}

func TestPolicy_SucceedsFirstTime(t *testing.T) {
	rec := testutil.NewTimerRecorder()
	p := Policy{Unit: time.Millisecond, NewTimer: rec.NewTimer}

	calls := 0
	require.NoError(t, p.Do(context.Background(), failing(0, errTransient, &calls)))
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.Delays())
}

// TestPolicy_LinearDelays tests that attempts 1 and 2 wait 2 and 4 units.
func TestPolicy_LinearDelays(t *testing.T) {
	rec := testutil.NewTimerRecorder()
	p := Policy{MaxAttempts: 3, Unit: time.Second, NewTimer: rec.NewTimer}

	calls := 0
	require.NoError(t, p.Do(context.Background(), failing(2, errTransient, &calls)))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.Delays())
}

// TestPolicy_ExhaustedReturnsLastError tests that the final failure is returned unmodified.
func TestPolicy_ExhaustedReturnsLastError(t *testing.T) {
	rec := testutil.NewTimerRecorder()
	p := Policy{MaxAttempts: 3, Unit: time.Second, NewTimer: rec.NewTimer}

	last := &commonroom.StatusError{Method: "POST", Path: "members", StatusCode: 500}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls == 3 {
			return last
		}
		return errTransient
	})

	assert.Equal(t, 3, calls)
	assert.Same(t, last, err)
	assert.Equal(t, 6*time.Second, rec.Total())
}

func TestPolicy_NonTransientNotRetried(t *testing.T) {
	rec := testutil.NewTimerRecorder()
	p := Policy{NewTimer: rec.NewTimer}

	bug := errors.New("nil map write")
	calls := 0
	err := p.Do(context.Background(), failing(5, bug, &calls))

	assert.Equal(t, 1, calls)
	assert.Same(t, bug, err)
	assert.Empty(t, rec.Delays())
}

func TestPolicy_SingleAttempt(t *testing.T) {
	rec := testutil.NewTimerRecorder()
	p := Policy{MaxAttempts: 1, NewTimer: rec.NewTimer}

	calls := 0
	err := p.Do(context.Background(), failing(5, errTransient, &calls))
	assert.Equal(t, 1, calls)
	assert.Same(t, errTransient, err)
}

func TestPolicy_CustomClassifierAndNotify(t *testing.T) {
	rec := testutil.NewTimerRecorder()
	flaky := errors.New("flaky")

	var notified []time.Duration
	p := Policy{
		MaxAttempts: 4,
		Unit:        time.Millisecond,
		Transient:   func(err error) bool { return errors.Is(err, flaky) },
		Notify:      func(_ error, d time.Duration) { notified = append(notified, d) },
		NewTimer:    rec.NewTimer,
	}

	calls := 0
	require.NoError(t, p.Do(context.Background(), failing(3, flaky, &calls)))
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{2 * time.Millisecond, 4 * time.Millisecond, 6 * time.Millisecond}, notified)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Unit: 10 * time.Millisecond}
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 20*time.Millisecond, p.Delay(1))
	assert.Equal(t, 40*time.Millisecond, p.Delay(2))

	var zero Policy
	assert.Equal(t, 2*DefaultUnit, zero.Delay(1))
}
