package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observablehq/airbyte/internal/commonroom"
)

func TestFakeDirectory_UpsertThenLookup(t *testing.T) {
	ctx := context.Background()
	dir := NewFakeDirectory()

	_, err := dir.LookupMember(ctx, "ada@example.com")
	assert.True(t, commonroom.IsNotFound(err))

	require.NoError(t, dir.UpsertMember(ctx, commonroom.MemberUpsert{
		Email:  "ada@example.com",
		Fields: map[string]any{"fullName": "Ada"},
	}))

	m, err := dir.LookupMember(ctx, "ada@example.com")
	require.NoError(t, err)
	v, _ := m.Get("fullName")
	assert.Equal(t, "Ada", v)
	assert.Len(t, dir.CallsFor(OpLookup), 2)
	assert.Len(t, dir.CallsFor(OpUpsert), 1)
}

// TestFakeDirectory_FaultTimes tests that a fault clears after Times hits.
func TestFakeDirectory_FaultTimes(t *testing.T) {
	ctx := context.Background()
	dir := NewFakeDirectory()
	dir.Fail(Fault{Op: OpUpsert, Email: "a@example.com", Times: 2})

	up := commonroom.MemberUpsert{Email: "a@example.com"}
	err := dir.UpsertMember(ctx, up)
	require.Error(t, err)
	assert.True(t, commonroom.IsTransient(err))
	require.Error(t, dir.UpsertMember(ctx, up))
	require.NoError(t, dir.UpsertMember(ctx, up))

	// Other emails are unaffected.
	require.NoError(t, dir.UpsertMember(ctx, commonroom.MemberUpsert{Email: "b@example.com"}))
}

func TestFakeDirectory_FaultForeverWithCustomError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	dir := NewFakeDirectory(commonroom.CustomField{ID: 7, Name: "Plan", Type: "string"})
	dir.Fail(Fault{Op: OpSetField, FieldID: 7, Times: -1, Err: boom})

	for i := 0; i < 5; i++ {
		err := dir.SetCustomField(ctx, commonroom.CustomFieldValue{Email: "a@example.com", FieldID: 7})
		assert.ErrorIs(t, err, boom)
	}
	_, ok := dir.FieldValue("a@example.com", 7)
	assert.False(t, ok)
}

func TestFakeDirectory_MaxInFlight(t *testing.T) {
	dir := NewFakeDirectory()
	dir.SetDelay(func(Call) time.Duration { return 20 * time.Millisecond })

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = dir.LookupMember(context.Background(), "x@example.com")
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, dir.MaxInFlight())
}

func TestTimerRecorder_RecordsDelays(t *testing.T) {
	rec := NewTimerRecorder()
	timer := rec.NewTimer()

	timer.Start(2 * time.Second)
	<-timer.C()
	timer.Start(4 * time.Second)
	<-timer.C()
	timer.Stop()

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.Delays())
	assert.Equal(t, 6*time.Second, rec.Total())
}

func TestFakeDirectory_Snapshot(t *testing.T) {
	ctx := context.Background()
	dir := NewFakeDirectory()
	dir.AddMember("bob@example.com", nil)
	dir.AddMember("ada@example.com", nil)

	require.NoError(t, dir.SetCustomField(ctx, commonroom.CustomFieldValue{
		Email:   "ada@example.com",
		FieldID: 3,
		Value:   commonroom.TypedValue{Type: "string", Value: "pro"},
	}))

	assert.Equal(t, []string{"ada@example.com", "bob@example.com"}, dir.MemberEmails())
	assert.Equal(t, map[int64]commonroom.TypedValue{3: {Type: "string", Value: "pro"}}, dir.FieldValues("ada@example.com"))
	assert.Empty(t, dir.FieldValues("bob@example.com"))
}
