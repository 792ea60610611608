package journal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observablehq/airbyte/internal/protocol"
)

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)

	require.NoError(t, j.BeginRun(ctx, "run-1"))
	require.NoError(t, j.RecordWarning(ctx, "run-1", 1, protocol.LogMessage{
		Level: protocol.LevelWarn, Message: "Error adding member", StackTrace: "POST members: 503",
	}))
	require.NoError(t, j.RecordCheckpoint(ctx, "run-1", 2, json.RawMessage(`{"cursor":1}`)))
	require.NoError(t, j.FinishRun(ctx, "run-1", Summary{
		Status: StatusSucceeded, Records: 3, Checkpoints: 1, Warnings: 1,
	}))

	detail, err := j.ReadRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, detail.Run.Status)
	assert.Equal(t, 3, detail.Run.Records)
	require.NotNil(t, detail.Run.FinishedAt)
	assert.True(t, detail.Run.FinishedAt.After(detail.Run.StartedAt))

	require.Len(t, detail.Checkpoints, 1)
	assert.JSONEq(t, `{"cursor":1}`, string(detail.Checkpoints[0].State))
	assert.Equal(t, int64(2), detail.Checkpoints[0].Seq)

	require.Len(t, detail.Warnings, 1)
	assert.Equal(t, protocol.LevelWarn, detail.Warnings[0].Log.Level)
	assert.Equal(t, "POST members: 503", detail.Warnings[0].Log.StackTrace)
}

// TestRecord_Idempotent tests that re-recording the same seq is ignored.
func TestRecord_Idempotent(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)

	require.NoError(t, j.BeginRun(ctx, "run-1"))
	require.NoError(t, j.BeginRun(ctx, "run-1"))
	require.NoError(t, j.RecordCheckpoint(ctx, "run-1", 1, json.RawMessage(`{"a":1}`)))
	require.NoError(t, j.RecordCheckpoint(ctx, "run-1", 1, json.RawMessage(`{"a":2}`)))

	detail, err := j.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, detail.Checkpoints, 1)
	assert.JSONEq(t, `{"a":1}`, string(detail.Checkpoints[0].State))
}

func TestRecordCheckpoint_UnknownRun(t *testing.T) {
	j := createTestJournal(t)
	err := j.RecordCheckpoint(context.Background(), "nope", 1, json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestFinishRun_Failed(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)

	require.NoError(t, j.BeginRun(ctx, "run-1"))
	require.NoError(t, j.FinishRun(ctx, "run-1", Summary{Status: StatusFailed, Err: errors.New("TASK_FAILED: bug")}))

	detail, err := j.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, detail.Run.Status)
	assert.Equal(t, "TASK_FAILED: bug", detail.Run.Error)

	err = j.FinishRun(ctx, "missing", Summary{Status: StatusSucceeded})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestReadRun_NotFound(t *testing.T) {
	j := createTestJournal(t)
	_, err := j.ReadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

// TestListRuns_NewestFirst tests ordering and limit.
func TestListRuns_NewestFirst(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)

	for _, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, j.BeginRun(ctx, id))
	}

	runs, err := j.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"run-c", "run-b", "run-a"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})
	assert.Equal(t, StatusRunning, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)

	runs, err = j.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestListRuns_Empty(t *testing.T) {
	runs, err := createTestJournal(t).ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestLastCheckpoint(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)

	_, err := j.LastCheckpoint(ctx)
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	require.NoError(t, j.BeginRun(ctx, "run-1"))
	require.NoError(t, j.RecordCheckpoint(ctx, "run-1", 1, json.RawMessage(`{"cursor":1}`)))
	require.NoError(t, j.RecordCheckpoint(ctx, "run-1", 4, json.RawMessage(`{"cursor":2}`)))
	require.NoError(t, j.BeginRun(ctx, "run-2"))
	require.NoError(t, j.RecordCheckpoint(ctx, "run-2", 1, json.RawMessage(`{"cursor":3}`)))

	cp, err := j.LastCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", cp.RunID)
	assert.JSONEq(t, `{"cursor":3}`, string(cp.State))
}
