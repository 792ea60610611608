package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReader_RecordsAndStatesInOrder tests that messages come back in input order.
func TestReader_RecordsAndStatesInOrder(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"RECORD","record":{"stream":"users","data":{"email":"a@example.com"},"emitted_at":1}}`,
		`{"type":"STATE","state":{"data":{"cursor":"2024-01-01"}}}`,
		`{"type":"RECORD","record":{"stream":"users","data":{"email":"b@example.com"},"emitted_at":2}}`,
	}, "\n")

	r := NewReader(strings.NewReader(input))

	msg, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeRecord, msg.Type)
	assert.Equal(t, "a@example.com", msg.Record.Data["email"])

	msg, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeState, msg.Type)
	assert.JSONEq(t, `{"data":{"cursor":"2024-01-01"}}`, string(msg.State))

	msg, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", msg.Record.Data["email"])

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, r.Line())
}

// TestReader_KeepsNumberPrecision tests that integers beyond 2^53 survive decoding.
func TestReader_KeepsNumberPrecision(t *testing.T) {
	input := `{"type":"RECORD","record":{"stream":"users","data":{"acct":12345678901234567,"ratio":0.1},"emitted_at":1}}`

	msg, err := NewReader(strings.NewReader(input)).Next()
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567"), msg.Record.Data["acct"])
	assert.Equal(t, json.Number("0.1"), msg.Record.Data["ratio"])

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).Emit(msg))
	assert.Contains(t, buf.String(), `"acct":12345678901234567`)
}

// TestReader_SkipsUndecodableLines tests that junk lines are counted, not fatal.
func TestReader_SkipsUndecodableLines(t *testing.T) {
	input := "not json\n\n{\"no_type\":true}\n{\"type\":\"STATE\",\"state\":{}}\n"

	r := NewReader(strings.NewReader(input))
	msg, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeState, msg.Type)
	assert.Equal(t, 2, r.Skipped())

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

// TestReader_StateOwnsItsBytes tests that successive reads don't clobber
// earlier STATE payloads through the scanner's shared buffer.
func TestReader_StateOwnsItsBytes(t *testing.T) {
	input := `{"type":"STATE","state":{"n":1}}` + "\n" + `{"type":"STATE","state":{"n":2}}` + "\n"

	r := NewReader(strings.NewReader(input))
	first, err := r.Next()
	require.NoError(t, err)
	second, err := r.Next()
	require.NoError(t, err)

	assert.JSONEq(t, `{"n":1}`, string(first.State))
	assert.JSONEq(t, `{"n":2}`, string(second.State))
}

// TestWriter_StatePassesThroughVerbatim tests that checkpoint payloads are written byte for byte.
func TestWriter_StatePassesThroughVerbatim(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Emit(NewState(json.RawMessage(`{"cursor":"<a&b>"}`))))
	assert.Equal(t, `{"type":"STATE","state":{"cursor":"<a&b>"}}`+"\n", buf.String())
}

func TestWriter_ConcurrentEmitProducesWholeLines(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = w.Emit(NewLog(LevelWarn, fmt.Sprintf("warning %d", i), nil))
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 50)
	for _, line := range lines {
		var msg Message
		require.NoError(t, json.Unmarshal([]byte(line), &msg))
		assert.Equal(t, TypeLog, msg.Type)
	}
}

func TestNewLog_RendersErrorChain(t *testing.T) {
	root := errors.New("connection reset")
	err := fmt.Errorf("POST members: %w", root)

	msg := NewLog(LevelWarn, "Error adding member", err)
	require.NotNil(t, msg.Log)
	assert.Equal(t, LevelWarn, msg.Log.Level)
	assert.Equal(t, "POST members: connection reset\n  caused by: connection reset", msg.Log.StackTrace)

	assert.Empty(t, NewLog(LevelInfo, "ok", nil).Log.StackTrace)
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	catalog := `{"streams":[{"stream":{"name":"users"},"sync_mode":"incremental","destination_sync_mode":"append"},
	{"stream":{"name":"orgs"},"sync_mode":"full_refresh","destination_sync_mode":"overwrite"}]}`
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"users", "orgs"}, c.StreamNames())

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read catalog")
}
