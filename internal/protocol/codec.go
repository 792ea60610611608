package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// maxLineSize bounds a single input line. Records can carry large payloads.
const maxLineSize = 64 << 20

// Reader decodes messages from a JSON-lines stream.
//
// Lines that do not decode as a message envelope are skipped and counted,
// matching how the platform treats stray output on a connector's stdin.
// Reader is not safe for concurrent use.
type Reader struct {
	scanner *bufio.Scanner
	line    int
	skipped int
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: scanner}
}

// Next returns the next message. It returns io.EOF at end of input.
func (r *Reader) Next() (Message, error) {
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		msg, err := decodeMessage(line)
		if err != nil || msg.Type == "" {
			r.skipped++
			continue
		}
		// The scanner reuses its buffer; State must own its bytes.
		if msg.State != nil {
			msg.State = append(json.RawMessage(nil), msg.State...)
		}
		return msg, nil
	}

	if err := r.scanner.Err(); err != nil {
		return Message{}, fmt.Errorf("read line %d: %w", r.line+1, err)
	}
	return Message{}, io.EOF
}

// decodeMessage keeps record numbers as json.Number so integers beyond
// 2^53 reach the remote API unchanged.
func decodeMessage(line []byte) (Message, error) {
	var msg Message
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if dec.More() {
		return Message{}, fmt.Errorf("trailing data after message")
	}
	return msg, nil
}

// Line returns the number of lines consumed so far.
func (r *Reader) Line() int {
	return r.line
}

// Skipped returns the number of undecodable lines that were ignored.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Writer encodes messages as JSON lines.
// Thread-safety: Emit may be called from any goroutine.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Writer{enc: enc}
}

// Emit writes msg as a single line.
func (w *Writer) Emit(msg Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(msg); err != nil {
		return fmt.Errorf("emit %s message: %w", msg.Type, err)
	}
	return nil
}

// ConfiguredCatalog lists the streams selected for a sync.
type ConfiguredCatalog struct {
	Streams []ConfiguredStream `json:"streams"`
}

// ConfiguredStream is one stream entry of a ConfiguredCatalog.
type ConfiguredStream struct {
	Stream struct {
		Name      string `json:"name"`
		Namespace string `json:"namespace,omitempty"`
	} `json:"stream"`
	SyncMode            string `json:"sync_mode"`
	DestinationSyncMode string `json:"destination_sync_mode"`
}

// StreamNames returns the names of the configured streams in catalog order.
func (c *ConfiguredCatalog) StreamNames() []string {
	names := make([]string, 0, len(c.Streams))
	for _, s := range c.Streams {
		names = append(names, s.Stream.Name)
	}
	return names
}

// LoadCatalog reads a configured catalog from a JSON file.
func LoadCatalog(path string) (*ConfiguredCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var catalog ConfiguredCatalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return &catalog, nil
}
