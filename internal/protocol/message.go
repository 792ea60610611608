// Package protocol defines the sync message envelope exchanged with the
// upstream platform and the JSON-lines codec used on stdin/stdout.
//
// The input stream is an ordered sequence of RECORD and STATE messages. The
// output stream carries forwarded STATE messages interleaved with LOG
// messages. STATE payloads are opaque: they are kept as raw JSON and written
// back byte-for-byte.
package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// Type identifies the kind of a Message.
type Type string

const (
	TypeRecord           Type = "RECORD"
	TypeState            Type = "STATE"
	TypeLog              Type = "LOG"
	TypeSpec             Type = "SPEC"
	TypeConnectionStatus Type = "CONNECTION_STATUS"
	TypeTrace            Type = "TRACE"
)

// Level is the severity of a LogMessage.
type Level string

const (
	LevelFatal Level = "FATAL"
	LevelError Level = "ERROR"
	LevelWarn  Level = "WARN"
	LevelInfo  Level = "INFO"
	LevelDebug Level = "DEBUG"
	LevelTrace Level = "TRACE"
)

// Status is the outcome of a connection check.
type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Message is the envelope for every line of the input and output streams.
// Exactly one payload field is set, selected by Type.
type Message struct {
	Type             Type                    `json:"type"`
	Record           *RecordMessage          `json:"record,omitempty"`
	State            json.RawMessage         `json:"state,omitempty"`
	Log              *LogMessage             `json:"log,omitempty"`
	Spec             *ConnectorSpecification `json:"spec,omitempty"`
	ConnectionStatus *ConnectionStatus       `json:"connectionStatus,omitempty"`
}

// RecordMessage is one row from the upstream source.
type RecordMessage struct {
	Stream    string         `json:"stream"`
	Namespace string         `json:"namespace,omitempty"`
	Data      map[string]any `json:"data"`
	EmittedAt int64          `json:"emitted_at"`
}

// String renders the record compactly for log messages.
func (r *RecordMessage) String() string {
	if r == nil {
		return "<nil record>"
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "stream=" + r.Stream
	}
	return string(data)
}

// LogMessage is a user-facing log line routed through the output stream.
type LogMessage struct {
	Level      Level  `json:"level"`
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// ConnectionStatus is the result of the check command.
type ConnectionStatus struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Succeeded reports whether the check passed.
func (s ConnectionStatus) Succeeded() bool {
	return s.Status == StatusSucceeded
}

// ConnectorSpecification describes the connector and its configuration schema.
type ConnectorSpecification struct {
	DocumentationURL              string          `json:"documentationUrl,omitempty"`
	SupportsIncremental           bool            `json:"supportsIncremental"`
	SupportedDestinationSyncModes []string        `json:"supported_destination_sync_modes"`
	ConnectionSpecification       json.RawMessage `json:"connectionSpecification"`
}

// NewState wraps an opaque checkpoint token.
func NewState(raw json.RawMessage) Message {
	return Message{Type: TypeState, State: raw}
}

// NewLog builds a LOG message. When err is non-nil its wrap chain is rendered
// into the stack trace, outermost first.
func NewLog(level Level, msg string, err error) Message {
	return Message{Type: TypeLog, Log: &LogMessage{
		Level:      level,
		Message:    msg,
		StackTrace: ErrorTrace(err),
	}}
}

// NewConnectionStatus builds a CONNECTION_STATUS message.
func NewConnectionStatus(status ConnectionStatus) Message {
	return Message{Type: TypeConnectionStatus, ConnectionStatus: &status}
}

// NewSpec builds a SPEC message.
func NewSpec(spec ConnectorSpecification) Message {
	return Message{Type: TypeSpec, Spec: &spec}
}

// ErrorTrace renders err and every error it wraps, one per line.
func ErrorTrace(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	depth := 0
	for e := err; e != nil; e = errors.Unwrap(e) {
		if depth > 0 {
			b.WriteString("\n")
			b.WriteString(strings.Repeat("  ", depth))
			b.WriteString("caused by: ")
		}
		b.WriteString(e.Error())
		depth++
	}
	return b.String()
}
