package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/observablehq/airbyte/internal/member"
	"github.com/observablehq/airbyte/internal/protocol"
	"github.com/observablehq/airbyte/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Calls    []testutil.Call // Directory calls for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Calls) > 0 {
		fmt.Fprintf(&buf, "\nCalls:\n")
		for i, c := range e.Calls {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, formatCall(c))
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages. An empty slice means every assertion held.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i+1, err))
		}
	}
	return errs
}

func evaluate(r *Result, a Assertion) error {
	switch a.Type {
	case AssertOutputCount:
		return assertOutputCount(r, a)
	case AssertOutputContains:
		return assertOutputContains(r, a)
	case AssertCallsCount:
		return assertCallsCount(r, a)
	case AssertCallsOrder:
		return assertCallsOrder(r, a)
	case AssertMember:
		return assertMember(r, a)
	case AssertFieldValue:
		return assertFieldValue(r, a)
	case AssertJournal:
		return assertJournal(r, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertOutputCount checks how many messages of one type were emitted.
func assertOutputCount(r *Result, a Assertion) error {
	count := 0
	for _, msg := range r.Output {
		if string(msg.Type) == a.MessageType {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertOutputCount,
			Expected: fmt.Sprintf("%d %s messages", a.Count, a.MessageType),
			Actual:   fmt.Sprintf("%d %s messages", count, a.MessageType),
		}
	}
	return nil
}

// assertOutputContains checks that some emitted message contains a substring.
// LOG messages match on their text, STATE messages on their raw payload.
func assertOutputContains(r *Result, a Assertion) error {
	for _, msg := range r.Output {
		if a.MessageType != "" && string(msg.Type) != a.MessageType {
			continue
		}
		if strings.Contains(messageText(msg), a.Contains) {
			return nil
		}
	}

	lines := make([]string, len(r.Output))
	for i, msg := range r.Output {
		lines[i] = formatMessage(msg)
	}
	return &AssertionError{
		Type:     AssertOutputContains,
		Expected: fmt.Sprintf("a %s message containing %q", orAny(a.MessageType), a.Contains),
		Actual:   fmt.Sprintf("output %v", lines),
	}
}

// assertCallsCount counts directory calls of one op, optionally for one member.
func assertCallsCount(r *Result, a Assertion) error {
	count := 0
	for _, c := range r.Calls {
		if string(c.Op) != a.Op {
			continue
		}
		if a.Email != "" && c.Email != a.Email {
			continue
		}
		count++
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertCallsCount,
			Expected: fmt.Sprintf("%d %s calls%s", a.Count, a.Op, forEmail(a.Email)),
			Actual:   fmt.Sprintf("%d calls", count),
			Calls:    r.Calls,
		}
	}
	return nil
}

// assertCallsOrder checks the exact call sequence made for one member.
func assertCallsOrder(r *Result, a Assertion) error {
	calls := r.CallsFor(a.Email)
	actual := make([]string, len(calls))
	for i, c := range calls {
		actual[i] = string(c.Op)
	}
	if strings.Join(actual, ",") != strings.Join(a.Ops, ",") {
		return &AssertionError{
			Type:     AssertCallsOrder,
			Expected: fmt.Sprintf("calls %v%s", a.Ops, forEmail(a.Email)),
			Actual:   fmt.Sprintf("calls %v", actual),
			Calls:    calls,
		}
	}
	return nil
}

// assertMember checks that a member exists with at least the given attributes.
func assertMember(r *Result, a Assertion) error {
	m, ok := r.Member(a.Email)
	if a.Absent {
		if ok {
			return &AssertionError{
				Type:     AssertMember,
				Expected: fmt.Sprintf("no member %s", a.Email),
				Actual:   fmt.Sprintf("member with attributes %v", m.Attributes),
			}
		}
		return nil
	}
	if !ok {
		return &AssertionError{
			Type:     AssertMember,
			Expected: fmt.Sprintf("member %s", a.Email),
			Actual:   "member not found",
		}
	}

	for _, key := range sortedKeys(a.Attributes) {
		want := a.Attributes[key]
		have, exists := m.Attributes[key]
		if !exists || !member.Equal(want, have) {
			return &AssertionError{
				Type:     AssertMember,
				Expected: fmt.Sprintf("%s.%s = %v", a.Email, key, want),
				Actual:   fmt.Sprintf("%s.%s = %v (present=%t)", a.Email, key, have, exists),
			}
		}
	}
	return nil
}

// assertFieldValue checks the stored value of one custom field.
func assertFieldValue(r *Result, a Assertion) error {
	m, _ := r.Member(a.Email)
	have, ok := m.Fields[a.FieldID]

	if a.Absent {
		if ok {
			return &AssertionError{
				Type:     AssertFieldValue,
				Expected: fmt.Sprintf("no value for field %d of %s", a.FieldID, a.Email),
				Actual:   fmt.Sprintf("%v", have),
			}
		}
		return nil
	}
	if !ok || !member.Equal(a.Value, have) {
		return &AssertionError{
			Type:     AssertFieldValue,
			Expected: fmt.Sprintf("field %d of %s = %v", a.FieldID, a.Email, a.Value),
			Actual:   fmt.Sprintf("%v (present=%t)", have, ok),
		}
	}
	return nil
}

// assertJournal checks the journal entry of the write.
func assertJournal(r *Result, a Assertion) error {
	if r.Run == nil {
		return &AssertionError{
			Type:     AssertJournal,
			Expected: "a journaled run",
			Actual:   "no run recorded",
		}
	}
	run := r.Run.Run

	var problems []string
	if a.Status != "" && run.Status != a.Status {
		problems = append(problems, fmt.Sprintf("status %s, want %s", run.Status, a.Status))
	}
	if a.Records != nil && run.Records != *a.Records {
		problems = append(problems, fmt.Sprintf("records %d, want %d", run.Records, *a.Records))
	}
	if a.Checkpoints != nil && len(r.Run.Checkpoints) != *a.Checkpoints {
		problems = append(problems, fmt.Sprintf("checkpoints %d, want %d", len(r.Run.Checkpoints), *a.Checkpoints))
	}
	if a.Warnings != nil && len(r.Run.Warnings) != *a.Warnings {
		problems = append(problems, fmt.Sprintf("warnings %d, want %d", len(r.Run.Warnings), *a.Warnings))
	}

	if len(problems) > 0 {
		return &AssertionError{
			Type:     AssertJournal,
			Expected: "journal entry to match",
			Actual:   strings.Join(problems, "; "),
		}
	}
	return nil
}

func messageText(msg protocol.Message) string {
	switch {
	case msg.Log != nil:
		return msg.Log.Message
	case msg.State != nil:
		return string(msg.State)
	default:
		return ""
	}
}

func formatMessage(msg protocol.Message) string {
	if msg.Log != nil {
		return fmt.Sprintf("%s %s %s", msg.Type, msg.Log.Level, msg.Log.Message)
	}
	return fmt.Sprintf("%s %s", msg.Type, messageText(msg))
}

func formatCall(c testutil.Call) string {
	switch c.Op {
	case testutil.OpSetField:
		return fmt.Sprintf("%s %s field=%d value=%v", c.Op, c.Email, c.FieldID, c.Value)
	case testutil.OpUpsert:
		return fmt.Sprintf("%s %s %v", c.Op, c.Email, c.Fields)
	case testutil.OpListFields:
		return string(c.Op)
	default:
		return fmt.Sprintf("%s %s", c.Op, c.Email)
	}
}

func forEmail(email string) string {
	if email == "" {
		return ""
	}
	return " for " + email
}

func orAny(messageType string) string {
	if messageType == "" {
		return "any"
	}
	return messageType
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
