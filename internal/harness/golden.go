package harness

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/observablehq/airbyte/internal/engine"
	"github.com/observablehq/airbyte/internal/protocol"
)

// GoldenDir is where scenario snapshots live, relative to the package.
const GoldenDir = "testdata/scenarios/golden"

// Snapshot renders the observable outcome of a scenario as stable text.
//
// Records inside one checkpoint segment complete in any order, so the LOG
// messages between two STATE messages are sorted by text. Calls are grouped
// per member, where they are sequential.
func Snapshot(scenario *Scenario, result *Result) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "scenario: %s\n", scenario.Name)

	if result.Check != nil {
		fmt.Fprintf(&b, "check: %s", result.Check.Status)
		if result.Check.Message != "" {
			fmt.Fprintf(&b, " %s", result.Check.Message)
		}
		b.WriteString("\n")
	}

	if len(scenario.Input) > 0 {
		b.WriteString("output:\n")
		for _, line := range canonicalOutput(result.Output) {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		if result.WriteErr != nil {
			fmt.Fprintf(&b, "error: %s\n", errorCode(result.WriteErr))
		}
		s := result.Stats
		fmt.Fprintf(&b, "stats: records=%d checkpoints=%d warnings=%d segments=%d skipped=%d\n",
			s.Records, s.Checkpoints, s.Warnings, s.Segments, s.Skipped)
		fmt.Fprintf(&b, "backoff: %s\n", result.Backoff)
	}

	b.WriteString("calls:\n")
	for _, email := range callEmails(result) {
		calls := result.CallsFor(email)
		ops := make([]string, len(calls))
		for i, c := range calls {
			ops[i] = string(c.Op)
		}
		fmt.Fprintf(&b, "  %s: %s\n", email, strings.Join(ops, " "))
	}

	b.WriteString("members:\n")
	for _, m := range result.Members {
		fmt.Fprintf(&b, "  %s\n", m.Email)
		for _, key := range sortedKeys(m.Attributes) {
			fmt.Fprintf(&b, "    %s: %v\n", key, m.Attributes[key])
		}
		ids := make([]int64, 0, len(m.Fields))
		for id := range m.Fields {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			fmt.Fprintf(&b, "    field %d: %v\n", id, m.Fields[id])
		}
	}

	return []byte(b.String())
}

// canonicalOutput formats messages and sorts logs within each segment.
func canonicalOutput(msgs []protocol.Message) []string {
	var out, pending []string
	flush := func() {
		sort.Strings(pending)
		out = append(out, pending...)
		pending = pending[:0]
	}
	for _, msg := range msgs {
		if msg.Type == protocol.TypeState {
			flush()
			out = append(out, formatMessage(msg))
			continue
		}
		pending = append(pending, formatMessage(msg))
	}
	flush()
	return out
}

// errorCode reduces a run error to its code; the wrapped cause depends on
// which task failed first.
func errorCode(err error) string {
	var re *engine.RunError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	return err.Error()
}

func callEmails(result *Result) []string {
	seen := make(map[string]bool)
	var emails []string
	for _, c := range result.Calls {
		if c.Email == "" || seen[c.Email] {
			continue
		}
		seen[c.Email] = true
		emails = append(emails, c.Email)
	}
	sort.Strings(emails)
	return emails
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/scenarios/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, Snapshot(scenario, result))

	return result, nil
}
