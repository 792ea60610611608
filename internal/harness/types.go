package harness

import (
	"time"

	"github.com/observablehq/airbyte/internal/engine"
	"github.com/observablehq/airbyte/internal/journal"
	"github.com/observablehq/airbyte/internal/protocol"
	"github.com/observablehq/airbyte/internal/testutil"
)

// MemberState is the final remote state of one member.
type MemberState struct {
	Email      string
	Attributes map[string]any
	Fields     map[int64]any
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success.
	Pass bool `json:"pass"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Check is the connection status, when the scenario ran a check.
	Check *protocol.ConnectionStatus `json:"check,omitempty"`

	// Output is every message the write emitted, in emission order.
	Output []protocol.Message `json:"-"`

	// Stats summarises the write.
	Stats engine.Stats `json:"-"`

	// WriteErr is the error the write returned, if any.
	WriteErr error `json:"-"`

	// Calls is every directory call in arrival order.
	Calls []testutil.Call `json:"-"`

	// Backoff is the total time retries would have slept.
	Backoff time.Duration `json:"-"`

	// Members is the final directory state, sorted by email.
	Members []MemberState `json:"-"`

	// Run is the journal entry of the write.
	Run *journal.RunDetail `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// CallsFor returns the calls made for one member, in order.
func (r *Result) CallsFor(email string) []testutil.Call {
	var out []testutil.Call
	for _, c := range r.Calls {
		if c.Email == email {
			out = append(out, c)
		}
	}
	return out
}

// Member returns the final state of a member.
func (r *Result) Member(email string) (MemberState, bool) {
	for _, m := range r.Members {
		if m.Email == email {
			return m, true
		}
	}
	return MemberState{}, false
}
