// Package testutil provides in-memory collaborators for tests of the write
// pipeline: a fake member directory with fault injection and a backoff timer
// that records delays instead of sleeping.
package testutil

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/observablehq/airbyte/internal/commonroom"
)

// Op names one Directory operation.
type Op string

const (
	OpLookup     Op = "lookup"
	OpUpsert     Op = "upsert"
	OpListFields Op = "list_fields"
	OpSetField   Op = "set_field"
)

// Call is one recorded Directory invocation.
type Call struct {
	Op      Op
	Email   string
	FieldID int64
	Fields  map[string]any
	Value   any
}

// Fault makes matching calls fail.
//
// Email and FieldID narrow the match; zero values match any call of Op.
// Times is how many matching calls fail before the fault clears; a negative
// Times fails forever. A nil Err fails with a 503 StatusError.
type Fault struct {
	Op      Op
	Email   string
	FieldID int64
	Times   int
	Err     error
}

// FakeDirectory is an in-memory commonroom.Directory.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeDirectory struct {
	mu      sync.Mutex
	members map[string]map[string]any
	catalog []commonroom.CustomField
	values  map[string]map[int64]commonroom.TypedValue
	faults  []*Fault
	calls   []Call

	delay func(Call) time.Duration

	inFlight    int
	maxInFlight int
}

var _ commonroom.Directory = (*FakeDirectory)(nil)

// NewFakeDirectory creates an empty directory with the given field catalog.
func NewFakeDirectory(catalog ...commonroom.CustomField) *FakeDirectory {
	return &FakeDirectory{
		members: make(map[string]map[string]any),
		catalog: catalog,
		values:  make(map[string]map[int64]commonroom.TypedValue),
	}
}

// AddMember seeds a member keyed by email.
func (d *FakeDirectory) AddMember(email string, attrs map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := make(map[string]any, len(attrs))
	for k, v := range attrs {
		m[k] = v
	}
	d.members[email] = m
}

// Fail registers a fault.
func (d *FakeDirectory) Fail(f Fault) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f.Times == 0 {
		f.Times = 1
	}
	d.faults = append(d.faults, &f)
}

// SetDelay makes every call sleep for delay(call) before answering.
func (d *FakeDirectory) SetDelay(delay func(Call) time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

// Member returns a copy of the stored member attributes.
func (d *FakeDirectory) Member(email string) (map[string]any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.members[email]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, true
}

// FieldValue returns the custom field value stored for a member.
func (d *FakeDirectory) FieldValue(email string, fieldID int64) (commonroom.TypedValue, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.values[email][fieldID]
	return v, ok
}

// FieldValues returns every custom field value stored for a member.
func (d *FakeDirectory) FieldValues(email string) map[int64]commonroom.TypedValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[int64]commonroom.TypedValue, len(d.values[email]))
	for id, v := range d.values[email] {
		out[id] = v
	}
	return out
}

// MemberEmails returns the sorted emails of every stored member.
func (d *FakeDirectory) MemberEmails() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.members))
	for e := range d.members {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Calls returns every recorded call in arrival order.
func (d *FakeDirectory) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// CallsFor returns the recorded calls of one operation.
func (d *FakeDirectory) CallsFor(op Op) []Call {
	var out []Call
	for _, c := range d.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Emails returns the sorted distinct emails that op was called with.
func (d *FakeDirectory) Emails(op Op) []string {
	seen := make(map[string]bool)
	for _, c := range d.CallsFor(op) {
		seen[c.Email] = true
	}
	out := make([]string, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// MaxInFlight returns the highest number of concurrently executing calls.
func (d *FakeDirectory) MaxInFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxInFlight
}

// LookupMember implements commonroom.Directory.
func (d *FakeDirectory) LookupMember(ctx context.Context, email string) (*commonroom.Member, error) {
	call := Call{Op: OpLookup, Email: email}
	if err := d.enter(ctx, call); err != nil {
		return nil, err
	}
	defer d.leave()

	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.members[email]
	if !ok {
		return nil, commonroom.ErrMemberNotFound
	}
	attrs := make(map[string]any, len(m))
	for k, v := range m {
		attrs[k] = v
	}
	return &commonroom.Member{Attributes: attrs}, nil
}

// UpsertMember implements commonroom.Directory.
func (d *FakeDirectory) UpsertMember(ctx context.Context, m commonroom.MemberUpsert) error {
	call := Call{Op: OpUpsert, Email: m.Email, Fields: m.Fields}
	if err := d.enter(ctx, call); err != nil {
		return err
	}
	defer d.leave()

	d.mu.Lock()
	defer d.mu.Unlock()
	stored, ok := d.members[m.Email]
	if !ok {
		stored = make(map[string]any)
		d.members[m.Email] = stored
	}
	for k, v := range m.Fields {
		stored[k] = v
	}
	return nil
}

// ListCustomFields implements commonroom.Directory.
func (d *FakeDirectory) ListCustomFields(ctx context.Context) ([]commonroom.CustomField, error) {
	if err := d.enter(ctx, Call{Op: OpListFields}); err != nil {
		return nil, err
	}
	defer d.leave()

	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]commonroom.CustomField, len(d.catalog))
	copy(out, d.catalog)
	return out, nil
}

// SetCustomField implements commonroom.Directory.
func (d *FakeDirectory) SetCustomField(ctx context.Context, v commonroom.CustomFieldValue) error {
	call := Call{Op: OpSetField, Email: v.Email, FieldID: v.FieldID, Value: v.Value.Value}
	if err := d.enter(ctx, call); err != nil {
		return err
	}
	defer d.leave()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.values[v.Email] == nil {
		d.values[v.Email] = make(map[int64]commonroom.TypedValue)
	}
	d.values[v.Email][v.FieldID] = v.Value
	return nil
}

// enter records the call, waits out any delay and applies faults.
// On success the caller must call leave.
func (d *FakeDirectory) enter(ctx context.Context, call Call) error {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.inFlight++
	if d.inFlight > d.maxInFlight {
		d.maxInFlight = d.inFlight
	}
	delay := d.delay
	err := d.faultLocked(call)
	d.mu.Unlock()

	if delay != nil {
		if wait := delay(call); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				d.leave()
				return ctx.Err()
			case <-t.C:
			}
		}
	}

	if err != nil {
		d.leave()
		return err
	}
	return nil
}

func (d *FakeDirectory) leave() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inFlight--
}

func (d *FakeDirectory) faultLocked(call Call) error {
	for _, f := range d.faults {
		if f.Times == 0 || f.Op != call.Op {
			continue
		}
		if f.Email != "" && f.Email != call.Email {
			continue
		}
		if f.FieldID != 0 && f.FieldID != call.FieldID {
			continue
		}
		if f.Times > 0 {
			f.Times--
		}
		if f.Err != nil {
			return f.Err
		}
		return &commonroom.StatusError{
			Method:     methodFor(call.Op),
			Path:       pathFor(call.Op),
			StatusCode: http.StatusServiceUnavailable,
		}
	}
	return nil
}

func methodFor(op Op) string {
	switch op {
	case OpUpsert, OpSetField:
		return http.MethodPost
	default:
		return http.MethodGet
	}
}

func pathFor(op Op) string {
	switch op {
	case OpListFields, OpSetField:
		return "members/customFields"
	default:
		return "members"
	}
}
