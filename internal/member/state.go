package member

// State is the position of one record in the upsert protocol.
type State int

const (
	StateLookup State = iota
	StateMatched
	StateMismatched
	StateNotFound
	StateCreate
	StateCreateFailed
	StateFieldWrite
	StateDone
)

var stateNames = [...]string{
	StateLookup:       "lookup",
	StateMatched:      "matched",
	StateMismatched:   "mismatched",
	StateNotFound:     "not_found",
	StateCreate:       "create",
	StateCreateFailed: "create_failed",
	StateFieldWrite:   "field_write",
	StateDone:         "done",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// NeedsCreate reports whether the lookup outcome leads to an upsert.
func (s State) NeedsCreate() bool {
	return s == StateMismatched || s == StateNotFound
}
