// Package harness provides conformance scenarios for the write pipeline.
//
// A scenario seeds an in-memory member directory, pushes a message stream
// through the real destination (config validation, field resolution, the
// checkpoint dispatcher and the upsert protocol) and checks what came out.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	config:
//	  member_fields: [{ source: name, api: fullName }]
//	  custom_fields: [{ source: plan, api: Plan }]
//	catalog:
//	  - { id: 1, name: Plan, type: string }
//	members:
//	  - email: ada@example.com
//	    attributes: { fullName: Ada }
//	faults:
//	  - { op: upsert, email: bob@example.com, times: -1 }
//	input:
//	  - { type: RECORD, record: { stream: users, data: { email: ada@example.com } } }
//	  - { type: STATE, state: { cursor: 1 } }
//	  - "not json"
//	assertions:
//	  - type: output_contains
//	    message_type: LOG
//	    contains: "Error adding member"
//	  - type: calls_order
//	    email: bob@example.com
//	    ops: [lookup, upsert, upsert, upsert]
//
// # Assertion Types
//
//   - output_count: exactly N messages of a type were emitted
//   - output_contains: some emitted message contains a substring
//   - calls_count: exactly N directory calls of an op (optionally per member)
//   - calls_order: the exact call sequence made for one member
//   - member: a member exists (or not) with at least the given attributes
//   - field_value: the stored value of one custom field
//   - journal: status and counters of the journaled run
//
// # Deterministic Testing
//
// Retries never sleep: delays are recorded and reported as a total. The
// journal runs in memory on a ticking clock with a fixed run id. Snapshot
// sorts the logs of each checkpoint segment so golden files are stable
// under any worker count.
package harness
