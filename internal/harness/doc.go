// Package harness runs scripted reconciliation scenarios against a real
// bridge and records a deterministic trace for golden comparison.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: entity_deletion
//	description: "Deleting an entity drops later writes in the same batch"
//	host:
//	  fail_entities: [7]
//	ticks:
//	  - send:
//	      - { op: put, entity: 1, component: 5, ts: 10, payload: "x" }
//	      - { op: delete_entity, entity: 1 }
//	    expect:
//	      outcomes: [updated, updated]
//	  - get_state: true
//	assertions:
//	  - type: slot_count
//	    count: 0
//
// Each tick is one SendToHost call (or GetState when get_state is set).
// host_push messages are pushed into the outgoing collector before the call
// and come back in the response. trailer appends raw hex bytes to the
// encoded batch to exercise malformed input.
//
// # Trace
//
// Every decoded inbound message, host apply, failure report, response and
// snapshot is appended to the trace with its tick index. The trace is
// compared against testdata/golden/{name}.golden:
//
//	go test ./internal/harness -update
package harness
