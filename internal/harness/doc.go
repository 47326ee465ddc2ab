// Package harness runs thread scenarios against a store and records a
// deterministic trace for golden comparison.
//
// # Scenario Format
//
// Scenarios are YAML files with a name, a description and a list of steps.
// Threads are named by alias; the harness maps aliases to the ids the
// service generates, so traces never contain random ids.
//
//	name: basic_conversation
//	description: "Create a thread and reply to it"
//	steps:
//	  - op: create
//	    thread: a
//	    content: Hello
//	  - op: reply
//	    thread: a
//	    content: World
//	    expected_version: 1
//	  - op: reply
//	    thread: a
//	    content: Stale
//	    expected_version: 1
//	    expect: version_mismatch
//	  - op: get
//	    thread: a
//
// # Steps
//
//   - create: starts a thread under a new alias
//   - reply: replies to an alias, at expected_version or at the last version
//     the harness observed; repeat replies several times at the latest version
//   - find: loads the write model
//   - get: loads the read projection and checks message lookups agree with it
//   - list: lists thread summaries by alias
//
// create and reply take an expect outcome, one of ok (the default),
// version_mismatch, not_found, message_limit and invalid_content.
// A reply to an alias no create step bound targets a fresh id, so it is
// not_found.
//
// # Deterministic Testing
//
// Every run uses a testutil.DeterministicClock, so the same scenario
// produces the same trace on every store. The golden file is the trace
// rendered as canonical JSON, one step per line.
//
//	go test ./internal/harness -update
//
// regenerates the golden files.
package harness
