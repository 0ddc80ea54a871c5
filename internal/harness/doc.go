// Package harness runs reconciliation scenarios against the real engine.
//
// A scenario pairs one definition with a sequence of passes. Each pass
// serves a fixed record batch through a static driver, runs a full sync
// into a fresh in-memory SQLite store and checks the run outcome. Once all
// passes are done, assertions inspect the target table and the run history.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: update_known_events
//	description: "Second pass updates rows matched by foreign key"
//	definition_file: events.yaml   # or an inline definition: block
//	options:
//	  dedupe: false
//	  continue_on_error: false
//	seed:
//	  - { fk: "ev-1", name: "Old title" }
//	passes:
//	  - records:
//	      - { EventId: "ev-1", Title: "Opening Night" }
//	    expect:
//	      status: ok
//	      counts: { added: 0, updated: 1, skipped: 0, failed: 0 }
//	assertions:
//	  - type: row
//	    where: { fk: "ev-1" }
//	    expect: { name: "Opening Night" }
//	  - type: row_count
//	    count: 1
//
// # Assertion Types
//
//   - row: exactly one row matches where and holds the expect values
//   - row_count: the number of rows matching where (all rows when empty)
//   - run_count: the number of recorded runs, optionally with one status
//
// # Deterministic Testing
//
// Run ids come from a sequence generator (run-0001, run-0002, ...) and the
// engine clock is a testutil.DeterministicClock, so the snapshot written by
// RunWithGolden is identical across runs.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/update.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
