// Package harness runs bundle write scenarios against real stores and checks
// the outcome of every step.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	store: memory            # memory (tracked rollback) or sqlite (atomic)
//	steps:
//	  - name: initial upload
//	    bundle:
//	      owner_id: acme
//	      scheme: gdpr
//	      region: EU
//	      config: '{"name": "Privacy Report", "outFileName": "privacy_out"}'
//	      primary: "SELECT email FROM users;"
//	    faults:
//	      - op: record.insert
//	        fail: first      # first | always | on
//	        count: 2
//	        error: transient # transient | fatal
//	    expect:
//	      outcome: CREATED
//	      version: 1
//	assertions:
//	  - type: active_version
//	    identity: gdpr_privacy_report_privacy_out_eu
//	    version: 1
//	  - type: history
//	    identity: gdpr_privacy_report_privacy_out_eu
//	    version: 1
//	    actions: [CREATED]
//
// # Assertion Types
//
//   - active_version: the identity's active record has the given version
//   - no_active: the identity has no active record
//   - history: the given version's audit trail equals actions
//   - version_count: the identity has exactly count stored versions
//   - blob_count: the blob store holds exactly count blobs
//
// # Deterministic Testing
//
// Every run uses a fresh store, a testutil.DeterministicClock, sequential
// blob handles ("blob-1", "blob-2", ...) and config references ("cfg-1",
// ...), and retries without sleeping. Identical scenarios therefore produce
// identical traces, which are compared against golden files with goldie.
package harness
