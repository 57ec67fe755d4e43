// Package harness provides conformance testing for pipeline templates.
//
// A scenario expands one template for one run Context and asserts on the
// finalized graph, or on the expansion error when the template is meant
// to be rejected.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: nightly-rc-schedule
//	description: "Nightly RC builds run every test and publish with --rc-build"
//	template: builtin:release
//	context:
//	  environment: nightly
//	  version: 3006.1-0-rc1
//	  trigger: schedule
//	assertions:
//	  - type: job_present
//	    job: test-full-matrix
//	  - type: param
//	    job: build-pkgs
//	    key: rc-build
//	    value: true
//	  - type: run_contains
//	    job: publish-repositories
//	    text: --rc-build
//
// # Assertion Types
//
//   - job_present / job_absent: the job was materialized or omitted
//   - needs: the job's exact dependency list
//   - param: a with parameter of the job
//   - run_contains / run_not_contains: the job's run lines
//   - uses: the job's sub-pipeline reference
//   - conclusion_equals: the exact conclusion set, in order
//   - error_code: expansion failed with the given code (E1xx or E2xx)
//
// Every successful expansion is also checked against the graph properties
// in CheckProperties, whether or not the scenario asserts them.
//
// # Golden Documents
//
// RunWithGolden compares the emitted workflow byte for byte with
// testdata/golden/<name>.golden using goldie.
package harness
