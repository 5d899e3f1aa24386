// Package harness provides scenario-based conformance testing for the dump
// format and the commit pipeline.
//
// A scenario is a YAML file describing a sequence of transactions to commit
// into a fresh in-memory storage. The harness replays the scenario, dumps
// the resulting history and verifies two properties:
//
//   - the dump bytes match a golden file under testdata/golden, and
//   - parsing the dump back and re-encoding it reproduces the exact same
//     bytes (the dump format is byte-invertible).
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	hash_func: sha1          # optional, defaults to sha1
//	transactions:
//	  - tid: "0000000000000001"
//	    status: " "          # optional, defaults to " "
//	    user: "user"
//	    description: "initial commit"
//	    extension: ""
//	    objects:
//	      - oid: "0000000000000000"
//	        data: "root"
//	      - oid: "0000000000000001"
//	        delete: true
//	      - oid: "0000000000000002"
//	        from: "0000000000000001"
//
// Every object entry carries exactly one of data, delete or from.
//
// # Deterministic Testing
//
// Transactions are committed at the exact tids the scenario names, so the
// resulting dump is identical across runs and suitable for golden file
// comparison. Golden files are regenerated with:
//
//	go test ./internal/harness -update
//
// # Usage
//
// Load and replay a scenario:
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/basic.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(context.Background(), scenario)
//
// or, in a test, run it against its golden file:
//
//	harness.RunWithGolden(t, scenario)
package harness
