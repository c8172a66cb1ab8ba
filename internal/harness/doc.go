// Package harness runs import scenarios end to end.
//
// A scenario is a YAML file naming a CUE metadata directory, a batch of
// records, the state of the target before the run and a list of
// assertions. Run loads the schema, seeds a remote.MemoryStore, journals
// the import into an in-memory store and optionally drains the
// deactivation queue. Every event and every remote call is captured, so
// a run can be compared byte for byte against a golden trace:
//
//	s, err := harness.LoadScenario("testdata/scenarios/account_contact_cycle.yaml")
//	if err != nil {
//	    return err
//	}
//	result, err := harness.Run(s)
//
// Golden traces live in testdata/golden and are refreshed with
//
//	go test ./internal/harness -update
//
// The memory target enforces reference integrity: an upsert or update
// naming a record that does not exist fails with the not-found fault,
// and associating an existing link fails with the duplicate fault. Write
// order mistakes therefore show up in scenarios exactly as they would
// against a live target.
package harness
