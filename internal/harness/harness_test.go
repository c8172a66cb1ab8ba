package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markduk/portalmover/internal/importer"
	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/remote"
	"github.com/markduk/portalmover/internal/store"
)

const (
	accountID = "00000000-0000-4000-8000-000000000001"
	contactID = "00000000-0000-4000-8000-000000000002"
	tagID     = "00000000-0000-4000-8000-000000000003"
)

// TestScenarios runs every scenario under testdata/scenarios. Scenarios
// marked golden are also compared against testdata/golden.
func TestScenarios(t *testing.T) {
	scenarios, err := LoadScenarioDir("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			var (
				result *Result
				err    error
			)
			if s.Golden {
				result, err = RunWithGolden(t, s)
			} else {
				result, err = Run(s)
			}
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertions failed:\n%v", result.Errors)
		})
	}
}

func accountRecord(attrs map[string]any) map[string]any {
	return map[string]any{"entity": "account", "id": accountID, "attributes": attrs}
}

func TestRun_JournalMatchesEngineResult(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/account_contact_cycle.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	assert.Equal(t, result.Import.Progress, result.Report.Progress)
	assert.Equal(t, result.Import.Sweeps, result.Report.Run.Sweeps)
	assert.Equal(t, result.Import.Reconciled, result.Report.Run.Reconciled)
	assert.True(t, result.Report.Run.DryRun)
	assert.True(t, Epoch.Equal(result.Report.Run.StartedAt))

	require.Len(t, result.Report.Deactivations, 1)
	assert.False(t, result.Report.Deactivations[0].Pending())
	require.NotNil(t, result.Drain)
	assert.Equal(t, []record.Identity{{Entity: "account", ID: accountID}}, result.Drain.Deactivated)

	for i, ev := range result.Events {
		assert.Equal(t, int64(i+1), ev.Seq, "events are numbered without gaps")
	}
}

func TestRun_DeactivationFailureStaysPending(t *testing.T) {
	s := &Scenario{
		Name:        "deactivation_failure",
		Description: "the drain update is rejected",
		Schema:      "testdata/schema",
		Deactivate:  true,
		Records: []map[string]any{
			accountRecord(map[string]any{"name": "Contoso", "statecode": map[string]any{"option": 1}}),
		},
		Remote: RemoteSetup{Faults: []Fault{{
			Op: "update", Entity: "account", ID: accountID, Code: "0x80040216", Status: 400, Message: "record is locked",
		}}},
		Assertions: []Assertion{
			{Type: AssertEventContains, Kind: string(importer.EventQueueDeactivation), Entity: "account"},
			{Type: AssertEventCount, Kind: string(importer.EventDeactivateFail), Count: 1},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	require.Len(t, result.Report.Deactivations, 1)
	d := result.Report.Deactivations[0]
	assert.True(t, d.Pending())
	assert.Contains(t, d.Error, "record is locked")

	last := result.Events[len(result.Events)-1]
	assert.Equal(t, importer.EventDeactivateFail, last.Kind)
	assert.Equal(t, "Account", last.Label)
}

func TestRun_ActiveRecordIsNotQueued(t *testing.T) {
	s := &Scenario{
		Name:        "active_record",
		Description: "state zero stays on the record",
		Schema:      "testdata/schema",
		Deactivate:  true,
		Records: []map[string]any{
			accountRecord(map[string]any{"name": "Contoso", "statecode": map[string]any{"option": 0}}),
		},
		Assertions: []Assertion{
			{Type: AssertEventCount, Kind: string(importer.EventQueueDeactivation), Count: 0},
			{Type: AssertFinalRecord, Entity: "account", ID: accountID, Expect: map[string]any{"statecode": map[string]any{"option": 0}}},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Empty(t, result.Report.Deactivations)
	assert.Empty(t, result.Drain.Deactivated)
}

func TestRun_RejectsDuplicateIdentity(t *testing.T) {
	s := &Scenario{
		Name:        "duplicate",
		Description: "one identity twice",
		Schema:      "testdata/schema",
		Records: []map[string]any{
			accountRecord(map[string]any{"name": "A"}),
			accountRecord(map[string]any{"name": "B"}),
		},
	}

	_, err := Run(s)
	require.Error(t, err)
	assert.True(t, importer.IsDuplicateIdentity(err))
}

func TestRun_BadInputs(t *testing.T) {
	base := func() *Scenario {
		return &Scenario{
			Name:        "bad",
			Description: "bad input",
			Schema:      "testdata/schema",
			Records:     []map[string]any{accountRecord(nil)},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Scenario)
		errMsg string
	}{
		{
			name:   "missing schema directory",
			mutate: func(s *Scenario) { s.Schema = "testdata/nope" },
			errMsg: "failed to load schema",
		},
		{
			name: "undecodable record",
			mutate: func(s *Scenario) {
				s.Records = []map[string]any{{"entity": "account", "id": "not-a-guid"}}
			},
			errMsg: "records",
		},
		{
			name: "undecodable preload",
			mutate: func(s *Scenario) {
				s.Remote.Preload = []map[string]any{{"entity": "account", "id": accountID, "colour": "red"}}
			},
			errMsg: "remote: preload[0]",
		},
		{
			name:   "unknown language",
			mutate: func(s *Scenario) { s.Language = "not a tag!" },
			errMsg: "language",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(s)
			_, err := Run(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRun_FailedAssertionsAreCollected(t *testing.T) {
	s := &Scenario{
		Name:        "wrong_expectations",
		Description: "assertions that do not hold",
		Schema:      "testdata/schema",
		Records:     []map[string]any{accountRecord(map[string]any{"name": "Contoso"})},
		Assertions: []Assertion{
			{Type: AssertRunStatus, Status: store.StatusIncomplete},
			{Type: AssertProgress, Entity: "account", Succeeded: 2},
			{Type: AssertRunStatus, Status: store.StatusComplete},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "run_status")
	assert.Contains(t, result.Errors[1], "progress")
}

func TestBuildRemote_NormalisesIdentities(t *testing.T) {
	upper := "00000000-0000-4000-8000-00000000000A"
	mem, err := buildRemote(RemoteSetup{
		Preload: []map[string]any{{"entity": "contact", "id": upper}},
		Links: []Link{{
			Relationship: "contact_tag_association",
			From:         record.Identity{Entity: "contact", ID: upper},
			To:           record.Identity{Entity: "tag", ID: tagID},
		}},
	})
	require.NoError(t, err)

	_, ok := mem.Get(record.Identity{Entity: "contact", ID: "00000000-0000-4000-8000-00000000000a"})
	assert.True(t, ok)
	assert.True(t, mem.Linked(remote.Association{
		Relationship: "contact_tag_association",
		From:         record.Identity{Entity: "contact", ID: "00000000-0000-4000-8000-00000000000a"},
		To:           record.Identity{Entity: "tag", ID: tagID},
	}))
}
