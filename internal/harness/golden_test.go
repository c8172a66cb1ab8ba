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

func TestFormatTrace(t *testing.T) {
	contact := record.Identity{Entity: "contact", ID: contactID}
	tag := record.Identity{Entity: "tag", ID: tagID}
	result := &Result{
		Report: &store.Report{Run: store.Run{ID: "run-1", Status: store.StatusIncomplete, Sweeps: 5, Reconciled: 1}},
		Events: []importer.Event{
			{Seq: 1, Sweep: 1, Kind: importer.EventSweep, Message: "2 records pending"},
			{Seq: 2, Sweep: 1, Kind: importer.EventFail, Entity: "tag", ID: tagID, Label: "Tag", Message: "upsert", Err: "boom"},
			{Seq: 3, Kind: importer.EventTally, Entity: "tag", Label: "Tag", Message: "0 succeeded, 1 failed (1 processed)"},
		},
		Calls: []remote.Call{
			{Op: remote.OpUpsert, Target: tag, Attrs: []string{"name"}, Err: "boom"},
			{Op: remote.OpAssociate, Target: contact, Related: &tag, Relation: "contact_tag_association"},
			{Op: remote.OpUpdate, Target: contact, Attrs: []string{"lastname", "parentcustomerid"}},
		},
	}

	want := `scenario: demo
run: run-1 incomplete after 5 sweep(s), 1 reconciled
events:
  1 [1] sweep: 2 records pending
  2 [1] fail tag(` + tagID + `) "Tag": upsert ! boom
  3 [0] tally tag "Tag": 0 succeeded, 1 failed (1 processed)
calls:
  upsert tag(` + tagID + `) [name] ! boom
  associate contact(` + contactID + `) contact_tag_association tag(` + tagID + `)
  update contact(` + contactID + `) [lastname, parentcustomerid]
`
	assert.Equal(t, want, string(FormatTrace("demo", result)))
}

func TestFormatTrace_WithoutReport(t *testing.T) {
	out := string(FormatTrace("empty", NewResult()))
	assert.Equal(t, "scenario: empty\nevents:\ncalls:\n", out)
}

// TestFormatTrace_Deterministic runs a scenario twice and expects
// byte-identical traces.
func TestFormatTrace_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/account_contact_cycle.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	assert.Equal(t, FormatTrace(s.Name, first), FormatTrace(s.Name, second))
}

func TestAssertGolden_ExistingResult(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/self_reference.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	AssertGolden(t, s.Name, result)
}
