package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markduk/portalmover/internal/importer"
)

func readReport(t *testing.T, w workspace, runID string) RunReport {
	t.Helper()
	out, err := w.run(t, "--format", "json", "report", runID, "--events")
	require.NoError(t, err)
	var rep RunReport
	response(t, out, &rep)
	return rep
}

func TestDeactivate_Target(t *testing.T) {
	w := newWorkspace(t)
	ft, srv := newFakeTarget(t)
	resp, _, err := importDryRun(t, w)
	require.NoError(t, err)
	before := readReport(t, w, resp.RunID)

	out, err := w.run(t, "--format", "json", "deactivate", w.schema, resp.RunID, "--target", srv.URL)
	require.NoError(t, err)

	var summary DrainSummary
	response(t, out, &summary)
	require.Len(t, summary.Deactivated, 1)
	assert.Equal(t, accountID, summary.Deactivated[0].ID)
	assert.Equal(t, []string{"update /accounts(" + accountID + ")"}, ft.log())

	after := readReport(t, w, resp.RunID)
	require.Len(t, after.Deactivations, 1)
	assert.False(t, after.Deactivations[0].Pending())

	require.Len(t, after.Events, len(before.Events)+1)
	last := after.Events[len(after.Events)-1]
	assert.Equal(t, importer.EventDeactivate, last.Kind)
	assert.Equal(t, int64(len(before.Events)+1), last.Seq)
	assert.Equal(t, "Account", last.Label)

	// A second drain has nothing left to do.
	out, err = w.run(t, "--format", "json", "deactivate", w.schema, resp.RunID, "--target", srv.URL)
	require.NoError(t, err)
	summary = DrainSummary{}
	response(t, out, &summary)
	assert.Empty(t, summary.Deactivated)
	assert.Len(t, ft.log(), 1)
}

func TestDeactivate_FailureStaysPending(t *testing.T) {
	w := newWorkspace(t)
	ft, srv := newFakeTarget(t)
	ft.fail = true
	resp, _, err := importDryRun(t, w)
	require.NoError(t, err)

	out, err := w.run(t, "--format", "json", "deactivate", w.schema, resp.RunID, "--target", srv.URL)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var summary DrainSummary
	r := response(t, out, &summary)
	assert.Equal(t, "error", r.Status)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "deactivate", summary.Failures[0].Op)

	rep := readReport(t, w, resp.RunID)
	require.Len(t, rep.Deactivations, 1)
	assert.True(t, rep.Deactivations[0].Pending())
	assert.Contains(t, rep.Deactivations[0].Error, "record does not exist")
	last := rep.Events[len(rep.Events)-1]
	assert.Equal(t, importer.EventDeactivateFail, last.Kind)
}

func TestDeactivate_DryRunLeavesJournal(t *testing.T) {
	w := newWorkspace(t)
	resp, _, err := importDryRun(t, w)
	require.NoError(t, err)
	before := readReport(t, w, resp.RunID)

	out, err := w.run(t, "deactivate", w.schema, resp.RunID, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "1 deactivated, 0 failed (dry run)")

	after := readReport(t, w, resp.RunID)
	assert.True(t, after.Deactivations[0].Pending())
	assert.Len(t, after.Events, len(before.Events))
}

func TestDeactivate_UnknownRun(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.run(t, "--format", "json", "deactivate", w.schema, "missing", "--dry-run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	resp := response(t, out, nil)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}
