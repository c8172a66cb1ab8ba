package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/markduk/portalmover/internal/importer"
	"github.com/markduk/portalmover/internal/remote"
)

// FormatTrace renders a scenario result as a stable text trace: the run
// status, every event in seq order and every remote call in call order.
func FormatTrace(scenarioName string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", scenarioName)
	if result.Report != nil {
		run := result.Report.Run
		fmt.Fprintf(&b, "run: %s %s after %d sweep(s), %d reconciled\n", run.ID, run.Status, run.Sweeps, run.Reconciled)
	}
	b.WriteString("events:\n")
	for _, ev := range result.Events {
		fmt.Fprintf(&b, "  %s\n", formatEvent(ev))
	}
	b.WriteString("calls:\n")
	for _, c := range result.Calls {
		fmt.Fprintf(&b, "  %s\n", formatCall(c))
	}
	return []byte(b.String())
}

func formatEvent(ev importer.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d [%d] %s", ev.Seq, ev.Sweep, ev.Kind)
	if ev.Entity != "" {
		b.WriteString(" " + ev.Entity)
		if ev.ID != "" {
			b.WriteString("(" + ev.ID + ")")
		}
	}
	if ev.Label != "" {
		fmt.Fprintf(&b, " %q", ev.Label)
	}
	if ev.Message != "" {
		b.WriteString(": " + ev.Message)
	}
	if ev.Err != "" {
		b.WriteString(" ! " + ev.Err)
	}
	return b.String()
}

func formatCall(c remote.Call) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", c.Op, c.Target)
	if c.Related != nil {
		fmt.Fprintf(&b, " %s %s", c.Relation, *c.Related)
	}
	if len(c.Attrs) > 0 {
		b.WriteString(" [" + strings.Join(c.Attrs, ", ") + "]")
	}
	if c.Err != "" {
		b.WriteString(" ! " + c.Err)
	}
	return b.String()
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check assertions as well.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, FormatTrace(scenarioName, result))
}
