package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markduk/portalmover/internal/importer"
	"github.com/markduk/portalmover/internal/store"
)

// RunReport renders a journalled run.
type RunReport struct {
	*store.Report
	Events []importer.Event `json:"events,omitempty"`
}

// Text renders the report for the terminal.
func (r RunReport) Text() string {
	var b strings.Builder
	run := r.Run
	mode := ""
	if run.DryRun {
		mode = ", dry run"
	}
	fmt.Fprintf(&b, "Run %s: %s after %d sweep(s)%s\n", run.ID, run.Status, run.Sweeps, mode)
	fmt.Fprintf(&b, "Target: %s\n", run.Target)

	for _, p := range r.Progress {
		fmt.Fprintf(&b, "  %s: %d succeeded, %d failed (%d processed)\n", p.Label, p.Succeeded, p.Failed, p.Processed)
	}
	fmt.Fprintf(&b, "References reconciled: %d\n", run.Reconciled)

	if len(r.Unresolved) > 0 {
		fmt.Fprintf(&b, "Unresolved (%d):\n", len(r.Unresolved))
		for _, u := range r.Unresolved {
			fmt.Fprintf(&b, "  %s(%s): %s\n", u.Entity, u.ID, u.Reason)
		}
	}
	writeFailures(&b, "Failed writes", r.Failures)
	writeFailures(&b, "Failed reference updates", r.ReconcileFailures)

	if len(r.Deactivations) > 0 {
		pending := 0
		for _, d := range r.Deactivations {
			if d.Pending() {
				pending++
			}
		}
		fmt.Fprintf(&b, "Deactivations: %d queued, %d pending\n", len(r.Deactivations), pending)
		for _, d := range r.Deactivations {
			state := d.DeactivatedAt
			switch {
			case d.Pending() && d.Error != "":
				state = "failed: " + d.Error
			case d.Pending():
				state = "pending"
			}
			fmt.Fprintf(&b, "  %s(%s): %s\n", d.Entity, d.ID, state)
		}
	}

	if len(r.Events) > 0 {
		fmt.Fprintf(&b, "Events:\n")
		for _, ev := range r.Events {
			fmt.Fprintf(&b, "  %4d %d %-18s %s\n", ev.Seq, ev.Sweep, ev.Kind, eventSubject(ev))
		}
	}
	return b.String()
}

func writeFailures(b *strings.Builder, title string, failures []importer.Failure) {
	if len(failures) == 0 {
		return
	}
	fmt.Fprintf(b, "%s (%d):\n", title, len(failures))
	for _, f := range failures {
		fmt.Fprintf(b, "  %s %s(%s): %s\n", f.Op, f.Entity, f.ID, f.Message)
	}
}

func eventSubject(ev importer.Event) string {
	var parts []string
	if ev.Entity != "" {
		parts = append(parts, fmt.Sprintf("%s(%s)", ev.Entity, ev.ID))
	}
	if ev.Message != "" {
		parts = append(parts, ev.Message)
	}
	if ev.Err != "" {
		parts = append(parts, "error: "+ev.Err)
	}
	return strings.Join(parts, " ")
}

// RunList renders the journalled runs.
type RunList struct {
	Runs []store.Run `json:"runs"`
}

// Text renders the list for the terminal.
func (l RunList) Text() string {
	if len(l.Runs) == 0 {
		return "No runs journalled.\n"
	}
	var b strings.Builder
	for _, run := range l.Runs {
		fmt.Fprintf(&b, "%s  %-10s  %d sweep(s)  %s  %s\n",
			run.ID, run.Status, run.Sweeps, run.StartedAt.Format("2006-01-02 15:04:05"), run.Target)
	}
	return b.String()
}

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Events bool
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Show journalled import runs",
		Long: `Without a run ID, list the journalled runs. With one, print its report:
per-entity progress, unresolved records, failed writes and the state of
its deactivation queue.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runReport(opts, runID, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Events, "events", false, "include the event journal")
	return cmd
}

func runReport(opts *ReportOptions, runID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions, cmd)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	st, err := openStore(cfg.Store.Path)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "cannot open staging database", err)
	}
	defer closeStore(st)

	ctx := cmd.Context()
	if runID == "" {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeStore, "cannot list runs", err)
		}
		if err := formatter.Success(RunList{Runs: runs}); err != nil {
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
		return nil
	}

	rep, err := st.ReadReport(ctx, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("run %s not found", runID), nil)
	}
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "cannot read run report", err)
	}
	out := RunReport{Report: rep}
	if opts.Events {
		if out.Events, err = st.ReadEvents(ctx, runID); err != nil {
			return formatter.fail(ExitCommandError, ErrCodeStore, "cannot read events", err)
		}
	}
	if err := formatter.Result(out, runID, false); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	return nil
}
