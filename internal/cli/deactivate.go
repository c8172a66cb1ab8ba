package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/markduk/portalmover/internal/config"
	"github.com/markduk/portalmover/internal/importer"
	"github.com/markduk/portalmover/internal/progress"
	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/store"
)

// DrainSummary reports a deactivate command.
type DrainSummary struct {
	RunID       string             `json:"run_id"`
	DryRun      bool               `json:"dry_run"`
	Deactivated []record.Identity  `json:"deactivated"`
	Failures    []importer.Failure `json:"failures,omitempty"`
}

// Text renders the summary for the terminal.
func (s DrainSummary) Text() string {
	var b strings.Builder
	mode := ""
	if s.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(&b, "Run %s: %d deactivated, %d failed%s\n", s.RunID, len(s.Deactivated), len(s.Failures), mode)
	for _, id := range s.Deactivated {
		fmt.Fprintf(&b, "  %s\n", id)
	}
	writeFailures(&b, "Failed deactivations", s.Failures)
	return b.String()
}

// DeactivateOptions holds flags for the deactivate command.
type DeactivateOptions struct {
	*RootOptions
	DryRun bool

	// Now allows overriding the wall clock stamped on deactivations (for
	// testing).
	Now func() time.Time
}

func (o *DeactivateOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// NewDeactivateCommand creates the deactivate command.
func NewDeactivateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeactivateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deactivate <schema-dir> <run-id>",
		Short: "Deactivate the records an import queued",
		Long: `Drain a run's deactivation queue.

Inactive records are imported active so other records can reference them.
This command sets each queued record's state and status to inactive, one
update per record. Failures are reported and stay pending, so running
the command again retries them.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeactivate(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().String("target", "", "target Web API base URL")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would be deactivated without touching the target or the journal")
	cmd.Flags().String("metrics-file", "", "write Prometheus metrics to this file after the drain")
	return cmd
}

var deactivateBindings = []flagBinding{
	{flag: "target", key: config.KeyTargetURL},
	{flag: "metrics-file", key: config.KeyTelemetryMetricsFile},
}

func runDeactivate(opts *DeactivateOptions, schemaDir, runID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions, cmd, deactivateBindings...)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	catalog, err := loadCatalog(formatter, schemaDir)
	if err != nil {
		return err
	}
	st, err := openStore(cfg.Store.Path)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "cannot open staging database", err)
	}
	defer closeStore(st)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if _, err := st.ReadRun(ctx, runID); err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("run %s not found", runID), nil)
		}
		return formatter.fail(ExitCommandError, ErrCodeStore, "cannot read run", err)
	}
	ids, err := st.PendingDeactivations(ctx, runID)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "cannot read deactivation queue", err)
	}

	// A dry run drains into a memory store holding just the queued
	// records.
	var preload []record.Record
	if opts.DryRun {
		for _, id := range ids {
			preload = append(preload, record.Record{Entity: id.Entity, ID: id.ID, Attributes: map[string]record.Value{}})
		}
	}
	rs, err := newRemote(ctx, cfg, catalog, opts.DryRun, preload, cmd.ErrOrStderr())
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeConfig, "cannot set up target", err)
	}
	defer rs.shutdown(context.WithoutCancel(ctx))

	slog.Info("draining deactivations", "run", runID, "pending", len(ids), "target", rs.target)
	res, drainErr := importer.Drain(ctx, rs.client, ids, slog.Default())
	rs.metrics.ObserveDrain(res)
	rs.writeMetrics(cfg.Telemetry.MetricsFile)

	if !opts.DryRun {
		lang := cfg.Language()
		label := func(entity string) string { return progress.ResolveLabel(entity, catalog, lang) }
		if _, err := st.RecordDrain(context.WithoutCancel(ctx), runID, ids, res, label, opts.now()); err != nil {
			return formatter.fail(ExitCommandError, ErrCodeStore, "cannot journal deactivations", err)
		}
	}

	summary := DrainSummary{RunID: runID, DryRun: opts.DryRun, Deactivated: res.Deactivated, Failures: res.Failures}
	if summary.Deactivated == nil {
		summary.Deactivated = []record.Identity{}
	}
	failed := drainErr != nil || len(res.Failures) > 0
	if err := formatter.Result(summary, runID, failed); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}

	switch {
	case drainErr != nil:
		return WrapExitError(ExitFailure, "deactivation cancelled", drainErr)
	case len(res.Failures) > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("%d deactivation(s) failed", len(res.Failures)))
	}
	return nil
}
