package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/markduk/portalmover/internal/config"
	"github.com/markduk/portalmover/internal/importer"
	"github.com/markduk/portalmover/internal/query"
	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/schema"
	"github.com/markduk/portalmover/internal/store"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	DryRun bool

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs importer.RunIDGenerator

	// Now allows overriding the wall clock stamped on runs (for testing).
	Now func() time.Time
}

func (o *ImportOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <schema-dir>",
		Short: "Import staged records into the target",
		Long: `Import every staged record into the target Web API.

Records are written in sweeps that scan the staged batch from the end.
References to records not written yet are split off and applied once the
sweeps finish; owner attributes are dropped; inactive records are created
active and queued for the deactivate command. The run is journalled in
the staging database and its report printed.

With --dry-run the records are written into an in-memory store that
enforces reference integrity, which checks the write order without
touching the target.

Example:
  portalmover import ./schema --target https://org.example.com/api/data/v9.2
  portalmover import ./schema --dry-run --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().String("target", "", "target Web API base URL")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "import into an in-memory store instead of the target")
	cmd.Flags().Int("max-sweeps", importer.DefaultMaxSweeps, "maximum number of sweeps")
	cmd.Flags().String("website", "", "only import records of this website ID")
	cmd.Flags().String("since", "", "only import records modified on or after this date (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().String("language", "", "language of progress labels")
	cmd.Flags().String("metrics-file", "", "write Prometheus metrics to this file after the run")

	return cmd
}

var importBindings = []flagBinding{
	{flag: "target", key: config.KeyTargetURL},
	{flag: "max-sweeps", key: config.KeyImportMaxSweeps},
	{flag: "website", key: config.KeyFiltersWebsiteID},
	{flag: "since", key: config.KeyFiltersModifiedSince},
	{flag: "language", key: config.KeyImportLanguage},
	{flag: "metrics-file", key: config.KeyTelemetryMetricsFile},
}

func runImport(opts *ImportOptions, schemaDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions, cmd, importBindings...)
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

	records, err := loadStagedRecords(ctx, st, catalog, cfg.QueryFilters())
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "cannot read staged records", err)
	}
	// Reject bad input before a run is journalled.
	if _, err := importer.NewBatch(records); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeInput, "staged records cannot be imported", err)
	}

	rs, err := newRemote(ctx, cfg, catalog, opts.DryRun, nil, cmd.ErrOrStderr())
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeConfig, "cannot set up target", err)
	}
	defer rs.shutdown(context.WithoutCancel(ctx))

	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = importer.UUIDv7Generator{}
	}
	runID := runIDs.Generate()

	// The journal outlives cancellation: events emitted while the run winds
	// down are still recorded.
	journalCtx := context.WithoutCancel(ctx)
	if err := st.BeginRun(journalCtx, store.Run{
		ID:        runID,
		Target:    rs.target,
		DryRun:    opts.DryRun,
		StartedAt: opts.now(),
	}); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "cannot journal run", err)
	}

	journalFailed := false
	handler := func(ev importer.Event) {
		rs.metrics.ObserveEvent(ev)
		if journalFailed {
			return
		}
		if err := st.AppendEvent(journalCtx, runID, ev); err != nil {
			journalFailed = true
			slog.Error("journal write failed, further events are not journalled", "run", runID, "seq", ev.Seq, "error", err)
		}
	}

	eng := importer.New(rs.client, catalog,
		importer.WithMaxSweeps(cfg.Import.MaxSweeps),
		importer.WithExemptEntity(cfg.Import.ExemptEntity),
		importer.WithLanguage(cfg.Language()),
		importer.WithLogger(slog.Default()),
		importer.WithEventHandler(handler),
		importer.WithRunIDGenerator(importer.NewFixedGenerator(runID)),
	)

	ctx, span := rs.provider.Tracer("").Start(ctx, "import.run")
	span.SetAttributes(
		attribute.String("portalmover.run.id", runID),
		attribute.String("portalmover.target", rs.target),
		attribute.Int("portalmover.records", len(records)),
	)
	res, runErr := eng.Import(ctx, records)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	span.SetAttributes(
		attribute.Int("portalmover.sweeps", res.Sweeps),
		attribute.Int("portalmover.unresolved", len(res.Unresolved)),
	)
	span.End()

	cancelled := runErr != nil
	if err := st.FinishRun(journalCtx, res, cancelled, opts.now()); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "cannot journal run result", err)
	}
	rs.metrics.ObserveResult(res)
	rs.writeMetrics(cfg.Telemetry.MetricsFile)

	rep, err := st.ReadReport(journalCtx, runID)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "cannot read run report", err)
	}

	problem := importProblem(res, runErr)
	if err := formatter.Result(RunReport{Report: rep}, runID, problem != nil); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	return problem
}

// importProblem maps a finished run to its exit error. Cancellation,
// unresolved records and failed writes all exit with ExitFailure.
func importProblem(res *importer.Result, runErr error) error {
	switch {
	case runErr != nil:
		return WrapExitError(ExitFailure, "import cancelled", runErr)
	case !res.Complete():
		return WrapExitError(ExitFailure, "import incomplete", res.Err())
	case len(res.Failures) > 0 || len(res.ReconcileFailures) > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("import finished with %d failed write(s) and %d failed reference update(s)",
			len(res.Failures), len(res.ReconcileFailures)))
	default:
		return nil
	}
}

// loadStagedRecords reads the staged batch entity by entity, in the order
// entities were first staged. Entities missing from the metadata are
// skipped with a warning.
func loadStagedRecords(ctx context.Context, st *store.Store, catalog *schema.Catalog, filters query.Filters) ([]record.Record, error) {
	entities, err := st.StagedEntities(ctx)
	if err != nil {
		return nil, err
	}

	var out []record.Record
	for _, se := range entities {
		if _, ok := catalog.Entity(se.Entity); !ok {
			slog.Warn("staged entity is not in the metadata, skipped", "entity", se.Entity, "records", se.Count)
			continue
		}
		q, err := query.Build(catalog, se.Entity, filters)
		if err != nil {
			return nil, err
		}
		recs, err := st.LoadStaged(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("load staged %s: %w", se.Entity, err)
		}
		slog.Debug("staged records loaded", "entity", se.Entity, "staged", se.Count, "selected", len(recs))
		out = append(out, recs...)
	}
	return out, nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
