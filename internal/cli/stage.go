package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/schema"
	"github.com/markduk/portalmover/internal/store"
)

// StageFileResult reports one staged file.
type StageFileResult struct {
	File    string `json:"file"`
	Records int    `json:"records"`
	store.StageResult
}

// StageSummary reports a stage command.
type StageSummary struct {
	Files []StageFileResult `json:"files"`
}

// Text renders the summary for the terminal.
func (s StageSummary) Text() string {
	var b strings.Builder
	for _, f := range s.Files {
		fmt.Fprintf(&b, "%s: %d records (%d new, %d changed, %d unchanged)\n",
			f.File, f.Records, f.Inserted, f.Updated, f.Unchanged)
	}
	return b.String()
}

// NewStageCommand creates the stage command.
func NewStageCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage <schema-dir> <records-file>...",
		Short: "Stage record files into the local database",
		Long: `Decode YAML or JSON record files and stage them for import.

Every record must belong to an entity defined in the metadata. Staging a
record again replaces its attributes when they changed and keeps its
position in the staging order.

Example:
  portalmover stage ./schema ./export/website.yaml ./export/pages.json`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(rootOpts, args[0], args[1:], cmd)
		},
	}
	return cmd
}

func runStage(opts *RootOptions, schemaDir string, files []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := loadConfig(opts, cmd)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	catalog, err := loadCatalog(formatter, schemaDir)
	if err != nil {
		return err
	}

	// Decode everything before touching the database so a bad file stages
	// nothing.
	decoded := make([][]record.Record, len(files))
	for i, path := range files {
		recs, err := readRecordFile(path, catalog)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeInput, fmt.Sprintf("cannot stage %s", path), err)
		}
		decoded[i] = recs
	}

	st, err := openStore(cfg.Store.Path)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "cannot open staging database", err)
	}
	defer closeStore(st)

	var summary StageSummary
	for i, path := range files {
		res, err := st.StageRecords(cmd.Context(), path, decoded[i])
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("cannot stage %s", path), err)
		}
		slog.Info("file staged", "file", path, "records", len(decoded[i]),
			"inserted", res.Inserted, "updated", res.Updated, "unchanged", res.Unchanged)
		summary.Files = append(summary.Files, StageFileResult{File: path, Records: len(decoded[i]), StageResult: res})
	}

	if err := formatter.Success(summary); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	return nil
}

// readRecordFile decodes one file and checks every entity is known.
func readRecordFile(path string, catalog *schema.Catalog) ([]record.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	recs, err := record.DecodeFile(f)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if _, ok := catalog.Entity(r.Entity); !ok {
			return nil, fmt.Errorf("record %s: entity %q is not defined in the metadata", r.Identity(), r.Entity)
		}
	}
	return recs, nil
}

func openStore(path string) (*store.Store, error) {
	slog.Debug("opening database", "path", path)
	return store.Open(path)
}

func closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
