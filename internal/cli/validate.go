package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markduk/portalmover/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid         bool                     `json:"valid"`
	Files         int                      `json:"files"`
	Entities      int                      `json:"entities"`
	Relationships int                      `json:"relationships"`
	Errors        []schema.ValidationError `json:"errors,omitempty"`
	Cycles        []schema.CycleWarning    `json:"cycles,omitempty"`
}

// Text renders the result for the terminal.
func (r ValidationResult) Text() string {
	var b strings.Builder
	if r.Valid {
		fmt.Fprintf(&b, "✓ %d entities, %d relationships (%d files)\n", r.Entities, r.Relationships, r.Files)
	} else {
		fmt.Fprintf(&b, "✗ %d validation error(s)\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "  [%s] %s: %s\n", e.Code, e.Field, e.Message)
		}
	}
	if len(r.Cycles) > 0 {
		fmt.Fprintf(&b, "%d lookup cycle(s), split during import:\n", len(r.Cycles))
		for _, c := range r.Cycles {
			fmt.Fprintf(&b, "  %s\n", strings.Join(c.Path, " -> "))
		}
	}
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate entity metadata",
		Long: `Compile the CUE entity metadata in a directory and check it.

Reports unknown lookup targets, broken relationships and duplicate entity
sets. Lookup cycles are listed for information: the import splits them
and reconciles the references afterwards.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, schemaDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loaded, err := schema.LoadDir(schemaDir)
	if err != nil {
		return catalogError(formatter, err)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, schemaDir)

	c := loaded.Catalog
	res := ValidationResult{
		Files:         loaded.FileCount,
		Entities:      len(c.Entities()),
		Relationships: len(c.Relationships()),
		Errors:        schema.Validate(c),
		Cycles:        schema.AnalyzeLookupCycles(c),
	}
	res.Valid = len(res.Errors) == 0

	if err := formatter.Result(res, "", !res.Valid); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	if !res.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(res.Errors)))
	}
	return nil
}

// loadCatalog loads and validates metadata for commands that need a usable
// catalog.
func loadCatalog(formatter *OutputFormatter, schemaDir string) (*schema.Catalog, error) {
	loaded, err := schema.LoadDir(schemaDir)
	if err != nil {
		return nil, catalogError(formatter, err)
	}
	if errs := schema.Validate(loaded.Catalog); len(errs) > 0 {
		return nil, formatter.fail(ExitCommandError, ErrCodeValidation,
			fmt.Sprintf("metadata in %s has %d validation error(s)", schemaDir, len(errs)), errs[0])
	}
	return loaded.Catalog, nil
}

func catalogError(formatter *OutputFormatter, err error) error {
	var loadErr *schema.LoadError
	if errors.As(err, &loadErr) {
		return formatter.fail(ExitCommandError, loadErr.Code, loadErr.Error(), nil)
	}
	return formatter.fail(ExitCommandError, schema.ErrCodeGeneric, err.Error(), nil)
}
