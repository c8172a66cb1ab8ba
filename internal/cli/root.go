package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/markduk/portalmover/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	StorePath  string
}

// Version is set at build time.
var Version = "dev"

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the portalmover CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "portalmover",
		Short: "portalmover - bulk record import",
		Long: `Move portal configuration records between environments.

Records are staged into a local SQLite database, then imported into a
target Web API in dependency order. Circular references are split and
reconciled after the import, and inactive records are deactivated last.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), opts.Verbose))
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ./portalmover.yaml if present)")
	cmd.PersistentFlags().StringVar(&opts.StorePath, "store", "", "path to the staging database")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewStageCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewDeactivateCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// newLogger returns a text logger on w, at Debug when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// flagBinding maps a command flag onto a config key.
type flagBinding struct {
	flag string
	key  string
}

// loadConfig resolves configuration from file, environment and flags.
// Flags override the other sources only when set on the command line.
func loadConfig(opts *RootOptions, cmd *cobra.Command, bindings ...flagBinding) (*config.Config, error) {
	v := config.New()
	if opts.StorePath != "" {
		v.Set(config.KeyStorePath, opts.StorePath)
	}
	for _, b := range bindings {
		if f := cmd.Flags().Lookup(b.flag); f != nil && f.Changed {
			v.Set(b.key, f.Value.String())
		}
	}
	cfg, err := config.Load(v, opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
