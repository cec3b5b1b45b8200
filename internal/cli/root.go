package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	LogFormat  string // "json" | "text"; empty means the configured log.format
	ConfigPath string

	// flags carries the backend overrides (--dsn, --blobs, ...) to config.
	flags *pflag.FlagSet
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the docseed CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "docseed",
		Short: "docseed - versioned report bundle seeder",
		Long: `Write and version report bundles: a JSON config, a primary query file
and an optional template, stored together as one versioned record.

Unchanged bundles are skipped, changed bundles get a new version and the
previous one is retired. A failed write never leaves partial artifacts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.LogFormat != "" && !isValidFormat(opts.LogFormat) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (json|text), overrides log.format")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to docseed.yaml")

	// Backend overrides, bound to config keys and applied over file and env
	cmd.PersistentFlags().String("records-driver", "", "record store driver (sqlite|postgres|memory), overrides records.driver")
	cmd.PersistentFlags().String("dsn", "", "record store DSN, overrides records.dsn")
	cmd.PersistentFlags().String("blobs", "", "blob store kind (badger|gcs|memory), overrides blobs.kind")
	cmd.PersistentFlags().String("blobs-path", "", "badger directory, overrides blobs.path")
	opts.flags = cmd.PersistentFlags()

	// Add subcommands
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewWriteCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewModifyCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewIdentityCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code.
// Errors not already reported by a command are printed to stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		// Cobra usage errors: unknown command, bad flag, wrong arg count.
		fmt.Fprintln(stderr, "Error:", err)
		return ExitCommandError
	}
	if !exitErr.reported {
		fmt.Fprintln(stderr, "Error:", exitErr)
	}
	return exitErr.Code
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// newFormatter returns the formatter for cmd's output streams.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// fail reports err through f and returns an ExitError carrying code.
func fail(f *OutputFormatter, code int, message string, err error) error {
	_ = f.Failure(err, nil)
	return reportedExitError(code, message, err)
}

// withApp opens the configured backends, runs fn and closes them again.
// Failing to open is a command error.
func withApp(cmd *cobra.Command, opts *RootOptions, f *OutputFormatter, fn func(app *App) error) error {
	app, err := OpenApp(cmd.Context(), opts, cmd.ErrOrStderr())
	if err != nil {
		return fail(f, ExitCommandError, "failed to open backends", err)
	}
	runErr := fn(app)
	if err := app.Close(); err != nil {
		app.Logger.Warn("close failed", "error", err)
	}
	return runErr
}
