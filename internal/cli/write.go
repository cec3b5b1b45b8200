package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/coordinator"
	"github.com/roach88/docseed/internal/manifest"
)

// WriteOptions holds flags for the write command.
type WriteOptions struct {
	*RootOptions
	OwnerID  string
	Scheme   string
	Region   string
	Config   string
	Primary  string
	Template string
}

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	return newWriteCommand(rootOpts, false)
}

// NewCreateCommand creates the create command: write restricted to
// identities with no active record.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	return newWriteCommand(rootOpts, true)
}

func newWriteCommand(rootOpts *RootOptions, strict bool) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a single bundle",
		Long: `Write one bundle from files on disk.

The bundle name and output file name are read from the config's "name" and
"outFileName" fields; together with --scheme and --region they form the
bundle identity.

Example:
  docseed write --owner acme --scheme gdpr --region EU \
    --json-config privacy/config.json --primary privacy/report.sql`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(opts, strict, cmd)
		},
	}
	if strict {
		cmd.Use = "create"
		cmd.Short = "Create a new bundle"
		cmd.Long = `Create one bundle from files on disk.

Unlike write, create refuses an identity that already has an active record
and exits with DUPLICATE_ACTIVE_RECORD. Use modify to change it.

Example:
  docseed create --owner acme --scheme gdpr --region EU \
    --json-config privacy/config.json --primary privacy/report.sql`
	}

	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner id (required)")
	cmd.Flags().StringVar(&opts.Scheme, "scheme", "", "regulatory scheme (required)")
	cmd.Flags().StringVar(&opts.Region, "region", "", "region (required)")
	cmd.Flags().StringVar(&opts.Config, "json-config", "", "path to the JSON config (required)")
	cmd.Flags().StringVar(&opts.Primary, "primary", "", "path to the primary query file (required)")
	cmd.Flags().StringVar(&opts.Template, "template", "", "path to the template file")
	for _, name := range []string{"owner", "scheme", "region", "json-config", "primary"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runWrite(opts *WriteOptions, strict bool, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	b := manifest.Bundle{
		OwnerID:  opts.OwnerID,
		Scheme:   opts.Scheme,
		Region:   opts.Region,
		Config:   opts.Config,
		Primary:  opts.Primary,
		Template: opts.Template,
	}
	in, err := b.Resolve(".")
	if err != nil {
		return fail(formatter, ExitCommandError, "failed to read bundle files", err)
	}

	return withApp(cmd, opts.RootOptions, formatter, func(app *App) error {
		write := app.Coordinator.WriteBundle
		if strict {
			write = app.Coordinator.CreateBundle
		}
		res, err := write(cmd.Context(), in)
		if err != nil {
			return fail(formatter, ExitFailure, "write failed", err)
		}
		if err := formatter.Success(writeResult{res}); err != nil {
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
		return nil
	})
}

// writeResult renders a coordinator.Result.
type writeResult struct {
	coordinator.Result
}

func (r writeResult) RenderText(w io.Writer) error {
	s := r.Summary
	fmt.Fprintf(w, "%s %s version %d\n", r.Outcome, s.Identity, s.Version)
	if r.Outcome == bundle.OutcomeModified {
		kinds := make([]string, len(s.Changed))
		for i, k := range s.Changed {
			kinds[i] = string(k)
		}
		fmt.Fprintf(w, "  previous version %d, changed: %s\n", s.PreviousVersion, strings.Join(kinds, ", "))
	}
	return renderArtifacts(w, s.References, s.Checksums)
}
