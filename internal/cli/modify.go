package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/manifest"
)

// ModifyOptions holds flags for the modify command.
type ModifyOptions struct {
	*RootOptions
	Identity string
	Config   string
	Primary  string
	Template string
}

// NewModifyCommand creates the modify command.
func NewModifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ModifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "modify",
		Short: "Replace some files of an existing bundle",
		Long: `Write a new version of the active record of --identity from the files
given. Files not given are carried over from the active version without
being uploaded again. A new config must keep the bundle's name and output
file name.

Example:
  docseed modify --identity gdpr_privacy_report_privacy_out_eu \
    --primary privacy/report.sql`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Identity, "identity", "", "bundle identity (required)")
	cmd.Flags().StringVar(&opts.Config, "json-config", "", "path to a new JSON config")
	cmd.Flags().StringVar(&opts.Primary, "primary", "", "path to a new primary query file")
	cmd.Flags().StringVar(&opts.Template, "template", "", "path to a new template file")
	_ = cmd.MarkFlagRequired("identity")
	cmd.MarkFlagsOneRequired("json-config", "primary", "template")

	return cmd
}

func runModify(opts *ModifyOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	arts := make(map[bundle.ArtifactKind]bundle.Artifact, 3)
	for kind, path := range map[bundle.ArtifactKind]string{
		bundle.KindConfig:   opts.Config,
		bundle.KindPrimary:  opts.Primary,
		bundle.KindTemplate: opts.Template,
	} {
		if path == "" {
			continue
		}
		art, err := manifest.ReadArtifact(path)
		if err != nil {
			return fail(formatter, ExitCommandError, "failed to read bundle files", err)
		}
		arts[kind] = art
	}

	return withApp(cmd, opts.RootOptions, formatter, func(app *App) error {
		res, err := app.Coordinator.ModifyBundle(cmd.Context(), bundle.Identity(opts.Identity), arts)
		if err != nil {
			return fail(formatter, ExitFailure, "modify failed", err)
		}
		if err := formatter.Success(writeResult{res}); err != nil {
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
		return nil
	})
}
