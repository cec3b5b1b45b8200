package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/docseed/internal/manifest"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Parallel int
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed <manifest>",
		Short: "Seed every bundle listed in a YAML manifest",
		Long: `Write every bundle listed in a YAML manifest.

Each bundle is created, skipped (unchanged) or modified (new version).
A failing bundle is reported and the others continue; the command exits 1
if any bundle failed.

Example:
  docseed seed ./bundles/manifest.yaml
  docseed seed --parallel 4 --format json ./bundles/manifest.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Parallel, "parallel", "p", 1, "number of bundles written concurrently")

	return cmd
}

func runSeed(opts *SeedOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Parallel < 1 {
		return fail(formatter, ExitCommandError, "invalid flags", fmt.Errorf("--parallel must be >= 1, got %d", opts.Parallel))
	}

	entries, err := manifest.Load(path)
	if err != nil {
		return fail(formatter, ExitCommandError, "failed to load manifest", err)
	}
	formatter.VerboseLog("Loaded %d bundle(s) from %s", len(entries), path)

	return withApp(cmd, opts.RootOptions, formatter, func(app *App) error {
		rep := manifest.Seed(cmd.Context(), app.Coordinator, entries, manifest.SeedOptions{
			Parallel: opts.Parallel,
			Logger:   app.Logger,
		})

		if err := formatter.Success(seedReport{rep}); err != nil {
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
		if !rep.OK() {
			return reportedExitError(ExitFailure, fmt.Sprintf("%d bundle(s) failed", rep.Failed), nil)
		}
		return nil
	})
}

// seedReport renders a manifest.Report.
type seedReport struct {
	manifest.Report
}

func (r seedReport) RenderText(w io.Writer) error {
	for _, b := range r.Bundles {
		if b.Error != "" {
			fmt.Fprintf(w, "%-8s  %-20s  %s\n", b.Outcome, b.Label, b.Error)
			continue
		}
		fmt.Fprintf(w, "%-8s  %-20s  %s v%d\n", b.Outcome, b.Label, b.Identity, b.Version)
	}
	_, err := fmt.Fprintf(w, "created=%d modified=%d skipped=%d failed=%d\n",
		r.Created, r.Modified, r.Skipped, r.Failed)
	return err
}
