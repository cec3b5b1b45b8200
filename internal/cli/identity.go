package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/identity"
)

// IdentityOptions holds flags for the identity command.
type IdentityOptions struct {
	*RootOptions
	Scheme      string
	Name        string
	OutFileName string
	Region      string
}

// NewIdentityCommand creates the identity command.
func NewIdentityCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IdentityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Print the identity key for a bundle",
		Long: `Print the identity key derived from scheme, name, output file name and
region. No backend is opened.

Example:
  docseed identity --scheme GDPR --name "Privacy Report" --out privacy_out --region EU
  # gdpr_privacy_report_privacy_out_eu`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIdentity(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scheme, "scheme", "", "regulatory scheme (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "bundle name (required)")
	cmd.Flags().StringVar(&opts.OutFileName, "out", "", "output file name (required)")
	cmd.Flags().StringVar(&opts.Region, "region", "", "region (required)")
	for _, name := range []string{"scheme", "name", "out", "region"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runIdentity(opts *IdentityOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	id, err := identity.Build(opts.Scheme, opts.Name, opts.OutFileName, opts.Region)
	if err != nil {
		return fail(formatter, ExitFailure, "invalid identity components", err)
	}
	if err := formatter.Success(identityView{Identity: id}); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	return nil
}

type identityView struct {
	Identity bundle.Identity `json:"identity"`
}

func (v identityView) RenderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, v.Identity)
	return err
}
