package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/docseed/internal/bundle"
)

// historian is implemented by record stores that keep every version.
type historian interface {
	History(ctx context.Context, id bundle.Identity) ([]bundle.Record, error)
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <identity>",
		Short: "Show the active version of a bundle",
		Long: `Show the active record for a bundle identity.

Example:
  docseed show gdpr_privacy_report_privacy_out_eu
  docseed show --format json gdpr_privacy_report_privacy_out_eu`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, bundle.Identity(args[0]), cmd)
		},
	}
}

func runShow(opts *RootOptions, id bundle.Identity, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	return withApp(cmd, opts, formatter, func(app *App) error {
		rec, found, err := app.Records.FindActive(cmd.Context(), id)
		if err != nil {
			return fail(formatter, ExitFailure, "lookup failed", err)
		}
		if !found {
			return fail(formatter, ExitFailure, "lookup failed", bundle.NewNotFound("show", "active record").WithIdentity(id))
		}
		if err := formatter.Success(recordView{rec}); err != nil {
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
		return nil
	})
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <identity>",
		Short: "List every version of a bundle",
		Long: `List every stored version of a bundle identity, oldest first, with
its audit trail.

Example:
  docseed history gdpr_privacy_report_privacy_out_eu`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, bundle.Identity(args[0]), cmd)
		},
	}
}

func runHistory(opts *RootOptions, id bundle.Identity, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	return withApp(cmd, opts, formatter, func(app *App) error {
		h, ok := app.Records.(historian)
		if !ok {
			return fail(formatter, ExitCommandError, "history unavailable",
				errors.New("the configured record store does not keep history"))
		}
		recs, err := h.History(cmd.Context(), id)
		if err != nil {
			return fail(formatter, ExitFailure, "history failed", err)
		}
		if len(recs) == 0 {
			return fail(formatter, ExitFailure, "history failed", bundle.NewNotFound("history", "bundle").WithIdentity(id))
		}
		if err := formatter.Success(historyView{Identity: id, Versions: recs}); err != nil {
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
		return nil
	})
}

// recordView renders one record.
type recordView struct {
	bundle.Record
}

func (v recordView) RenderText(w io.Writer) error {
	return renderRecord(w, v.Record)
}

// historyView renders every version of one identity.
type historyView struct {
	Identity bundle.Identity `json:"identity"`
	Versions []bundle.Record `json:"versions"`
}

func (v historyView) RenderText(w io.Writer) error {
	for i, rec := range v.Versions {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if err := renderRecord(w, rec); err != nil {
			return err
		}
	}
	return nil
}

func renderRecord(w io.Writer, rec bundle.Record) error {
	state := "inactive"
	if rec.Active {
		state = "active"
	}
	fmt.Fprintf(w, "%s version %d (%s)\n", rec.Identity, rec.Version, state)
	fmt.Fprintf(w, "  owner=%s scheme=%s region=%s\n", rec.OwnerID, rec.Scheme, rec.Region)
	fmt.Fprintf(w, "  name=%q outFileName=%q\n", rec.Name, rec.OutFileName)
	fmt.Fprintf(w, "  uploaded %s\n", rec.CreatedAt.Format(time.RFC3339))
	if err := renderArtifacts(w, rec.References, rec.Checksums); err != nil {
		return err
	}
	for _, e := range rec.Audit.Entries() {
		fmt.Fprintf(w, "  %s %-11s %s\n", e.At.Format(time.RFC3339), e.Action, e.Detail)
	}
	return nil
}

func renderArtifacts(w io.Writer, refs bundle.References, sums bundle.Checksums) error {
	for _, kind := range refs.Kinds() {
		ref, _ := refs.Get(kind)
		sum, _ := sums.Get(kind)
		if _, err := fmt.Fprintf(w, "  %-8s %s %s\n", kind, ref, sum); err != nil {
			return err
		}
	}
	return nil
}
