package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/xtxerr/cfgsync/internal/errors"
	"github.com/xtxerr/cfgsync/internal/importer"
	"github.com/xtxerr/cfgsync/internal/journal"
	"github.com/xtxerr/cfgsync/internal/loader"
)

// Replaced in tests.
var (
	stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	promptInput     = func(question string) string {
		return prompt.Input(question, yesNoCompleter,
			prompt.OptionPrefixTextColor(prompt.Yellow),
		)
	}
)

func yesNoCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "yes", Description: "import the listed changes"},
		{Text: "no", Description: "abort"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

// withImporter sets up the stores, opens the run journal when journaled
// and builds an importer for fn. Everything is closed when fn returns.
func withImporter(cmd *cobra.Command, opts *options, journaled bool, fn func(ctx context.Context, im *importer.Importer) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := loader.Setup(ctx, opts.cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	runID := strconv.FormatInt(time.Now().UnixNano(), 36)
	var j *journal.Journal
	if journaled {
		if j, err = env.OpenJournal(runID); err != nil {
			return err
		}
	}

	im, err := importer.New(ctx, env.ImporterConfig(runID, j))
	if err != nil {
		j.Close()
		return err
	}

	err = fn(ctx, im)
	if cerr := j.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// =============================================================================
// diff
// =============================================================================

func newDiffCmd(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show the changes an import would make",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withImporter(cmd, opts, false, func(ctx context.Context, im *importer.Importer) error {
				drift, err := im.SnapshotDrift(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					return renderJSON(out, im.Comparer(), im.Warnings(), drift)
				}

				if !im.HasChanges() {
					fmt.Fprintln(out, MsgNoChanges)
					return nil
				}
				renderDrift(out, drift)
				renderWarnings(out, im.Warnings())
				renderChanges(out, im.Comparer())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the change lists as JSON")
	return cmd
}

// =============================================================================
// import
// =============================================================================

func newImportCmd(opts *options) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import the staged configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withImporter(cmd, opts, true, func(ctx context.Context, im *importer.Importer) error {
				out := cmd.OutOrStdout()

				if !im.HasChanges() {
					fmt.Fprintln(out, MsgNoChanges)
					return nil
				}
				busy, err := im.AlreadyImporting(ctx)
				if err != nil {
					return err
				}
				if busy {
					fmt.Fprintln(out, MsgAlreadyImporting)
					return nil
				}

				drift, err := im.SnapshotDrift(ctx)
				if err != nil {
					return err
				}
				renderDrift(out, drift)
				renderWarnings(out, im.Warnings())
				renderChanges(out, im.Comparer())

				if !yes {
					ok, err := confirm()
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintln(out, "Import aborted.")
						return nil
					}
				}

				result, err := im.Import(ctx)
				switch {
				case err == nil:
					renderResult(out, result)
					return nil
				case errors.Is(err, errors.ErrNoChanges):
					fmt.Fprintln(out, MsgNoChanges)
					return nil
				case errors.IsConflict(err):
					fmt.Fprintln(out, MsgAlreadyImporting)
					return nil
				case errors.IsValidation(err):
					renderValidation(cmd.ErrOrStderr(), validationReasons(err))
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), MsgImportAborted)
				return err
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "import without asking for confirmation")
	return cmd
}

// confirm asks whether to import. Without a terminal it refuses, so
// unattended runs must pass --yes.
func confirm() (bool, error) {
	if !stdinIsTerminal() {
		return false, fmt.Errorf("stdin is not a terminal: pass --yes to import unattended")
	}
	answer := strings.ToLower(strings.TrimSpace(promptInput("Import all? [yes/no] ")))
	return answer == "y" || answer == "yes", nil
}

// =============================================================================
// resync
// =============================================================================

func newResyncCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Copy ignore policies of ignored objects into the active configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withImporter(cmd, opts, true, func(ctx context.Context, im *importer.Importer) error {
				written, err := im.ResyncIgnored(ctx)
				if errors.IsConflict(err) {
					fmt.Fprintln(cmd.OutOrStdout(), MsgAlreadyImporting)
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resynchronized %d of %d ignore policies.\n",
					written, im.Comparer().Stats().Ignored)
				return nil
			})
		},
	}
}
