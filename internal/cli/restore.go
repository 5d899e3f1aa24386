package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/zodbtool/internal/sqlite"
	"github.com/roach88/zodbtool/internal/zodbdump"
	"github.com/roach88/zodbtool/internal/zodbrestore"
)

// RestoreCmdOptions holds flags for the restore command.
type RestoreCmdOptions struct {
	*RootOptions
	Database string
}

// RestoreResult is the JSON payload for a completed restore.
type RestoreResult struct {
	Restored int    `json:"restored"`
	Head     string `json:"head,omitempty"`
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RestoreCmdOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "restore [file]",
		Short: "Restore transactions from a dump stream",
		Long: `Restore transactions from a dump stream into the storage.

The dump is read from file, or stdin if no file is given. Every transaction
is committed at exactly the tid recorded in the dump, so a restore into an
empty storage reproduces the dumped history bit-for-bit. Each restored tid
is printed as it commits.

Restoring on top of existing data requires the dump's tids to be above the
storage's current head.

Exit codes:
  0 - All transactions restored
  1 - Restore failed (malformed dump, conflict, tid not above head, etc.)
  2 - Command error (database not found, input not readable, etc.)

Examples:
  zodbtool restore --db ./copy.db dump.txt
  zodbtool dump --db ./data.db | zodbtool restore --db ./copy.db`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(opts, cmd, args)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite storage (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runRestore(opts *RestoreCmdOptions, cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	var input io.Reader = cmd.InOrStdin()
	name := "-"
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer f.Close()
		input = f
		name = args[0]
	}

	stor, err := sqlite.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	defer stor.Close()

	restored := 0
	head := ""
	r := zodbdump.NewReader(input, name)
	err = zodbrestore.Restore(ctx, stor, r, func(txn *zodbdump.Transaction) {
		restored++
		head = txn.Tid.Hex()
		if opts.Format != "json" {
			fmt.Fprintln(cmd.OutOrStdout(), head)
		}
	})
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("restore failed after %d transaction(s)", restored), err)
	}

	formatter.VerboseLog("restored %d transaction(s)", restored)
	if opts.Format == "json" {
		return formatter.Success(RestoreResult{Restored: restored, Head: head})
	}
	return nil
}
