package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/zodbtool/internal/sqlite"
	"github.com/roach88/zodbtool/internal/zodb"
	"github.com/roach88/zodbtool/internal/zodbcommit"
	"github.com/roach88/zodbtool/internal/zodbdump"
)

// CommitCmdOptions holds flags for the commit command.
type CommitCmdOptions struct {
	*RootOptions
	Database string
	At       string
}

// CommitResult is the JSON payload for a successful commit.
type CommitResult struct {
	Tid string `json:"tid"`
}

// NewCommitCommand creates the commit command.
func NewCommitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CommitCmdOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "commit [file]",
		Short: "Commit one transaction into the storage",
		Long: `Commit one new transaction into the storage.

The transaction's content is read from file, or stdin if no file is given.
The format is a dump-format transaction without its txn header line: the
user, description and extension lines followed by obj entries and a
terminating blank line. The storage assigns the transaction id, which is
printed on success.

The commit is validated against the state the caller last observed, given
via --at (defaults to the storage's current head). If any stored object was
modified after that point the commit fails with a conflict instead of
silently overwriting.

Exit codes:
  0 - Transaction committed
  1 - Commit failed (conflict, malformed input, hash-only record, etc.)
  2 - Command error (database not found, bad --at, etc.)

Examples:
  zodbtool commit --db ./data.db txn.txt
  cat txn.txt | zodbtool commit --db ./data.db --at 0000000000000285`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommit(opts, cmd, args)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite storage (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.At, "at", "", "observed head the commit builds on (16 hex digits, default: current head)")

	return cmd
}

func runCommit(opts *CommitCmdOptions, cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	input := cmd.InOrStdin()
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

	at := zodb.Tid(0)
	if opts.At != "" {
		at, err = zodb.ParseTid(opts.At)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --at", err)
		}
	} else {
		at, err = stor.LastTid(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read storage head", err)
		}
	}

	txn, err := readTxnContent(input, name)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid transaction input", err)
	}

	tid, err := zodbcommit.Commit(ctx, stor, at, txn)
	if err != nil {
		if zodb.IsConflict(err) {
			return WrapExitError(ExitFailure, "commit conflict", err)
		}
		return WrapExitError(ExitFailure, "commit failed", err)
	}

	formatter.VerboseLog("committed %d object(s) at %s", len(txn.Objv), tid)
	if opts.Format == "json" {
		return formatter.Success(CommitResult{Tid: tid.Hex()})
	}
	fmt.Fprintln(cmd.OutOrStdout(), tid.Hex())
	return nil
}

// readTxnContent parses headerless transaction content: a synthetic txn
// header is prepended so the dump reader accepts it, with line numbers
// adjusted back so errors point into the caller's input.
func readTxnContent(in io.Reader, name string) (*zodbdump.Transaction, error) {
	header := "txn 0000000000000000 \" \"\n"
	r := zodbdump.NewReader(io.MultiReader(strings.NewReader(header), in), name)
	r.AdjustLineno(-1)

	txn, err := r.ReadTxn()
	if err != nil {
		return nil, err
	}

	tail, err := r.Tail()
	if err != nil {
		return nil, err
	}
	if len(tail) != 0 {
		return nil, fmt.Errorf("%s+%d: garbage after transaction", name, r.Lineno())
	}

	// the storage assigns the tid
	txn.Tid = 0
	return txn, nil
}
