package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/zodbtool/internal/hashreg"
	"github.com/roach88/zodbtool/internal/sqlite"
	"github.com/roach88/zodbtool/internal/zodb"
	"github.com/roach88/zodbtool/internal/zodbdump"
)

// DumpCmdOptions holds flags for the dump command.
type DumpCmdOptions struct {
	*RootOptions
	Database string
	HashOnly bool
	Hash     string
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpCmdOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump [tidmin..tidmax]",
		Short: "Dump transactions in canonical text form",
		Long: `Dump the storage's transactions in a canonical text format.

Without a tid range the whole history is dumped. A range is written as
tidmin..tidmax with either side optional, e.g. 0000000000000285..

The output is the raw dump stream, bit-for-bit reproducible for a given
history, so two storages can be compared by comparing their dumps.

Exit codes:
  0 - Dump completed
  1 - Dump failed mid-stream (iteration error)
  2 - Command error (database not found, bad tid range, etc.)

Examples:
  zodbtool dump --db ./data.db
  zodbtool dump --db ./data.db 0000000000000285..
  zodbtool dump --db ./data.db --hashonly --hash sha256`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, cmd, args)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite storage (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().BoolVar(&opts.HashOnly, "hashonly", false, "dump object hashes without payloads")
	cmd.Flags().StringVar(&opts.Hash, "hash", hashreg.DefaultFunc, "hash function for object records")

	return cmd
}

func runDump(opts *DumpCmdOptions, cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	tidMin, tidMax := zodb.Tid(0), zodb.TidMax
	if len(args) == 1 {
		var err error
		tidMin, tidMax, err = zodb.ParseTidRange(args[0])
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid tid range", err)
		}
	}

	if _, ok := hashreg.New(opts.Hash); !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown hash function %q", opts.Hash))
	}

	stor, err := sqlite.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	defer stor.Close()

	err = zodbdump.Dump(ctx, cmd.OutOrStdout(), stor, tidMin, tidMax, zodbdump.DumpOptions{
		HashOnly: opts.HashOnly,
		HashFunc: opts.Hash,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "dump failed", err)
	}
	return nil
}
