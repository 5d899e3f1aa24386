package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/zodbtool/internal/sqlite"
)

// InfoCmdOptions holds flags for the info command.
type InfoCmdOptions struct {
	*RootOptions
	Database string
}

// InfoResult is the JSON payload for the info command.
type InfoResult struct {
	Name string `json:"name"`
	Head string `json:"head"`
	// LastTid duplicates Head under its historical name. Deprecated.
	LastTid string `json:"last_tid"`
	Size    int64  `json:"size"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InfoCmdOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "info [parameter ...]",
		Short: "Print general information about a storage",
		Long: `Print general information about a storage: its name, current head
transaction id and on-disk size.

Without arguments every parameter is printed as "name: value" lines. With
arguments only the requested parameters are printed, values only, one per
line. Valid parameters: name, head, last_tid, size.

head is 0000000000000000 for an empty storage. last_tid is a deprecated
alias for head and will be removed eventually.

Exit codes:
  0 - Info printed
  2 - Command error (database not found, unknown parameter, etc.)

Examples:
  zodbtool info --db ./data.db
  zodbtool info --db ./data.db head
  zodbtool info --db ./data.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(opts, cmd, args)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite storage (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runInfo(opts *InfoCmdOptions, cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	fi, err := os.Stat(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to stat storage", err)
	}

	stor, err := sqlite.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	defer stor.Close()

	head, err := stor.LastTid(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read storage head", err)
	}

	result := InfoResult{
		Name:    stor.Name(),
		Head:    head.Hex(),
		LastTid: head.Hex(),
		Size:    fi.Size(),
	}
	values := map[string]string{
		"name":     result.Name,
		"head":     result.Head,
		"last_tid": result.LastTid,
		"size":     fmt.Sprintf("%d", result.Size),
	}

	for _, p := range args {
		if _, ok := values[p]; !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid parameter %q", p))
		}
		if p == "last_tid" {
			fmt.Fprintln(formatter.GetErrWriter(), "Warning: last_tid is deprecated, use head instead")
		}
	}

	if opts.Format == "json" {
		if len(args) == 0 {
			return formatter.Success(result)
		}
		selected := map[string]string{}
		for _, p := range args {
			selected[p] = values[p]
		}
		return formatter.Success(selected)
	}

	w := cmd.OutOrStdout()
	if len(args) > 0 {
		for _, p := range args {
			fmt.Fprintln(w, values[p])
		}
		return nil
	}
	fmt.Fprintf(w, "name: %s\n", result.Name)
	fmt.Fprintf(w, "head: %s\n", result.Head)
	fmt.Fprintf(w, "last_tid: %s\n", result.LastTid)
	fmt.Fprintf(w, "size: %d\n", result.Size)
	return nil
}
