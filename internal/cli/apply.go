package cli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/crr/internal/changestream"
	"github.com/roach88/crr/internal/engine"
	"github.com/roach88/crr/internal/ir"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Database string
	In       string
}

// ApplyResult is the output of the apply command.
type ApplyResult struct {
	Sender    string `json:"sender"`
	Records   int    `json:"records"`
	Accepted  int    `json:"accepted"`
	Rejected  int    `json:"rejected"`
	Noop      int    `json:"noop"`
	DBVersion int64  `json:"db_version"`
}

func (r ApplyResult) String() string {
	return fmt.Sprintf("Applied %d record(s) from %s: %d accepted, %d rejected, %d no-op; db_version %d",
		r.Records, r.Sender, r.Accepted, r.Rejected, r.Noop, r.DBVersion)
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Merge a changeset file into a replica",
		Long: `Merge a msgpack changeset written by "crr changes --out" into a replica.

The changeset must start at or below the replica's watermark for the
sender; a changeset that would skip versions is refused.

Exit codes:
  0 - Changeset merged
  1 - Changeset refused (malformed record, gap, own changeset)
  2 - Command error (missing file, database not found)

Example:
  crr apply --db b.db --in a.changes`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.In, "in", "", "changeset file (required)")
	_ = cmd.MarkFlagRequired("in")

	return cmd
}

func runApply(opts *ApplyOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	f, err := os.Open(opts.In)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to open changeset", err)
	}
	cs, err := ir.ReadChangeset(f)
	f.Close()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, "failed to read changeset", err)
	}

	path, err := resolveDatabase(opts.RootOptions, opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to load config", err)
	}
	r, err := openReplica(opts.RootOptions, cmd, path, true)
	if err != nil {
		return formatter.Fail(ExitCommandError, loadErrorCode(err), "failed to open database", err)
	}
	defer closeReplica(r)

	res, err := changestream.NewInbound(r.engine).Receive(ctx, cs)
	if err != nil {
		return failReceive(formatter, err)
	}

	return formatter.Success(ApplyResult{
		Sender:    hex.EncodeToString(cs.Sender),
		Records:   len(cs.Changes),
		Accepted:  res.Accepted,
		Rejected:  res.Rejected,
		Noop:      res.Noop,
		DBVersion: res.DBVersion,
	})
}

// failReceive maps a refused changeset to its error code.
func failReceive(formatter *OutputFormatter, err error) error {
	switch {
	case engine.IsIntegrityError(err):
		return formatter.Fail(ExitFailure, ErrCodeIntegrity, "changeset refused", err)
	case changestream.IsGapError(err):
		return formatter.Fail(ExitFailure, ErrCodeGap, "changeset refused", err)
	case errors.Is(err, changestream.ErrNoSender), errors.Is(err, changestream.ErrOwnChangeset):
		return formatter.Fail(ExitFailure, ErrCodeSync, "changeset refused", err)
	case engine.IsStorageError(err):
		return formatter.Fail(ExitCommandError, ErrCodeStorage, "merge failed", err)
	default:
		return formatter.Fail(ExitFailure, ErrCodeSync, "changeset refused", err)
	}
}
