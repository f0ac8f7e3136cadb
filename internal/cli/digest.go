package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/crr/internal/changestream"
	"github.com/roach88/crr/internal/ir"
)

// DigestOptions holds flags for the digest command.
type DigestOptions struct {
	*RootOptions
	Databases []string
}

// DigestResult is the state digest of one replica.
type DigestResult struct {
	Database  string `json:"database"`
	Digest    string `json:"digest"`
	DBVersion int64  `json:"db_version"`
	Records   int    `json:"records"`
}

// DigestResults is the output of the digest command.
type DigestResults struct {
	Replicas  []DigestResult `json:"replicas"`
	Converged bool           `json:"converged"`
}

func (r DigestResults) String() string {
	s := ""
	for _, d := range r.Replicas {
		s += fmt.Sprintf("%s  %s (db_version %d, %d records)\n", d.Digest, d.Database, d.DBVersion, d.Records)
	}
	if len(r.Replicas) > 1 {
		if r.Converged {
			s += "✓ replicas converged"
		} else {
			s += "✗ replicas diverged"
		}
	}
	return s
}

// NewDigestCommand creates the digest command.
func NewDigestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DigestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Print the state digest of replicas",
		Long: `Print a digest of each replica's replicated state: every row's causal
length and every cell's value and clock, independent of db_version and of
which replica originated a record.

Replicas that have exchanged all their changes have equal digests. With
more than one --db the command fails when the digests differ.

Exit codes:
  0 - Digests printed (and equal, for several replicas)
  1 - Replicas diverged
  2 - Command error

Example:
  crr digest --db a.db --db b.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigest(opts, cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Databases, "db", nil, "path to SQLite database, repeatable (default from config)")

	return cmd
}

func runDigest(opts *DigestOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	paths := opts.Databases
	if len(paths) == 0 {
		path, err := resolveDatabase(opts.RootOptions, "")
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to load config", err)
		}
		paths = []string{path}
	}

	result := DigestResults{Replicas: make([]DigestResult, 0, len(paths)), Converged: true}
	for _, path := range paths {
		d, err := digestReplica(opts, cmd, path)
		if err != nil {
			return formatter.Fail(ExitCommandError, loadErrorCode(err), "failed to digest "+path, err)
		}
		if len(result.Replicas) > 0 && d.Digest != result.Replicas[0].Digest {
			result.Converged = false
		}
		result.Replicas = append(result.Replicas, d)
	}

	if err := formatter.Success(result); err != nil {
		return err
	}
	if !result.Converged {
		return NewExitError(ExitFailure, "replicas diverged")
	}
	return nil
}

func digestReplica(opts *DigestOptions, cmd *cobra.Command, path string) (DigestResult, error) {
	r, err := openReplica(opts.RootOptions, cmd, path, true)
	if err != nil {
		return DigestResult{}, err
	}
	defer closeReplica(r)

	cs, err := changestream.Export(commandContext(cmd), r.engine, 0, changestream.WithPageSize(0))
	if err != nil {
		return DigestResult{}, err
	}
	digest, err := ir.StateDigest(cs.Changes)
	if err != nil {
		return DigestResult{}, err
	}
	return DigestResult{
		Database:  path,
		Digest:    digest,
		DBVersion: cs.Until,
		Records:   len(cs.Changes),
	}, nil
}
