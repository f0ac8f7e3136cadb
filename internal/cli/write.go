package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/crr/internal/engine"
	"github.com/roach88/crr/internal/ir"
	"github.com/roach88/crr/internal/schema"
)

// WriteOptions holds flags for the write command.
type WriteOptions struct {
	*RootOptions
	Database string
	Op       string
	Table    string
	PK       []string
	Set      []string
}

// WriteResult is the output of the write command.
type WriteResult struct {
	Op        string `json:"op"`
	Table     string `json:"table"`
	DBVersion int64  `json:"db_version"`
}

func (r WriteResult) String() string {
	return fmt.Sprintf("%s %s: db_version %d", r.Op, r.Table, r.DBVersion)
}

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Run one local row operation",
		Long: `Insert, update or delete one row of a replica as a local transaction.

Values use SQL literal syntax: NULL, 42, 1.5, 'text', X'00FF'. Bare words
that are not numbers are taken as text.

  insert  sets every --set column; unset columns are NULL
  update  sets each --set column (at least one)
  delete  tombstones the row

Examples:
  crr write --db a.db --op insert --table todos --pk 1 --set title='buy milk' --set done=0
  crr write --db a.db --op update --table todos --pk 1 --set done=1
  crr write --db a.db --op delete --table todos --pk 1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Op, "op", "", "operation: insert, update or delete (required)")
	cmd.Flags().StringVar(&opts.Table, "table", "", "table name (required)")
	cmd.Flags().StringArrayVar(&opts.PK, "pk", nil, "primary key value, repeated for composite keys (required)")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "column=value, repeatable")
	_ = cmd.MarkFlagRequired("op")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("pk")

	return cmd
}

func runWrite(opts *WriteOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	pk, err := parseValues(opts.PK)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, "invalid --pk", err)
	}
	sets, err := parseAssignments(opts.Set)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, "invalid --set", err)
	}
	switch opts.Op {
	case "insert":
	case "update":
		if len(sets) == 0 {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, "update needs at least one --set", nil)
		}
	case "delete":
		if len(sets) > 0 {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, "delete takes no --set", nil)
		}
	default:
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, fmt.Sprintf("unknown --op %q (want insert, update or delete)", opts.Op), nil)
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

	version, err := r.engine.Transact(ctx, func(w *engine.WriteTx) error {
		switch opts.Op {
		case "insert":
			values := make(map[string]ir.Value, len(sets))
			for _, s := range sets {
				values[s.column] = s.value
			}
			return w.Insert(opts.Table, pk, values)
		case "update":
			for _, s := range sets {
				if err := w.Update(opts.Table, pk, s.column, s.value); err != nil {
					return err
				}
			}
			return nil
		default:
			return w.Delete(opts.Table, pk)
		}
	})
	switch {
	case errors.Is(err, engine.ErrRowExists), errors.Is(err, engine.ErrRowNotFound):
		return formatter.Fail(ExitFailure, ErrCodeWriteFailed, "write refused", err)
	case errors.Is(err, schema.ErrUnknownTable), errors.Is(err, schema.ErrUnknownColumn):
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, "write refused", err)
	case err != nil:
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "write failed", err)
	}

	return formatter.Success(WriteResult{Op: opts.Op, Table: opts.Table, DBVersion: version})
}

type assignment struct {
	column string
	value  ir.Value
}

// parseAssignments parses column=value pairs. A column may appear once.
func parseAssignments(raw []string) ([]assignment, error) {
	out := make([]assignment, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, s := range raw {
		col, lit, ok := strings.Cut(s, "=")
		col = strings.TrimSpace(col)
		if !ok || col == "" {
			return nil, fmt.Errorf("%q: want column=value", s)
		}
		if seen[col] {
			return nil, fmt.Errorf("column %s set twice", col)
		}
		seen[col] = true
		v, err := ir.ParseValue(lit)
		if err != nil {
			return nil, err
		}
		out = append(out, assignment{column: col, value: v})
	}
	return out, nil
}

func parseValues(raw []string) ([]ir.Value, error) {
	out := make([]ir.Value, len(raw))
	for i, s := range raw {
		v, err := ir.ParseValue(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
