package cli

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/crr/internal/changestream"
	"github.com/roach88/crr/internal/ir"
)

// ChangesOptions holds flags for the changes command.
type ChangesOptions struct {
	*RootOptions
	Database    string
	Since       int64
	ExcludeSite string
	Out         string
}

// ChangesResult is the output of the changes command.
type ChangesResult struct {
	Sender  string      `json:"sender"`
	Since   int64       `json:"since"`
	Until   int64       `json:"until"`
	Records int         `json:"records"`
	Out     string      `json:"out,omitempty"`
	Changes []ir.Change `json:"changes,omitempty"`
}

func (r ChangesResult) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%d record(s) from %s, db_version (%d, %d]", r.Records, r.Sender, r.Since, r.Until)
	if r.Out != "" {
		fmt.Fprintf(&buf, " written to %s", r.Out)
	}
	for _, c := range r.Changes {
		buf.WriteString("\n  ")
		buf.WriteString(formatChange(c))
	}
	return buf.String()
}

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChangesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Export change records after a db_version",
		Long: `Export every change record of a replica with db_version greater than
--since, in stream order.

With --out the records are written as one msgpack changeset that
"crr apply" reads; otherwise they are printed.

Examples:
  crr changes --db a.db --since 0
  crr changes --db a.db --since 12 --exclude-site 0192... --out a.changes`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanges(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().Int64Var(&opts.Since, "since", 0, "exclusive lower db_version bound")
	cmd.Flags().StringVar(&opts.ExcludeSite, "exclude-site", "", "hex site id whose records are left out")
	cmd.Flags().StringVar(&opts.Out, "out", "", "write a msgpack changeset to this file")

	return cmd
}

func runChanges(opts *ChangesOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	if opts.Since < 0 {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, "--since must not be negative", nil)
	}
	cfg, err := opts.Config()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to load config", err)
	}
	cursorOpts := []changestream.CursorOption{changestream.WithPageSize(cfg.PageSize)}
	if opts.ExcludeSite != "" {
		site, err := hex.DecodeString(opts.ExcludeSite)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, "invalid --exclude-site", err)
		}
		cursorOpts = append(cursorOpts, changestream.ExcludeSite(site))
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

	cs, err := changestream.Export(ctx, r.engine, opts.Since, cursorOpts...)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStorage, "failed to read changes", err)
	}
	formatter.VerboseLog("Exported %d record(s) from %s", len(cs.Changes), path)

	result := ChangesResult{
		Sender:  hex.EncodeToString(cs.Sender),
		Since:   cs.Since,
		Until:   cs.Until,
		Records: len(cs.Changes),
	}

	if opts.Out == "" {
		result.Changes = cs.Changes
		return formatter.Success(result)
	}

	if err := writeChangesetFile(opts.Out, cs); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to write changeset", err)
	}
	result.Out = opts.Out
	return formatter.Success(result)
}

func writeChangesetFile(path string, cs ir.Changeset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ir.WriteChangeset(f, cs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// formatChange renders a record on one line, ending in a short form of
// its content-addressed id.
func formatChange(c ir.Change) string {
	pk := hex.EncodeToString(c.PK)
	if vals, err := ir.UnpackColumns(c.PK); err == nil {
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = ir.FormatValue(v)
		}
		pk = strings.Join(parts, ",")
	}
	line := fmt.Sprintf("v%d %s[%s].%s = %s (col_version=%d cl=%d site=%x)",
		c.DBVersion, c.Table, pk, c.CID, ir.FormatValue(c.Val), c.ColVersion, c.CL, c.SiteID)
	if id, err := ir.ChangeID(c); err == nil {
		line += " id=" + id[:12]
	}
	return line
}
