package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/crr/internal/engine"
	"github.com/roach88/crr/internal/store"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Database string
	Schema   string

	// SiteIDGenerator allows overriding how the replica identity is minted
	// (for testing). If nil, defaults to UUIDv7Generator.
	SiteIDGenerator engine.SiteIDGenerator
}

// InitResult is the output of the init command.
type InitResult struct {
	Database string   `json:"database"`
	SiteID   string   `json:"site_id"`
	Tables   []string `json:"tables"`
}

func (r InitResult) String() string {
	return fmt.Sprintf("Initialized %s\n  site_id: %s\n  tables:  %s", r.Database, r.SiteID, strings.Join(r.Tables, ", "))
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a replica and register its tables",
		Long: `Create a replica database (or open an existing one) and register the
replicated tables declared in a CUE schema file or directory.

A new replica is given a UUIDv7 site id. Registering a table that already
exists with a different definition fails.

Example:
  crr init --db ./a.db --schema ./schema.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "path to CUE schema file or directory (required)")
	_ = cmd.MarkFlagRequired("schema")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	sch, err := LoadSchema(opts.Schema)
	if err != nil {
		return formatter.Fail(ExitCommandError, loadErrorCode(err), "failed to load schema", err)
	}
	formatter.VerboseLog("Loaded %d table(s) from %s", len(sch.Names()), opts.Schema)

	path, err := resolveDatabase(opts.RootOptions, opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to load config", err)
	}

	gen := opts.SiteIDGenerator
	if gen == nil {
		gen = engine.UUIDv7Generator{}
	}
	r, err := openReplica(opts.RootOptions, cmd, path, false, store.WithSiteIDGenerator(gen.Generate))
	if err != nil {
		return formatter.Fail(ExitCommandError, loadErrorCode(err), "failed to open database", err)
	}
	defer closeReplica(r)

	if err := r.store.RegisterTables(ctx, sch); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeSchema, "failed to register tables", err)
	}

	return formatter.Success(InitResult{
		Database: path,
		SiteID:   fmt.Sprintf("%x", r.engine.SiteID()),
		Tables:   sch.Names(),
	})
}
