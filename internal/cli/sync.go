package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/crr/internal/changestream"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	From string
	To   string
	Both bool
}

// SyncResult is the output of the sync command.
type SyncResult struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Shipped   int    `json:"shipped"`
	Accepted  int    `json:"accepted"`
	Watermark int64  `json:"watermark"`
}

func (r SyncResult) String() string {
	return fmt.Sprintf("%s -> %s: shipped %d, accepted %d, watermark %d", r.From, r.To, r.Shipped, r.Accepted, r.Watermark)
}

// SyncResults is the output of a sync in both directions.
type SyncResults []SyncResult

func (rs SyncResults) String() string {
	s := ""
	for i, r := range rs {
		if i > 0 {
			s += "\n"
		}
		s += r.String()
	}
	return s
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Ship changes between two local replicas",
		Long: `Pull every change --to has not yet seen from --from, one page per
changeset, resuming at the stored watermark. Changes that originated at
--to are not sent back. With --both the reverse direction runs afterwards.

Example:
  crr sync --from a.db --to b.db
  crr sync --from a.db --to b.db --both`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "sending replica database (required)")
	cmd.Flags().StringVar(&opts.To, "to", "", "receiving replica database (required)")
	cmd.Flags().BoolVar(&opts.Both, "both", false, "also sync in the reverse direction")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	if opts.From == opts.To {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, "--from and --to name the same database", nil)
	}
	cfg, err := opts.Config()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to load config", err)
	}

	from, err := openReplica(opts.RootOptions, cmd, opts.From, true)
	if err != nil {
		return formatter.Fail(ExitCommandError, loadErrorCode(err), "failed to open database", err)
	}
	defer closeReplica(from)
	to, err := openReplica(opts.RootOptions, cmd, opts.To, true)
	if err != nil {
		return formatter.Fail(ExitCommandError, loadErrorCode(err), "failed to open database", err)
	}
	defer closeReplica(to)

	pairs := [][2]*replica{{from, to}}
	if opts.Both {
		pairs = append(pairs, [2]*replica{to, from})
	}

	results := make(SyncResults, 0, len(pairs))
	for _, p := range pairs {
		res, err := changestream.Sync(ctx, p[0].engine, p[1].engine, changestream.WithPageSize(cfg.PageSize))
		if err != nil {
			return failReceive(formatter, err)
		}
		formatter.VerboseLog("Synced %s -> %s", p[0].path, p[1].path)
		results = append(results, SyncResult{
			From:      p[0].path,
			To:        p[1].path,
			Shipped:   res.Shipped,
			Accepted:  res.Accepted,
			Watermark: res.Watermark,
		})
	}

	if len(results) == 1 {
		return formatter.Success(results[0])
	}
	return formatter.Success(results)
}
