package cli

import (
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

// PeersOptions holds flags for the peers command.
type PeersOptions struct {
	*RootOptions
	Database string
}

// PeerWatermark is how far a replica has pulled from one peer.
type PeerWatermark struct {
	Site      string `json:"site"`
	Watermark int64  `json:"watermark"`
}

// PeersResult is the output of the peers command.
type PeersResult struct {
	Database string          `json:"database"`
	Site     string          `json:"site"`
	Peers    []PeerWatermark `json:"peers"`
}

func (r PeersResult) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s (site %s)", r.Database, r.Site)
	if len(r.Peers) == 0 {
		buf.WriteString("\n  no peers yet")
	}
	for _, p := range r.Peers {
		fmt.Fprintf(&buf, "\n  %s  watermark %d", p.Site, p.Watermark)
	}
	return buf.String()
}

// NewPeersCommand creates the peers command.
func NewPeersCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PeersOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List the peers a replica has pulled from",
		Long: `List every peer this replica has received changesets from, with the
sender db_version it has seen everything up to. "crr sync" resumes from
these watermarks.

Example:
  crr peers --db b.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeers(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")

	return cmd
}

func runPeers(opts *PeersOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	path, err := resolveDatabase(opts.RootOptions, opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to load config", err)
	}
	r, err := openReplica(opts.RootOptions, cmd, path, true)
	if err != nil {
		return formatter.Fail(ExitCommandError, loadErrorCode(err), "failed to open database", err)
	}
	defer closeReplica(r)

	peers, err := r.engine.Store().Peers(commandContext(cmd))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStorage, "failed to read peers", err)
	}

	result := PeersResult{
		Database: path,
		Site:     hex.EncodeToString(r.engine.SiteID()),
		Peers:    make([]PeerWatermark, 0, len(peers)),
	}
	for site, w := range peers {
		result.Peers = append(result.Peers, PeerWatermark{Site: site, Watermark: w})
	}
	slices.SortFunc(result.Peers, func(a, b PeerWatermark) int {
		return strings.Compare(a.Site, b.Site)
	})
	return formatter.Success(result)
}
