package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/crr/internal/engine"
	"github.com/roach88/crr/internal/metrics"
	"github.com/roach88/crr/internal/store"
)

// replica is an opened replica database.
type replica struct {
	path   string
	engine *engine.Engine
	store  *store.Store
	errOut io.Writer
}

// newFormatter builds the formatter every command writes through.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// newLogger logs to stderr at the configured level, or Debug with --verbose.
func newLogger(opts *RootOptions, cmd *cobra.Command) (*slog.Logger, error) {
	cfg, err := opts.Config()
	if err != nil {
		return nil, err
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler), nil
}

// resolveDatabase returns the --db flag, falling back to the config file.
func resolveDatabase(opts *RootOptions, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	cfg, err := opts.Config()
	if err != nil {
		return "", err
	}
	return cfg.Database, nil
}

// openReplica opens an existing replica database. Pass extra store
// options to control how a new replica is minted.
func openReplica(opts *RootOptions, cmd *cobra.Command, path string, mustExist bool, storeOpts ...store.Option) (*replica, error) {
	if mustExist {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("database not found: %s (run crr init)", path)}
		}
	}

	cfg, err := opts.Config()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(opts, cmd)
	if err != nil {
		return nil, err
	}

	storeOpts = append([]store.Option{store.WithBusyTimeout(cfg.BusyTimeoutMS)}, storeOpts...)
	st, err := store.Open(path, storeOpts...)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeStorage, Message: err.Error()}
	}

	engineOpts := []engine.Option{engine.WithLogger(logger.With("db", path))}
	if cfg.Metrics.Enabled {
		engineOpts = append(engineOpts, engine.WithMetrics(metrics.NewMetrics(fmt.Sprintf("%x", st.SiteID()))))
	}

	logger.Debug("replica opened", "db", path, "site_id", fmt.Sprintf("%x", st.SiteID()))
	return &replica{
		path:   path,
		engine: engine.New(st, engineOpts...),
		store:  st,
		errOut: cmd.ErrOrStderr(),
	}, nil
}

// Close dumps collected metrics, if enabled, and closes the store.
func (r *replica) Close() error {
	if m := r.engine.Metrics(); m != nil {
		if err := dumpMetrics(r.errOut, m); err != nil {
			r.engine.Logger().Error("failed to write metrics", "error", err)
		}
	}
	return r.store.Close()
}

// dumpMetrics writes the replica's metrics in the Prometheus text format.
func dumpMetrics(w io.Writer, m *metrics.Metrics) error {
	families, err := m.Registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// closeReplica closes r, logging a close failure.
func closeReplica(r *replica) {
	if err := r.Close(); err != nil {
		r.engine.Logger().Error("error closing database", "error", err)
	}
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute (as in tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
