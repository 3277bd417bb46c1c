package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ordermon/internal/cache"
	"github.com/roach88/ordermon/internal/metrics"
	"github.com/roach88/ordermon/internal/model"
	"github.com/roach88/ordermon/internal/monitor"
)

const controlTimeout = 10 * time.Second

// ControlResult reports a delivered control command.
type ControlResult struct {
	Command   string `json:"command"`
	Receivers int64  `json:"receivers"`
}

func (r ControlResult) String() string {
	return fmt.Sprintf("%s sent to %d running process(es)", r.Command, r.Receivers)
}

// NewStopCommand creates the stop command.
func NewStopCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask running processes to drain and exit",
		Long: `Publish "stop" on the control channel. Every running ordermon process
stops taking new orders, drains its workers and exits.

Exits with code 2 when no process is listening.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			c, err := openCache(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			defer c.Close()

			n, err := c.PublishControl(ctx, cache.CommandStop)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to publish stop", err)
			}
			if n == 0 {
				return NewExitError(ExitCommandError, "no running ordermon process is listening")
			}
			return rootOpts.formatter(cmd).Success(ControlResult{Command: string(cache.CommandStop), Receivers: n})
		},
	}
}

// RefreshResult reports a reconcile run in place because nothing was
// listening for the refresh command.
type RefreshResult struct {
	Loaded      int `json:"loaded"`
	Changes     int `json:"changes"`
	CacheWrites int `json:"cache_writes"`
}

func (r RefreshResult) String() string {
	return fmt.Sprintf("no running process; reconciled %d flags directly (%d changed, %d cache writes)",
		r.Loaded, r.Changes, r.CacheWrites)
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a flag reconcile and snapshot",
		Long: `Publish "refresh" on the control channel so running processes reconcile
flags and publish a snapshot immediately. When nothing is listening the
reconcile runs in this process against the configured database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			c, err := openCache(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			defer c.Close()

			out := rootOpts.formatter(cmd)
			n, err := c.PublishControl(ctx, cache.CommandRefresh)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to publish refresh", err)
			}
			if n > 0 {
				return out.Success(ControlResult{Command: string(cache.CommandRefresh), Receivers: n})
			}

			out.VerboseLog("no listener for refresh, reconciling directly")
			st, err := openStore(cfg.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			disp, err := newReactions(cfg, st, c, metrics.New())
			if err != nil {
				return err
			}
			res, refreshErr := monitor.New(st, c, disp).ForceRefresh(ctx)
			if err := disp.close(ctx); err != nil {
				slog.Warn("reactions did not flush", "error", err)
			}
			if refreshErr != nil {
				return WrapExitError(ExitFailure, "refresh failed", refreshErr)
			}
			return out.Success(RefreshResult{
				Loaded:      res.Loaded,
				Changes:     len(res.Changes),
				CacheWrites: res.CacheWrites,
			})
		},
	}
}

// StatusView is the printable form of a monitor snapshot.
type StatusView struct {
	model.Snapshot
}

func (v StatusView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "snapshot at %s\n", v.At.Format(time.RFC3339))
	fmt.Fprintf(&b, "active users:  %d\n", v.ActiveUsers)
	fmt.Fprintf(&b, "active groups: %d\n", v.ActiveGroups)
	b.WriteString("orders:\n")
	for _, s := range model.AllStatuses {
		fmt.Fprintf(&b, "  %-10s %d\n", s, v.Orders[s])
	}
	if len(v.Counters) > 0 {
		b.WriteString("counters:\n")
		names := make([]string, 0, len(v.Counters))
		for name := range v.Counters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  %-12s %d\n", name, v.Counters[name])
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the latest monitor snapshot",
		Long: `Print the snapshot most recently published by a running monitor:
order counts by status, active users and groups, and engine counters.

Exits with code 2 when no snapshot has been published.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			c, err := openCache(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			defer c.Close()

			snap, err := c.GetStats(ctx)
			if err != nil {
				code := ExitFailure
				if errors.Is(err, cache.ErrNoStats) {
					code = ExitCommandError
				}
				return WrapExitError(code, "no status available", err)
			}
			return rootOpts.formatter(cmd).Success(StatusView{Snapshot: snap})
		},
	}
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, controlTimeout)
}
