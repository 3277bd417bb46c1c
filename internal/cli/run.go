package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/ordermon/internal/cache"
	"github.com/roach88/ordermon/internal/config"
	"github.com/roach88/ordermon/internal/engine"
	"github.com/roach88/ordermon/internal/metrics"
	"github.com/roach88/ordermon/internal/monitor"
	"github.com/roach88/ordermon/internal/opsserver"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Workers     int
	BatchSize   int
	MetricsAddr string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the dispatch engine and flag monitor",
		Long: `Start the ordermon dispatch engine, flag monitor and ops server.

The process runs until SIGINT/SIGTERM, a "stop" control message or
POST /stop on the ops server. In-flight orders are then drained within
shutdown.grace_period, and pending events are flushed to the reactions
within the same budget; the exit code is 1 if the grace period elapses.

Example:
  ordermon run --config ./ordermon.yaml
  ordermon run --db ./orders.db --redis localhost:6379 --workers 8 --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			opts.applyOverrides(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			return runService(cmd, cfg, rootOpts.reactions...)
		},
	}

	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "number of engine workers (overrides config)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "maximum orders per cycle (overrides config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "ops server listen address (overrides config)")

	return cmd
}

func (o *RunOptions) applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("workers") {
		cfg.Engine.Workers = o.Workers
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.Engine.BatchSize = o.BatchSize
		if cfg.Engine.MinBatchSize > o.BatchSize {
			cfg.Engine.MinBatchSize = o.BatchSize
		}
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Ops.Addr = o.MetricsAddr
	}
}

func runService(cmd *cobra.Command, cfg config.Config, extra ...namedReaction) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	st, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	c, err := openCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			slog.Error("error closing redis client", "error", closeErr)
		}
	}()

	m := metrics.New()
	disp, err := newReactions(cfg, st, c, m, extra...)
	if err != nil {
		return err
	}

	exec, err := newExecutor(cfg.Engine)
	if err != nil {
		_ = disp.close(ctx)
		return err
	}
	eng := engine.New(st, c, exec, disp, engineOptions(cfg.Engine, m)...)
	mon := monitor.New(st, c, disp,
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithSnapshotInterval(cfg.Monitor.SnapshotInterval),
		monitor.WithCounters(eng),
		monitor.WithMetrics(m),
	)

	sub, err := c.SubscribeControl(ctx)
	if err != nil {
		_ = disp.close(ctx)
		return WrapExitError(ExitCommandError, "failed to subscribe to control channel", err)
	}

	var ops *opsserver.Server
	serveDone := make(chan error, 1)
	if cfg.Ops.Addr != "" {
		l, err := net.Listen("tcp", cfg.Ops.Addr)
		if err != nil {
			sub.Close()
			_ = disp.close(ctx)
			return WrapExitError(ExitCommandError, "failed to listen for ops server", err)
		}
		ops = opsserver.New(opsserver.Deps{
			Metrics: m,
			Engine:  eng,
			Monitor: mon,
			Orders:  st,
			Checks:  map[string]opsserver.Pinger{"store": st, "cache": c},
			Stop:    eng.Stop,
		})
		go func() { serveDone <- ops.Serve(l) }()
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	controlDone := make(chan struct{})
	go func() {
		defer close(controlDone)
		ctrl := sub.C()
		for {
			select {
			case sig := <-sigChan:
				slog.Info("received signal, shutting down", "signal", sig)
				eng.Stop()
			case command, ok := <-ctrl:
				if !ok {
					return
				}
				slog.Info("control command received", "command", command)
				switch command {
				case cache.CommandStop:
					eng.Stop()
				case cache.CommandRefresh:
					mon.RequestRefresh()
				}
			}
		}
	}()

	monCtx, monCancel := context.WithCancel(context.Background())
	monDone := make(chan error, 1)
	go func() { monDone <- mon.Run(monCtx) }()

	slog.Info("ordermon starting", "engine_id", eng.ID(), "db", cfg.Database.Path, "redis", cfg.Redis.Addr)
	fmt.Fprintf(cmd.OutOrStdout(), "ordermon started (engine %s)\n", eng.ID())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	runErr := eng.Run(ctx)

	// Drain in order: engine workers, monitor, control, ops, reactions.
	graceCtx, graceCancel := context.WithTimeout(context.Background(), cfg.Shutdown.GracePeriod)
	defer graceCancel()

	shutdownErr := eng.Shutdown(graceCtx)
	monCancel()
	<-monDone
	sub.Close()
	<-controlDone
	if ops != nil {
		if err := ops.Shutdown(graceCtx); err != nil {
			slog.Warn("ops server shutdown", "error", err)
		}
		if err := <-serveDone; err != nil {
			slog.Warn("ops server stopped with error", "error", err)
		}
	}
	flushErr := disp.close(graceCtx)
	if flushErr != nil {
		slog.Warn("reactions did not flush before the grace period", "error", flushErr)
	}

	stats := eng.Stats()
	slog.Info("engine stopped",
		"processed", stats.Processed,
		"failed", stats.Failed,
		"conflicts", stats.Conflicts,
		"cycles", stats.Cycles,
	)

	if shutdownErr != nil {
		return WrapExitError(ExitFailure, "grace period elapsed before workers drained", shutdownErr)
	}
	if flushErr != nil {
		return WrapExitError(ExitFailure, "grace period elapsed before reactions flushed", flushErr)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", runErr)
	}

	slog.Info("ordermon stopped gracefully")
	return nil
}
