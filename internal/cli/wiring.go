package cli

import (
	"context"
	"log/slog"

	"github.com/roach88/ordermon/internal/cache"
	"github.com/roach88/ordermon/internal/config"
	"github.com/roach88/ordermon/internal/engine"
	"github.com/roach88/ordermon/internal/events"
	"github.com/roach88/ordermon/internal/metrics"
	"github.com/roach88/ordermon/internal/reaction"
	"github.com/roach88/ordermon/internal/store"
)

func openStore(cfg config.Database) (*store.Store, error) {
	slog.Info("opening database", "path", cfg.Path)
	st, err := store.Open(cfg.Path,
		store.WithPoolSize(cfg.PoolSize),
		store.WithBusyTimeout(cfg.BusyTimeout),
		store.WithConnMaxLifetime(cfg.ConnMaxLifetime),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func openCache(ctx context.Context, cfg config.Redis) (*cache.Cache, error) {
	slog.Debug("connecting to redis", "addr", cfg.Addr)
	c, err := cache.Open(ctx, cache.Config{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}, cache.WithReadTimeout(cfg.ReadTimeout), cache.WithFlagTTL(cfg.FlagTTL))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect to redis", err)
	}
	return c, nil
}

// reactions owns the dispatcher and any reaction holding its own
// connection.
type reactions struct {
	*events.Dispatcher
	kafka *reaction.KafkaSink
}

// newReactions registers every reaction on a fresh dispatcher. The Kafka
// sink is only added when brokers are configured.
type namedReaction struct {
	name string
	r    events.Reaction
}

func newReactions(cfg config.Config, st *store.Store, c *cache.Cache, m *metrics.Metrics, extra ...namedReaction) (*reactions, error) {
	d := events.NewDispatcher(events.WithErrorHook(func(name string, e events.Event, err error) {
		slog.Warn("reaction failed", "reaction", name, "event", e.ID, "kind", e.Kind, "error", err)
	}))
	r := &reactions{Dispatcher: d}

	regs := []namedReaction{
		{"log", reaction.NewLogger(slog.Default())},
		{"order-status", reaction.NewOrderStatusCache(c)},
		{"flag-invalidate", reaction.NewFlagInvalidator(st, c)},
		{"notify", reaction.NewNotifier(c)},
		{"metrics", reaction.NewMetrics(m)},
	}
	if len(cfg.Kafka.Brokers) > 0 {
		r.kafka = reaction.NewKafkaSink(reaction.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		regs = append(regs, namedReaction{"kafka", r.kafka})
		slog.Info("kafka sink enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	regs = append(regs, extra...)

	for _, reg := range regs {
		if err := d.Register(reg.name, reg.r); err != nil {
			_ = r.close(context.Background())
			return nil, WrapExitError(ExitCommandError, "failed to register reaction", err)
		}
	}
	return r, nil
}

// close flushes pending events, then closes the Kafka writer.
func (r *reactions) close(ctx context.Context) error {
	err := r.Dispatcher.Close(ctx)
	if r.kafka != nil {
		if kerr := r.kafka.Close(); kerr != nil {
			slog.Error("error closing kafka writer", "error", kerr)
		}
	}
	return err
}

func newExecutor(cfg config.Engine) (engine.Executor, error) {
	if cfg.Executor != "step" {
		return engine.FullFill{}, nil
	}
	step, err := cfg.StepQuantity()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid step", err)
	}
	exec, err := engine.NewStepFill(step)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid step", err)
	}
	return exec, nil
}

func engineOptions(cfg config.Engine, m *metrics.Metrics) []engine.Option {
	return []engine.Option{
		engine.WithWorkers(cfg.Workers),
		engine.WithBatchSize(cfg.BatchSize),
		engine.WithMinBatchSize(cfg.MinBatchSize),
		engine.WithInterval(cfg.Interval),
		engine.WithMaxInterval(cfg.MaxInterval),
		engine.WithMaxRetries(cfg.MaxRetries),
		engine.WithOpTimeout(cfg.OpTimeout),
		engine.WithErrorThreshold(cfg.ErrorThreshold),
		engine.WithMetrics(m),
	}
}
