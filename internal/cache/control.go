package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Command is a control message for a running process.
type Command string

const (
	CommandStop    Command = "stop"
	CommandRefresh Command = "refresh"
)

// Valid reports whether cmd is a known command.
func (cmd Command) Valid() bool {
	return cmd == CommandStop || cmd == CommandRefresh
}

// PublishControl sends cmd on the control channel and returns the number of
// subscribers that received it.
func (c *Cache) PublishControl(ctx context.Context, cmd Command) (int64, error) {
	if !cmd.Valid() {
		return 0, fmt.Errorf("publish control: unknown command %q", cmd)
	}
	n, err := c.rdb.Publish(ctx, ControlChannel, string(cmd)).Result()
	if err != nil {
		return 0, fmt.Errorf("publish control: %w", err)
	}
	return n, nil
}

// Subscription delivers control commands until closed.
type Subscription struct {
	ps *redis.PubSub
	ch chan Command
}

// C returns the command channel. It is closed after Close.
func (s *Subscription) C() <-chan Command {
	return s.ch
}

// Close unsubscribes.
func (s *Subscription) Close() error {
	return s.ps.Close()
}

// SubscribeControl subscribes to the control channel. It returns once Redis
// has confirmed the subscription, so a PublishControl issued afterwards is
// guaranteed to be delivered.
func (c *Cache) SubscribeControl(ctx context.Context) (*Subscription, error) {
	ps := c.rdb.Subscribe(ctx, ControlChannel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe control: %w", err)
	}

	sub := &Subscription{ps: ps, ch: make(chan Command, 8)}
	go func() {
		defer close(sub.ch)
		for msg := range ps.Channel() {
			cmd := Command(msg.Payload)
			if !cmd.Valid() {
				slog.Warn("ignoring unknown control command", "payload", msg.Payload)
				continue
			}
			select {
			case sub.ch <- cmd:
			default:
				slog.Warn("control command dropped, subscriber not reading", "command", cmd)
			}
		}
	}()
	return sub, nil
}
