package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/ordermon/internal/model"
	"github.com/roach88/ordermon/internal/store"
)

// eligibility resolves whether an order may be advanced.
//
// Both the owning user's flag and the group's flag must be enabled. Flags
// are read from the cache first. A miss reads through to the store and
// populates the cache. Any failure on either path resolves to disabled and
// marks the read as degraded.
type eligibility struct {
	gw    Gateway
	flags FlagSource
}

// check returns (eligible, degraded).
func (el *eligibility) check(ctx context.Context, o model.Order) (bool, bool) {
	for _, key := range []model.FlagKey{model.UserKey(o.UserID), model.GroupKey(o.GroupID)} {
		enabled, degraded := el.flag(ctx, key)
		if !enabled {
			return false, degraded
		}
	}
	return true, false
}

func (el *eligibility) flag(ctx context.Context, key model.FlagKey) (enabled, degraded bool) {
	if el.flags != nil {
		v, found, err := el.flags.GetFlag(ctx, key)
		if err != nil {
			return false, true
		}
		if found {
			return v, false
		}
	}

	v, err := el.gw.Flag(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false, false
	case err != nil:
		slog.Warn("flag read-through failed", "key", key.String(), "error", err)
		return false, true
	}

	if el.flags != nil {
		if err := el.flags.SetFlags(ctx, []model.Flag{{Key: key, Enabled: v}}); err != nil {
			slog.Debug("flag cache populate failed", "key", key.String(), "error", err)
		}
	}
	return v, false
}
