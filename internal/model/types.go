package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// User owns order groups. Enabled gates every order belonging to the user.
type User struct {
	ID        int64     `json:"id"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Group is an order group. Enabled gates the orders in the group,
// independently of the owning user's flag.
type Group struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Order is a single trading order tracked by the engine.
type Order struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	GroupID   int64           `json:"group_id"`
	Priority  int             `json:"priority"` // Higher is more urgent
	Quantity  decimal.Decimal `json:"quantity"`
	Filled    decimal.Decimal `json:"filled_quantity"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`

	// Extra is passed through untouched.
	Extra json.RawMessage `json:"extra,omitempty"`

	// StoredFilled is filled_quantity exactly as the store holds it.
	// Conditional updates match on it, so an equal value written in another
	// form (for example "0.0") still matches.
	StoredFilled string `json:"-"`

	// Defect is set when the stored row cannot be trusted: a quantity that
	// does not parse, or values that fail Check. Such an order can only be
	// moved to FAILED.
	Defect string `json:"-"`
}

// Remaining returns Quantity - Filled.
func (o Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// Check verifies the stored quantity invariant 0 <= Filled <= Quantity
// and that Status is a known lifecycle value.
func (o Order) Check() error {
	if !o.Status.Valid() {
		return &ValidationError{OrderID: o.ID, Reason: "unknown status " + string(o.Status)}
	}
	if !o.Quantity.IsPositive() {
		return &ValidationError{OrderID: o.ID, Reason: "quantity must be positive"}
	}
	if o.Filled.IsNegative() {
		return &ValidationError{OrderID: o.ID, Reason: "filled quantity is negative"}
	}
	if o.Filled.GreaterThan(o.Quantity) {
		return &ValidationError{OrderID: o.ID, Reason: "filled quantity exceeds quantity"}
	}
	return nil
}

// Transition is a proposed conditional status change for one order.
// From and OldFilled are the expected current values (optimistic lock).
type Transition struct {
	OrderID   int64           `json:"order_id"`
	From      Status          `json:"from"`
	To        Status          `json:"to"`
	OldFilled decimal.Decimal `json:"old_filled"`
	NewFilled decimal.Decimal `json:"new_filled"`
	Reason    string          `json:"reason"`

	// StoredFilled is the stored text the update matches on. Empty means
	// OldFilled in canonical form.
	StoredFilled string `json:"-"`
}

// LockFilled returns the filled_quantity text the conditional update expects.
func (t Transition) LockFilled() string {
	if t.StoredFilled != "" {
		return t.StoredFilled
	}
	return t.OldFilled.String()
}

// TransitionFrom builds a transition that expects order's current state.
func TransitionFrom(o Order, to Status, newFilled decimal.Decimal, reason string) Transition {
	return Transition{
		OrderID:      o.ID,
		From:         o.Status,
		To:           to,
		OldFilled:    o.Filled,
		NewFilled:    newFilled,
		Reason:       reason,
		StoredFilled: o.StoredFilled,
	}
}

// Validate checks the transition against the lifecycle and the quantity
// invariant for an order of the given total quantity.
//
// Terminal sources are not validation failures: they are reported by the
// store as conflicts, so Validate only rejects them via ErrTerminal.
func (t Transition) Validate(quantity decimal.Decimal) error {
	if t.From.Terminal() {
		return ErrTerminal
	}
	if !CanTransition(t.From, t.To) {
		return &ValidationError{OrderID: t.OrderID, Reason: "illegal transition " + string(t.From) + " -> " + string(t.To)}
	}
	if t.NewFilled.IsNegative() {
		return &ValidationError{OrderID: t.OrderID, Reason: "filled quantity is negative"}
	}
	if t.NewFilled.GreaterThan(quantity) {
		return &ValidationError{OrderID: t.OrderID, Reason: "filled quantity exceeds quantity"}
	}
	if t.NewFilled.LessThan(t.OldFilled) {
		return &ValidationError{OrderID: t.OrderID, Reason: "filled quantity decreased"}
	}
	switch t.To {
	case StatusFilled:
		if !t.NewFilled.Equal(quantity) {
			return &ValidationError{OrderID: t.OrderID, Reason: "FILLED requires filled quantity equal to quantity"}
		}
	case StatusPartial:
		if !t.NewFilled.IsPositive() || !t.NewFilled.LessThan(quantity) {
			return &ValidationError{OrderID: t.OrderID, Reason: "PARTIAL requires 0 < filled quantity < quantity"}
		}
	}
	return nil
}

// StatusLog is an immutable record of one committed transition.
type StatusLog struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	OldStatus Status          `json:"old_status"`
	NewStatus Status          `json:"new_status"`
	OldFilled decimal.Decimal `json:"old_filled"`
	NewFilled decimal.Decimal `json:"new_filled"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"created_at"`
}
