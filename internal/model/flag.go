package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FlagKind names the entity an enable flag belongs to.
type FlagKind string

const (
	KindUser  FlagKind = "user"
	KindGroup FlagKind = "group"
)

// FlagKey identifies one enable flag.
type FlagKey struct {
	Kind FlagKind `json:"kind"`
	ID   int64    `json:"id"`
}

// UserKey returns the flag key of a user.
func UserKey(id int64) FlagKey { return FlagKey{Kind: KindUser, ID: id} }

// GroupKey returns the flag key of an order group.
func GroupKey(id int64) FlagKey { return FlagKey{Kind: KindGroup, ID: id} }

// String renders the key as "<kind>:<id>".
func (k FlagKey) String() string {
	return string(k.Kind) + ":" + strconv.FormatInt(k.ID, 10)
}

// ParseFlagKey is the inverse of FlagKey.String.
func ParseFlagKey(s string) (FlagKey, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return FlagKey{}, fmt.Errorf("malformed flag key %q", s)
	}
	k := FlagKind(kind)
	if k != KindUser && k != KindGroup {
		return FlagKey{}, fmt.Errorf("unknown flag kind %q", kind)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return FlagKey{}, fmt.Errorf("malformed flag id %q: %w", id, err)
	}
	return FlagKey{Kind: k, ID: n}, nil
}

// Flag is the enable state of one user or group.
type Flag struct {
	Key     FlagKey `json:"key"`
	Enabled bool    `json:"enabled"`
}

// FlagChange records an observed flip of an enable flag.
type FlagChange struct {
	Key FlagKey   `json:"key"`
	Old bool      `json:"old"`
	New bool      `json:"new"`
	At  time.Time `json:"at"`
}
