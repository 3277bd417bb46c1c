// Package model provides the core domain types for ordermon.
//
// This package contains type definitions and lifecycle rules only. All other
// internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Quantities are decimal.Decimal, never float64
//   - Order.Status only moves forward through the lifecycle (see CanTransition)
//   - FILLED, CANCELLED and FAILED are terminal
//   - Order.Extra is an opaque payload; nothing in the core interprets it
//   - All JSON tags use snake_case
package model
