// Package token implements roll admission: single-use tokens and the
// one-active-request-per-player slot.
package token

import (
	"context"
	"errors"
	"math"
	"time"
)

// DefaultCrate is used when a token does not name a crate.
const DefaultCrate = "Default"

// ErrNotFound is returned when a token is absent, expired or already consumed.
var ErrNotFound = errors.New("token not found")

// Metadata carries the parameters of one admitted roll.
type Metadata struct {
	EnvironmentID  string  `json:"environment_id,omitempty"`
	LuckMultiplier float64 `json:"luck_multiplier,omitempty"`
	CrateType      string  `json:"crate_type,omitempty"`
	GuaranteedItem string  `json:"guaranteed_item,omitempty"`
}

// Crate returns the crate type, DefaultCrate when unset.
func (m Metadata) Crate() string {
	if m.CrateType == "" {
		return DefaultCrate
	}
	return m.CrateType
}

// Luck returns the raw luck multiplier, 1 when unset or invalid.
func (m Metadata) Luck() float64 {
	if !(m.LuckMultiplier > 0) || math.IsInf(m.LuckMultiplier, 0) {
		return 1
	}
	return m.LuckMultiplier
}

// Consumer destructively reads a token. A token can be consumed once.
type Consumer interface {
	Consume(ctx context.Context, player, requestID string) (Metadata, error)
}

// Issuer stores a token for later consumption.
type Issuer interface {
	Issue(ctx context.Context, player, requestID string, md Metadata, ttl time.Duration) error
}

// Slots tracks the single in-flight request a player may have.
// Finish is idempotent and only releases the slot held by requestID.
type Slots interface {
	Begin(ctx context.Context, player, requestID string) (bool, error)
	Finish(ctx context.Context, player, requestID string) error
}
