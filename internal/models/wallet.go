package models

import (
	"time"
)

// Wallet holds a user's stored balance in minor currency units (cents).
// One wallet per user, created lazily on first touch.
type Wallet struct {
	UserID       int64     `json:"user_id" db:"user_id"`
	BalanceCents int64     `json:"balance_cents" db:"balance_cents"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// LeaguePot accumulates contributions for one league. PotCents is the
// distributable pool; HouseCents is the fee skimmed at contribution time.
type LeaguePot struct {
	LeagueID   int64     `json:"league_id" db:"league_id"`
	PotCents   int64     `json:"pot_cents" db:"pot_cents"`
	HouseCents int64     `json:"house_cents" db:"house_cents"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
