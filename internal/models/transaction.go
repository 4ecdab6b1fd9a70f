package models

import (
	"time"
)

// TxType classifies a money-movement attempt.
type TxType string

const (
	TxDeposit            TxType = "DEPOSIT"
	TxWithdraw           TxType = "WITHDRAW"
	TxLeagueContribution TxType = "LEAGUE_CONTRIBUTION"
	TxPayout             TxType = "PAYOUT"
	TxHouseFee           TxType = "HOUSE_FEE"
	TxAdjustment         TxType = "ADJUSTMENT"
)

// TxStatus is the transaction state machine: PENDING is the only
// non-terminal state; SUCCEEDED and FAILED are terminal.
type TxStatus string

const (
	TxPending   TxStatus = "PENDING"
	TxSucceeded TxStatus = "SUCCEEDED"
	TxFailed    TxStatus = "FAILED"
)

// Terminal reports whether no further status transition is permitted.
func (s TxStatus) Terminal() bool {
	return s == TxSucceeded || s == TxFailed
}

// Configured payment provider names.
const (
	ProviderMpesa    = "MPESA"
	ProviderStripe   = "STRIPE"
	ProviderPesapal  = "PESAPAL"
	ProviderMidtrans = "MIDTRANS"
)

// Transaction is the durable audit record of one money-movement attempt.
// Rows are never deleted; terminal rows are never rewritten.
type Transaction struct {
	ID             int64     `json:"id" db:"id"`
	UserID         int64     `json:"user_id" db:"user_id"`
	LeagueID       *int64    `json:"league_id,omitempty" db:"league_id"`
	Type           TxType    `json:"type" db:"type"`
	Provider       *string   `json:"provider,omitempty" db:"provider"`
	AmountCents    int64     `json:"amount_cents" db:"amount_cents"`
	Currency       string    `json:"currency" db:"currency"`
	Status         TxStatus  `json:"status" db:"status"`
	ProviderRef    *string   `json:"provider_ref,omitempty" db:"provider_ref"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty" db:"idempotency_key"`
	Error          *string   `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
