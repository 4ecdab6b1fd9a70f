// Package providers contains the external payment provider adapters. Every
// provider satisfies the same capability contract so the payments service
// can treat mobile money, card processors and hosted checkouts uniformly.
package providers

import (
	"context"
	"errors"
	"fmt"
)

// Capture result statuses reported by CaptureDeposit.
const (
	CaptureSucceeded = "SUCCEEDED"
	CapturePending   = "PENDING"
	CaptureFailed    = "FAILED"
)

// ErrNotSupported marks a capability a provider does not offer (e.g. payouts
// on a deposit-only hosted checkout).
var ErrNotSupported = errors.New("operation not supported by provider")

// ProviderError wraps any failure reported by an external provider. The
// caller treats the whole adapter call as failed; there is no
// partial-success ambiguity at this layer.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// DepositRequest describes a deposit initiation.
type DepositRequest struct {
	UserID      int64
	AmountCents int64
	Currency    string
	// Phone is the payer MSISDN in E.164 form; required by mobile money
	// providers, ignored by the rest.
	Phone          string
	IdempotencyKey string
}

// DepositIntent is the provider's answer to a deposit initiation: the
// correlation reference plus whatever the client needs to continue the flow.
type DepositIntent struct {
	ProviderRef string `json:"provider_ref"`
	// CheckoutURL is a hosted checkout redirect, when the provider uses one.
	CheckoutURL string `json:"checkout_url,omitempty"`
	// ClientSecret is a card-processor client continuation token, when one exists.
	ClientSecret string `json:"client_secret,omitempty"`
	Status       string `json:"status,omitempty"`
}

// CaptureResult is the provider's answer to an explicit capture or status query.
type CaptureResult struct {
	ProviderRef string `json:"provider_ref"`
	Status      string `json:"status"`
}

// PayoutRequest describes an outbound payout for a withdrawal.
type PayoutRequest struct {
	UserID         int64
	AmountCents    int64
	Destination    string
	IdempotencyKey string
}

// PayoutReceipt carries the provider correlation reference for a payout.
type PayoutReceipt struct {
	ProviderRef string `json:"provider_ref"`
	Status      string `json:"status,omitempty"`
}

// PaymentProvider is the uniform capability contract implemented once per
// payment provider. Adapter calls are only used to obtain an external
// correlation reference; final settlement arrives out of band via webhooks.
type PaymentProvider interface {
	Name() string
	CreateDeposit(ctx context.Context, req DepositRequest) (*DepositIntent, error)
	// CaptureDeposit is optional: providers that settle purely via webhook
	// return ErrNotSupported.
	CaptureDeposit(ctx context.Context, providerRef string) (*CaptureResult, error)
	Payout(ctx context.Context, req PayoutRequest) (*PayoutReceipt, error)
}
