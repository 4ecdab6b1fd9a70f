package services

import (
	"context"

	"github.com/fantasyfusion/backend/internal/providers"
)

// stubProvider is a scriptable PaymentProvider for orchestrator tests.
type stubProvider struct {
	name       string
	ref        string
	depositErr error
	payoutErr  error
	capture    *providers.CaptureResult
	captureErr error

	depositCalls int
	payoutCalls  int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) CreateDeposit(ctx context.Context, req providers.DepositRequest) (*providers.DepositIntent, error) {
	p.depositCalls++
	if p.depositErr != nil {
		return nil, p.depositErr
	}
	return &providers.DepositIntent{ProviderRef: p.ref, Status: "PENDING"}, nil
}

func (p *stubProvider) CaptureDeposit(ctx context.Context, providerRef string) (*providers.CaptureResult, error) {
	if p.captureErr != nil {
		return nil, p.captureErr
	}
	if p.capture != nil {
		return p.capture, nil
	}
	return &providers.CaptureResult{ProviderRef: providerRef, Status: providers.CapturePending}, nil
}

func (p *stubProvider) Payout(ctx context.Context, req providers.PayoutRequest) (*providers.PayoutReceipt, error) {
	p.payoutCalls++
	if p.payoutErr != nil {
		return nil, p.payoutErr
	}
	return &providers.PayoutReceipt{ProviderRef: p.ref, Status: "PROCESSING"}, nil
}
