package providers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// FakeProvider is an in-memory adapter for local development and sandbox
// environments: every call succeeds and returns a fresh reference, and
// settlement is driven manually through the webhook endpoints.
type FakeProvider struct {
	name string
}

func NewFakeProvider(name string) *FakeProvider {
	return &FakeProvider{name: name}
}

func (p *FakeProvider) Name() string {
	return p.name
}

func (p *FakeProvider) CreateDeposit(ctx context.Context, req DepositRequest) (*DepositIntent, error) {
	return &DepositIntent{
		ProviderRef: fmt.Sprintf("%s-%s", p.name, uuid.NewString()),
		Status:      CapturePending,
	}, nil
}

func (p *FakeProvider) CaptureDeposit(ctx context.Context, providerRef string) (*CaptureResult, error) {
	return &CaptureResult{ProviderRef: providerRef, Status: CaptureSucceeded}, nil
}

func (p *FakeProvider) Payout(ctx context.Context, req PayoutRequest) (*PayoutReceipt, error) {
	return &PayoutReceipt{
		ProviderRef: fmt.Sprintf("%s-payout-%s", p.name, uuid.NewString()),
	}, nil
}
