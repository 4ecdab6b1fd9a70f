package providers

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/transfer"

	"github.com/fantasyfusion/backend/internal/models"
)

// StripeProvider handles card deposits via PaymentIntents and, when Connect
// mode is enabled, withdrawals via Transfers to connected accounts. Metadata
// on each intent lets the webhook correlate events back to a transaction.
type StripeProvider struct {
	connectMode bool
}

func NewStripeProvider() *StripeProvider {
	stripe.Key = viper.GetString("stripe.secret_key")
	return &StripeProvider{
		connectMode: viper.GetBool("stripe.connect"),
	}
}

func (p *StripeProvider) Name() string {
	return models.ProviderStripe
}

// CreateDeposit creates a PaymentIntent. The intent id is the correlation
// reference and the client secret is returned so the client can confirm the
// payment with card details.
func (p *StripeProvider) CreateDeposit(ctx context.Context, req DepositRequest) (*DepositIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	params.AddMetadata("app_user_id", strconv.FormatInt(req.UserID, 10))
	params.AddMetadata("app_kind", "wallet_deposit")
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: "payment intent creation failed", Err: err}
	}

	return &DepositIntent{
		ProviderRef:  pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}, nil
}

// CaptureDeposit captures a manually-captured PaymentIntent.
func (p *StripeProvider) CaptureDeposit(ctx context.Context, providerRef string) (*CaptureResult, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx

	pi, err := paymentintent.Capture(providerRef, params)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: "capture failed", Err: err}
	}

	status := CapturePending
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = CaptureSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = CaptureFailed
	}
	return &CaptureResult{ProviderRef: pi.ID, Status: status}, nil
}

// Payout transfers funds to the user's connected account. Requires Connect
// mode; without it Stripe cannot send money to a user.
func (p *StripeProvider) Payout(ctx context.Context, req PayoutRequest) (*PayoutReceipt, error) {
	if !p.connectMode {
		return nil, &ProviderError{Provider: p.Name(), Message: "payouts require Stripe Connect", Err: ErrNotSupported}
	}

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(strings.ToLower(viper.GetString("payments.default_currency"))),
		Destination: stripe.String(req.Destination),
	}
	params.Context = ctx
	params.AddMetadata("app_user_id", strconv.FormatInt(req.UserID, 10))
	params.AddMetadata("app_kind", "wallet_withdrawal")
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}

	tr, err := transfer.New(params)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: "transfer failed", Err: err}
	}

	return &PayoutReceipt{ProviderRef: tr.ID, Status: "TRANSFER_CREATED"}, nil
}
