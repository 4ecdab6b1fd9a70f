package providers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/spf13/viper"

	"github.com/fantasyfusion/backend/internal/models"
)

// MidtransProvider takes deposits through Midtrans Snap hosted checkout.
// The order id we generate is the correlation reference: Snap has no
// server-side id of its own, and the notification webhook echoes order_id.
type MidtransProvider struct {
	snap snap.Client
	core coreapi.Client
}

func NewMidtransProvider() *MidtransProvider {
	serverKey := viper.GetString("midtrans.server_key")
	env := midtrans.Sandbox
	if viper.GetString("midtrans.environment") == "production" {
		env = midtrans.Production
	}

	p := &MidtransProvider{}
	p.snap.New(serverKey, env)
	p.core.New(serverKey, env)
	return p
}

func (p *MidtransProvider) Name() string {
	return models.ProviderMidtrans
}

// CreateDeposit creates a Snap transaction and returns its hosted payment
// page URL.
func (p *MidtransProvider) CreateDeposit(ctx context.Context, req DepositRequest) (*DepositIntent, error) {
	orderID := req.IdempotencyKey
	if orderID == "" {
		orderID = fmt.Sprintf("dep-%d-%s", req.UserID, uuid.NewString())
	}

	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  orderID,
			GrossAmt: req.AmountCents / 100,
		},
	}
	if req.Phone != "" {
		snapReq.CustomerDetail = &midtrans.CustomerDetails{Phone: req.Phone}
	}

	resp, err := p.snap.CreateTransaction(snapReq)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: "snap transaction failed", Err: err}
	}

	return &DepositIntent{
		ProviderRef: orderID,
		CheckoutURL: resp.RedirectURL,
		Status:      CapturePending,
	}, nil
}

// CaptureDeposit queries the transaction status by order id.
func (p *MidtransProvider) CaptureDeposit(ctx context.Context, providerRef string) (*CaptureResult, error) {
	resp, err := p.core.CheckTransaction(providerRef)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: "status check failed", Err: err}
	}

	status := CapturePending
	switch resp.TransactionStatus {
	case "settlement":
		status = CaptureSucceeded
	case "capture":
		if resp.FraudStatus == "accept" {
			status = CaptureSucceeded
		}
	case "deny", "cancel", "expire", "failure":
		status = CaptureFailed
	}
	return &CaptureResult{ProviderRef: providerRef, Status: status}, nil
}

// Payout is not offered: Midtrans disbursements (Iris) are a separate product.
func (p *MidtransProvider) Payout(ctx context.Context, req PayoutRequest) (*PayoutReceipt, error) {
	return nil, &ProviderError{Provider: p.Name(), Message: "payouts not enabled", Err: ErrNotSupported}
}
