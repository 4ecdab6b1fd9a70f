package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/fantasyfusion/backend/internal/models"
)

// PesapalProvider takes card and mobile wallet deposits through Pesapal's
// hosted checkout: SubmitOrderRequest returns a redirect URL the client
// opens, and the IPN callback settles the transaction. Payouts are a
// separate Pesapal product and are not offered here.
type PesapalProvider struct {
	baseURL         string
	callbackURL     string
	notificationID  string
	consumerKey     string
	consumerSecret  string
	defaultCurrency string

	tokens *TokenCache
	client *http.Client
}

func NewPesapalProvider(tokens *TokenCache) *PesapalProvider {
	viper.SetDefault("pesapal.base_url", "https://cybqa.pesapal.com/pesapalv3")
	viper.SetDefault("pesapal.currency", "KES")

	return &PesapalProvider{
		baseURL:         viper.GetString("pesapal.base_url"),
		callbackURL:     viper.GetString("pesapal.callback_url"),
		notificationID:  viper.GetString("pesapal.ipn_id"),
		consumerKey:     viper.GetString("pesapal.consumer_key"),
		consumerSecret:  viper.GetString("pesapal.consumer_secret"),
		defaultCurrency: viper.GetString("pesapal.currency"),
		tokens:          tokens,
		client:          &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *PesapalProvider) Name() string {
	return models.ProviderPesapal
}

// CreateDeposit registers a hosted checkout order. The order_tracking_id is
// the correlation reference; the redirect_url is handed to the client.
func (p *PesapalProvider) CreateDeposit(ctx context.Context, req DepositRequest) (*DepositIntent, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = p.defaultCurrency
	}
	merchantRef := req.IdempotencyKey
	if merchantRef == "" {
		merchantRef = fmt.Sprintf("dep-%d-%s", req.UserID, uuid.NewString())
	}
	// Pesapal wants major units with decimals.
	amount := decimal.NewFromInt(req.AmountCents).Div(decimal.NewFromInt(100))

	payload := map[string]any{
		"id":              merchantRef,
		"currency":        currency,
		"amount":          amount.InexactFloat64(),
		"description":     "Wallet deposit",
		"callback_url":    p.callbackURL,
		"notification_id": p.notificationID,
		"billing_address": map[string]any{
			"phone_number": req.Phone,
			"country_code": "KE",
			"first_name":   "User",
			"last_name":    fmt.Sprintf("%d", req.UserID),
		},
	}

	var resp struct {
		OrderTrackingID string `json:"order_tracking_id"`
		RedirectURL     string `json:"redirect_url"`
		Error           any    `json:"error"`
	}
	if err := p.postJSON(ctx, "/api/Transactions/SubmitOrderRequest", token, payload, &resp); err != nil {
		return nil, err
	}
	if resp.OrderTrackingID == "" {
		return nil, &ProviderError{Provider: p.Name(), Message: "order registration returned no tracking id"}
	}

	return &DepositIntent{
		ProviderRef: resp.OrderTrackingID,
		CheckoutURL: resp.RedirectURL,
		Status:      CapturePending,
	}, nil
}

// CaptureDeposit queries the payment status for reconciliation polling.
func (p *PesapalProvider) CaptureDeposit(ctx context.Context, providerRef string) (*CaptureResult, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/Transactions/GetTransactionStatus?orderTrackingId=%s", p.baseURL, providerRef)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: "status query failed", Err: err}
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: p.Name(), Message: fmt.Sprintf("status query returned %d", httpResp.StatusCode)}
	}

	var body struct {
		PaymentStatusDescription string `json:"payment_status_description"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&body); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: "invalid status response", Err: err}
	}

	return &CaptureResult{ProviderRef: providerRef, Status: mapPesapalStatus(body.PaymentStatusDescription)}, nil
}

// Payout is not part of Pesapal's checkout product.
func (p *PesapalProvider) Payout(ctx context.Context, req PayoutRequest) (*PayoutReceipt, error) {
	return nil, &ProviderError{Provider: p.Name(), Message: "payouts not enabled", Err: ErrNotSupported}
}

func mapPesapalStatus(status string) string {
	switch status {
	case "COMPLETED", "PAID", "SUCCESS":
		return CaptureSucceeded
	case "FAILED", "CANCELLED", "INVALID", "REVERSED":
		return CaptureFailed
	default:
		return CapturePending
	}
}

func (p *PesapalProvider) accessToken(ctx context.Context) (string, error) {
	return p.tokens.Get(ctx, "pesapal:access_token", 4*time.Minute, func(ctx context.Context) (string, error) {
		payload := map[string]string{
			"consumer_key":    p.consumerKey,
			"consumer_secret": p.consumerSecret,
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/Auth/RequestToken", bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")

		httpResp, err := p.client.Do(httpReq)
		if err != nil {
			return "", &ProviderError{Provider: p.Name(), Message: "token request failed", Err: err}
		}
		defer httpResp.Body.Close()
		if httpResp.StatusCode != http.StatusOK {
			return "", &ProviderError{Provider: p.Name(), Message: fmt.Sprintf("token request returned %d", httpResp.StatusCode)}
		}

		var tokenResp struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(httpResp.Body).Decode(&tokenResp); err != nil {
			return "", &ProviderError{Provider: p.Name(), Message: "invalid token response", Err: err}
		}
		return tokenResp.Token, nil
	})
}

func (p *PesapalProvider) postJSON(ctx context.Context, path, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return &ProviderError{Provider: p.Name(), Message: "request failed", Err: err}
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return &ProviderError{Provider: p.Name(), Message: fmt.Sprintf("%s returned %d", path, httpResp.StatusCode)}
	}
	return json.NewDecoder(httpResp.Body).Decode(out)
}
