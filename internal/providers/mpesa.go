package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/viper"

	"github.com/fantasyfusion/backend/internal/models"
)

// MpesaProvider integrates Safaricom's Daraja API: STK push for deposits and
// B2C payments for withdrawals. Final state always arrives via the STK and
// B2C result callbacks; CaptureDeposit only polls.
type MpesaProvider struct {
	baseURL            string
	shortCode          string
	passKey            string
	consumerKey        string
	consumerSecret     string
	callbackSTK        string
	callbackB2C        string
	initiatorName      string
	securityCredential string
	commandID          string

	tokens *TokenCache
	client *http.Client
}

func NewMpesaProvider(tokens *TokenCache) *MpesaProvider {
	viper.SetDefault("mpesa.base_url", "https://sandbox.safaricom.co.ke")
	viper.SetDefault("mpesa.command_id", "BusinessPayment")

	return &MpesaProvider{
		baseURL:            viper.GetString("mpesa.base_url"),
		shortCode:          viper.GetString("mpesa.shortcode"),
		passKey:            viper.GetString("mpesa.passkey"),
		consumerKey:        viper.GetString("mpesa.consumer_key"),
		consumerSecret:     viper.GetString("mpesa.consumer_secret"),
		callbackSTK:        viper.GetString("mpesa.callback_url_stk"),
		callbackB2C:        viper.GetString("mpesa.callback_url_b2c"),
		initiatorName:      viper.GetString("mpesa.initiator_name"),
		securityCredential: viper.GetString("mpesa.security_credential"),
		commandID:          viper.GetString("mpesa.command_id"),
		tokens:             tokens,
		client:             &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *MpesaProvider) Name() string {
	return models.ProviderMpesa
}

// CreateDeposit initiates an STK push to the payer's phone. The returned
// CheckoutRequestID is the correlation reference the STK callback echoes.
func (p *MpesaProvider) CreateDeposit(ctx context.Context, req DepositRequest) (*DepositIntent, error) {
	if req.Currency != "KES" {
		return nil, &ProviderError{Provider: p.Name(), Message: "only KES is supported for STK push"}
	}
	if req.Phone == "" {
		return nil, &ProviderError{Provider: p.Name(), Message: "payer phone number required for STK push"}
	}

	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	payload := map[string]any{
		"BusinessShortCode": p.shortCode,
		"Password":          p.stkPassword(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            req.AmountCents / 100, // Daraja wants whole shillings
		"PartyA":            req.Phone,
		"PartyB":            p.shortCode,
		"PhoneNumber":       req.Phone,
		"CallBackURL":       p.callbackSTK,
		"AccountReference":  fmt.Sprintf("user-%d", req.UserID),
		"TransactionDesc":   "Wallet deposit",
	}

	var resp struct {
		CheckoutRequestID string `json:"CheckoutRequestID"`
		MerchantRequestID string `json:"MerchantRequestID"`
		ResponseCode      string `json:"ResponseCode"`
	}
	if err := p.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", token, payload, &resp); err != nil {
		return nil, err
	}
	if resp.CheckoutRequestID == "" {
		return nil, &ProviderError{Provider: p.Name(), Message: "STK push returned no CheckoutRequestID"}
	}

	return &DepositIntent{ProviderRef: resp.CheckoutRequestID, Status: CapturePending}, nil
}

// CaptureDeposit polls the STK query endpoint. The webhook remains the
// source of truth; this only serves reconciliation of stuck PENDING rows.
func (p *MpesaProvider) CaptureDeposit(ctx context.Context, providerRef string) (*CaptureResult, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	payload := map[string]any{
		"BusinessShortCode": p.shortCode,
		"Password":          p.stkPassword(timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": providerRef,
	}

	var resp struct {
		ResultCode string `json:"ResultCode"`
		ResultDesc string `json:"ResultDesc"`
	}
	if err := p.postJSON(ctx, "/mpesa/stkpushquery/v1/query", token, payload, &resp); err != nil {
		return nil, err
	}

	status := CaptureFailed
	switch resp.ResultCode {
	case "0":
		status = CaptureSucceeded
	case "":
		status = CapturePending
	}
	return &CaptureResult{ProviderRef: providerRef, Status: status}, nil
}

// Payout sends a B2C payment to the destination MSISDN. The returned
// ConversationID is the correlation reference echoed by the result callback.
func (p *MpesaProvider) Payout(ctx context.Context, req PayoutRequest) (*PayoutReceipt, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"InitiatorName":      p.initiatorName,
		"SecurityCredential": p.securityCredential,
		"CommandID":          p.commandID,
		"Amount":             req.AmountCents / 100,
		"PartyA":             p.shortCode,
		"PartyB":             req.Destination,
		"Remarks":            "Wallet withdrawal",
		"QueueTimeOutURL":    p.callbackB2C,
		"ResultURL":          p.callbackB2C,
		"Occasion":           "FantasyFusion",
	}

	var resp struct {
		ConversationID string `json:"ConversationID"`
		ResponseCode   string `json:"ResponseCode"`
	}
	if err := p.postJSON(ctx, "/mpesa/b2c/v1/paymentrequest", token, payload, &resp); err != nil {
		return nil, err
	}
	if resp.ConversationID == "" {
		return nil, &ProviderError{Provider: p.Name(), Message: "B2C request returned no ConversationID"}
	}

	return &PayoutReceipt{ProviderRef: resp.ConversationID, Status: "PROCESSING"}, nil
}

// accessToken returns a Daraja OAuth token, cached for just under its
// one-hour lifetime.
func (p *MpesaProvider) accessToken(ctx context.Context) (string, error) {
	return p.tokens.Get(ctx, "mpesa:access_token", 50*time.Minute, func(ctx context.Context) (string, error) {
		url := p.baseURL + "/oauth/v1/generate?grant_type=client_credentials"
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}
		auth := base64.StdEncoding.EncodeToString([]byte(p.consumerKey + ":" + p.consumerSecret))
		httpReq.Header.Set("Authorization", "Basic "+auth)

		httpResp, err := p.client.Do(httpReq)
		if err != nil {
			return "", &ProviderError{Provider: p.Name(), Message: "token request failed", Err: err}
		}
		defer httpResp.Body.Close()
		if httpResp.StatusCode != http.StatusOK {
			return "", &ProviderError{Provider: p.Name(), Message: fmt.Sprintf("token request returned %d", httpResp.StatusCode)}
		}

		var body struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.NewDecoder(httpResp.Body).Decode(&body); err != nil {
			return "", &ProviderError{Provider: p.Name(), Message: "invalid token response", Err: err}
		}
		return body.AccessToken, nil
	})
}

func (p *MpesaProvider) stkPassword(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(p.shortCode + p.passKey + timestamp))
}

func (p *MpesaProvider) postJSON(ctx context.Context, path, token string, payload, out any) error {
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
