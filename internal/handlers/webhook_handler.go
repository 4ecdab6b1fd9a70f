package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/fantasyfusion/backend/internal/metrics"
	"github.com/fantasyfusion/backend/internal/models"
	"github.com/fantasyfusion/backend/internal/services"
)

// WebhookVerifier checks the authenticity of a provider callback before it
// is processed. Real signature schemes differ per provider and are injected
// here; PassthroughVerifier accepts everything.
type WebhookVerifier interface {
	Verify(r *http.Request, body []byte) error
}

// PassthroughVerifier accepts every payload.
type PassthroughVerifier struct{}

func (PassthroughVerifier) Verify(r *http.Request, body []byte) error { return nil }

// WebhookHandler normalizes heterogeneous provider callbacks into the
// orchestrator's completion calls. Providers retry aggressively, so every
// matched-or-not payload with a correlation id is acknowledged with 200;
// only payloads missing the correlation id are rejected.
type WebhookHandler struct {
	payments *services.PaymentsService
	verifier WebhookVerifier
}

func NewWebhookHandler(payments *services.PaymentsService, verifier WebhookVerifier) *WebhookHandler {
	if verifier == nil {
		verifier = PassthroughVerifier{}
	}
	return &WebhookHandler{payments: payments, verifier: verifier}
}

// MpesaSTK handles the Daraja STK push result callback (deposit settlement).
// @Summary M-Pesa STK push callback
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Router /webhooks/mpesa/stk [post]
func (h *WebhookHandler) MpesaSTK(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Body struct {
			STKCallback struct {
				CheckoutRequestID string `json:"CheckoutRequestID"`
				ResultCode        int    `json:"ResultCode"`
				ResultDesc        string `json:"ResultDesc"`
			} `json:"stkCallback"`
		} `json:"Body"`
	}
	if !h.decode(w, r, &payload) {
		return
	}

	cb := payload.Body.STKCallback
	if cb.CheckoutRequestID == "" {
		h.reject(w, models.ProviderMpesa, "missing CheckoutRequestID")
		return
	}

	if cb.ResultCode == 0 {
		h.applyDeposit(r, models.ProviderMpesa, cb.CheckoutRequestID, true, "")
	} else {
		h.applyDeposit(r, models.ProviderMpesa, cb.CheckoutRequestID, false,
			"ResultCode "+strconv.Itoa(cb.ResultCode)+": "+cb.ResultDesc)
	}
	h.ack(w)
}

// MpesaB2C handles the Daraja B2C result callback (withdrawal settlement).
// @Summary M-Pesa B2C result callback
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Router /webhooks/mpesa/b2c [post]
func (h *WebhookHandler) MpesaB2C(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Result struct {
			ConversationID string `json:"ConversationID"`
			ResultCode     int    `json:"ResultCode"`
			ResultDesc     string `json:"ResultDesc"`
		} `json:"Result"`
	}
	if !h.decode(w, r, &payload) {
		return
	}

	res := payload.Result
	if res.ConversationID == "" {
		h.reject(w, models.ProviderMpesa, "missing ConversationID")
		return
	}

	if res.ResultCode == 0 {
		h.applyWithdraw(r, models.ProviderMpesa, res.ConversationID, true, "")
	} else {
		h.applyWithdraw(r, models.ProviderMpesa, res.ConversationID, false,
			"ResultCode "+strconv.Itoa(res.ResultCode)+": "+res.ResultDesc)
	}
	h.ack(w)
}

// Stripe handles the Stripe event envelope for both deposits
// (payment_intent.*) and withdrawals (payout.*).
// @Summary Stripe webhook
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Router /webhooks/stripe [post]
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID             string `json:"id"`
				Amount         int64  `json:"amount"`
				AmountReceived int64  `json:"amount_received"`
				LastPaymentErr *struct {
					Message string `json:"message"`
				} `json:"last_payment_error"`
				FailureMessage string `json:"failure_message"`
			} `json:"object"`
		} `json:"data"`
	}
	if !h.decode(w, r, &event) {
		return
	}

	obj := event.Data.Object
	if obj.ID == "" {
		h.reject(w, models.ProviderStripe, "missing object id")
		return
	}

	switch event.Type {
	case "payment_intent.succeeded":
		var reported *int64
		if obj.AmountReceived > 0 {
			reported = &obj.AmountReceived
		}
		tx, err := h.payments.OnDepositSucceeded(r.Context(), models.ProviderStripe, obj.ID, reported)
		h.record(models.ProviderStripe, tx != nil, err)
	case "payment_intent.payment_failed":
		msg := "payment failed"
		if obj.LastPaymentErr != nil && obj.LastPaymentErr.Message != "" {
			msg = obj.LastPaymentErr.Message
		}
		h.applyDeposit(r, models.ProviderStripe, obj.ID, false, msg)
	case "payout.paid", "transfer.paid":
		h.applyWithdraw(r, models.ProviderStripe, obj.ID, true, "")
	case "payout.failed", "transfer.failed":
		msg := "payout failed"
		if obj.FailureMessage != "" {
			msg = obj.FailureMessage
		}
		h.applyWithdraw(r, models.ProviderStripe, obj.ID, false, msg)
	default:
		log.Printf("[WEBHOOK] Ignoring Stripe event type %s", event.Type)
	}
	h.ack(w)
}

// PesapalIPN handles Pesapal's instant payment notification for hosted
// checkout deposits.
// @Summary Pesapal IPN
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Router /webhooks/pesapal [post]
func (h *WebhookHandler) PesapalIPN(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OrderTrackingID string `json:"order_tracking_id"`
		Status          string `json:"status"`
	}
	if !h.decode(w, r, &payload) {
		return
	}

	if payload.OrderTrackingID == "" {
		h.reject(w, models.ProviderPesapal, "missing order_tracking_id")
		return
	}

	switch payload.Status {
	case "COMPLETED", "PAID", "SUCCESS":
		h.applyDeposit(r, models.ProviderPesapal, payload.OrderTrackingID, true, "")
	case "FAILED", "CANCELLED":
		h.applyDeposit(r, models.ProviderPesapal, payload.OrderTrackingID, false, payload.Status)
	default:
		// PENDING or unknown: another notification will follow, or the
		// capture poll resolves it.
		log.Printf("[WEBHOOK] Pesapal IPN for %s in status %s, waiting", payload.OrderTrackingID, payload.Status)
	}
	h.ack(w)
}

// Midtrans handles Snap transaction notifications for hosted checkout
// deposits.
// @Summary Midtrans notification
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Router /webhooks/midtrans [post]
func (h *WebhookHandler) Midtrans(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TransactionStatus string `json:"transaction_status"`
		OrderID           string `json:"order_id"`
		FraudStatus       string `json:"fraud_status"`
		StatusMessage     string `json:"status_message"`
	}
	if !h.decode(w, r, &payload) {
		return
	}

	if payload.OrderID == "" {
		h.reject(w, models.ProviderMidtrans, "missing order_id")
		return
	}

	switch payload.TransactionStatus {
	case "settlement":
		h.applyDeposit(r, models.ProviderMidtrans, payload.OrderID, true, "")
	case "capture":
		if payload.FraudStatus == "accept" {
			h.applyDeposit(r, models.ProviderMidtrans, payload.OrderID, true, "")
		} else {
			log.Printf("[WEBHOOK] Midtrans order %s capture under fraud review", payload.OrderID)
		}
	case "deny", "cancel", "expire", "failure":
		msg := payload.TransactionStatus
		if payload.StatusMessage != "" {
			msg = payload.StatusMessage
		}
		h.applyDeposit(r, models.ProviderMidtrans, payload.OrderID, false, msg)
	default:
		log.Printf("[WEBHOOK] Midtrans order %s pending (%s)", payload.OrderID, payload.TransactionStatus)
	}
	h.ack(w)
}

func (h *WebhookHandler) applyDeposit(r *http.Request, provider, ref string, success bool, errMsg string) {
	var (
		tx  *models.Transaction
		err error
	)
	if success {
		tx, err = h.payments.OnDepositSucceeded(r.Context(), provider, ref, nil)
	} else {
		tx, err = h.payments.OnDepositFailed(r.Context(), provider, ref, errMsg)
	}
	h.record(provider, tx != nil, err)
}

func (h *WebhookHandler) applyWithdraw(r *http.Request, provider, ref string, success bool, errMsg string) {
	var (
		tx  *models.Transaction
		err error
	)
	if success {
		tx, err = h.payments.OnWithdrawSucceeded(r.Context(), provider, ref)
	} else {
		tx, err = h.payments.OnWithdrawFailed(r.Context(), provider, ref, errMsg)
	}
	h.record(provider, tx != nil, err)
}

func (h *WebhookHandler) record(provider string, matched bool, err error) {
	outcome := "applied"
	switch {
	case err != nil:
		outcome = "error"
		log.Printf("[WEBHOOK] %s completion failed: %v", provider, err)
	case !matched:
		outcome = "unmatched"
	}
	metrics.WebhookEventsTotal.WithLabelValues(provider, outcome).Inc()
}

// decode reads the raw body (for the verifier), then unmarshals it.
func (h *WebhookHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		services.SendErrorResponse(w, "Unable to read body", http.StatusBadRequest, nil)
		return false
	}
	if err := h.verifier.Verify(r, body); err != nil {
		log.Printf("[WEBHOOK] Signature verification failed: %v", err)
		services.SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		services.SendErrorResponse(w, "Invalid JSON", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func (h *WebhookHandler) reject(w http.ResponseWriter, provider, reason string) {
	log.Printf("[WEBHOOK] Rejected %s payload: %s", provider, reason)
	metrics.WebhookEventsTotal.WithLabelValues(provider, "rejected").Inc()
	services.SendErrorResponse(w, reason, http.StatusBadRequest, nil)
}

func (h *WebhookHandler) ack(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
