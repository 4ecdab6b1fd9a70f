package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"github.com/fantasyfusion/backend/internal/middleware"
	"github.com/fantasyfusion/backend/internal/services"
)

// PaymentsHandler exposes the wallet and league money endpoints. Identity
// comes from the auth middleware; the handler never trusts a user id in the
// request body.
type PaymentsHandler struct {
	payments  *services.PaymentsService
	ledger    *services.LedgerService
	txlog     *services.TransactionLog
	validator *services.ValidationHelper
}

func NewPaymentsHandler(payments *services.PaymentsService, ledger *services.LedgerService, txlog *services.TransactionLog) *PaymentsHandler {
	return &PaymentsHandler{
		payments:  payments,
		ledger:    ledger,
		txlog:     txlog,
		validator: services.NewValidationHelper(),
	}
}

// DepositRequest is the deposit initiation payload.
type DepositRequest struct {
	AmountCents    int64  `json:"amount_cents" validate:"required,gt=0"`
	Currency       string `json:"currency" validate:"omitempty,len=3"`
	Provider       string `json:"provider" validate:"required"`
	Phone          string `json:"phone,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=64"`
}

// DepositResponse carries the created transaction and whatever the client
// needs to continue the provider flow.
type DepositResponse struct {
	TransactionID int64  `json:"transaction_id"`
	Status        string `json:"status"`
	ProviderRef   string `json:"provider_ref,omitempty"`
	CheckoutURL   string `json:"checkout_url,omitempty"`
	ClientSecret  string `json:"client_secret,omitempty"`
	// CheckoutQR is a base64 PNG of the checkout URL for scan-to-pay flows.
	CheckoutQR string `json:"checkout_qr,omitempty"`
}

// WithdrawRequest is the withdrawal payload.
type WithdrawRequest struct {
	AmountCents    int64  `json:"amount_cents" validate:"required,gt=0"`
	Provider       string `json:"provider" validate:"required"`
	Destination    string `json:"destination" validate:"required"`
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=64"`
}

// ContributeRequest is the league contribution payload.
type ContributeRequest struct {
	LeagueID    int64 `json:"league_id" validate:"required,gt=0"`
	AmountCents int64 `json:"amount_cents" validate:"required,gt=0"`
}

// PayoutRequest is the league payout payload.
type PayoutRequest struct {
	LeagueID     int64 `json:"league_id" validate:"required,gt=0"`
	WinnerUserID int64 `json:"winner_user_id" validate:"required,gt=0"`
}

// AdjustBalanceRequest is the operator balance adjustment payload.
type AdjustBalanceRequest struct {
	DeltaCents int64  `json:"delta_cents" validate:"required"`
	Reason     string `json:"reason" validate:"required,max=255"`
}

// GetWallet returns the caller's wallet, creating it on first access.
// @Summary Get wallet
// @Description Returns the authenticated user's wallet balance
// @Tags wallet
// @Produce json
// @Success 200 {object} models.Wallet
// @Router /wallet [get]
func (h *PaymentsHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	wallet, err := h.ledger.GetOrCreateWallet(r.Context(), userID)
	if err != nil {
		log.Printf("[WALLET] Failed to load wallet for user %d: %v", userID, err)
		services.SendErrorResponse(w, "Failed to load wallet", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// ListTransactions returns the caller's transaction history, newest first.
// @Summary List transactions
// @Tags wallet
// @Produce json
// @Param limit query int false "Maximum rows to return"
// @Success 200 {array} models.Transaction
// @Router /wallet/transactions [get]
func (h *PaymentsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := h.txlog.ListByUser(r.Context(), userID, limit)
	if err != nil {
		log.Printf("[WALLET] Failed to list transactions for user %d: %v", userID, err)
		services.SendErrorResponse(w, "Failed to list transactions", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// InitDeposit starts a deposit through the named provider.
// @Summary Initiate a deposit
// @Description Creates a PENDING deposit and returns the provider continuation data
// @Tags wallet
// @Accept json
// @Produce json
// @Param request body DepositRequest true "Deposit request"
// @Success 201 {object} DepositResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /wallet/deposit [post]
func (h *PaymentsHandler) InitDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req DepositRequest
	if !h.decode(w, r, &req) {
		return
	}

	tx, intent, err := h.payments.InitDeposit(r.Context(), userID, req.AmountCents, req.Currency, req.Provider, req.Phone, req.IdempotencyKey)
	if err != nil {
		h.sendPaymentError(w, err)
		return
	}

	resp := DepositResponse{
		TransactionID: tx.ID,
		Status:        string(tx.Status),
	}
	if intent != nil {
		resp.ProviderRef = intent.ProviderRef
		resp.CheckoutURL = intent.CheckoutURL
		resp.ClientSecret = intent.ClientSecret
		if intent.CheckoutURL != "" {
			if png, err := qrcode.Encode(intent.CheckoutURL, qrcode.Medium, 256); err == nil {
				resp.CheckoutQR = base64.StdEncoding.EncodeToString(png)
			}
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ConfirmDeposit drives the capture/poll path for a pending deposit.
// @Summary Confirm a deposit via provider capture
// @Tags wallet
// @Accept json
// @Produce json
// @Success 200 {object} models.Transaction
// @Router /wallet/deposit/confirm [post]
func (h *PaymentsHandler) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider    string `json:"provider" validate:"required"`
		ProviderRef string `json:"provider_ref" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	tx, err := h.payments.ConfirmDeposit(r.Context(), req.Provider, req.ProviderRef)
	if err != nil {
		h.sendPaymentError(w, err)
		return
	}
	if tx == nil {
		services.SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Withdraw holds funds and starts a payout through the named provider.
// @Summary Initiate a withdrawal
// @Description Debits the wallet immediately and initiates a provider payout
// @Tags wallet
// @Accept json
// @Produce json
// @Param request body WithdrawRequest true "Withdraw request"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Router /wallet/withdraw [post]
func (h *PaymentsHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req WithdrawRequest
	if !h.decode(w, r, &req) {
		return
	}

	tx, _, err := h.payments.Withdraw(r.Context(), userID, req.AmountCents, req.Provider, req.Destination, req.IdempotencyKey)
	if err != nil {
		h.sendPaymentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// Contribute moves funds from the caller's wallet into a league pot.
// @Summary Contribute to a league pot
// @Tags leagues
// @Accept json
// @Produce json
// @Param request body ContributeRequest true "Contribution request"
// @Success 201 {object} models.Transaction
// @Failure 402 {object} services.ErrorResponse
// @Router /leagues/contribute [post]
func (h *PaymentsHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req ContributeRequest
	if !h.decode(w, r, &req) {
		return
	}

	tx, err := h.payments.ContributeToLeague(r.Context(), userID, req.LeagueID, req.AmountCents)
	if err != nil {
		h.sendPaymentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// Payout pays the full league pot to the named winner.
// @Summary Pay out a league pot
// @Description Drains the entire pot into the winner's wallet
// @Tags leagues
// @Accept json
// @Produce json
// @Param request body PayoutRequest true "Payout request"
// @Success 201 {object} models.Transaction
// @Failure 409 {object} services.ErrorResponse
// @Router /leagues/payout [post]
func (h *PaymentsHandler) Payout(w http.ResponseWriter, r *http.Request) {
	var req PayoutRequest
	if !h.decode(w, r, &req) {
		return
	}

	tx, err := h.payments.PayoutWinner(r.Context(), req.LeagueID, req.WinnerUserID)
	if err != nil {
		h.sendPaymentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// AdjustBalance is the operator-only manual credit/debit endpoint.
// @Summary Adjust a user's balance
// @Description Operator-only manual wallet adjustment with audit record
// @Tags admin
// @Accept json
// @Produce json
// @Param userID path int true "User ID"
// @Param request body AdjustBalanceRequest true "Adjustment request"
// @Success 200 {object} models.Transaction
// @Router /admin/users/{userID}/balance [patch]
func (h *PaymentsHandler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	targetID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || targetID <= 0 {
		services.SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	var req AdjustBalanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	tx, err := h.payments.AdjustBalance(r.Context(), targetID, req.DeltaCents, req.Reason)
	if err != nil {
		h.sendPaymentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// decode reads, bounds, and validates a JSON request body.
func (h *PaymentsHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func (h *PaymentsHandler) sendPaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInsufficientFunds):
		services.SendErrorResponse(w, "Insufficient funds", http.StatusPaymentRequired, nil)
	case errors.Is(err, services.ErrNoPotAvailable):
		services.SendErrorResponse(w, "No pot available", http.StatusConflict, nil)
	case errors.Is(err, services.ErrDuplicateIdempotencyKey):
		services.SendErrorResponse(w, "Duplicate idempotency key", http.StatusConflict, nil)
	case errors.Is(err, services.ErrUnknownProvider):
		services.SendErrorResponse(w, "Unknown payment provider", http.StatusBadRequest, nil)
	default:
		log.Printf("[WALLET] Payment operation failed: %v", err)
		services.SendErrorResponse(w, "Payment operation failed", http.StatusBadGateway, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
