package services

import (
	"context"
	"database/sql"
	"log"

	"github.com/spf13/viper"

	"github.com/fantasyfusion/backend/internal/metrics"
	"github.com/fantasyfusion/backend/internal/models"
	"github.com/fantasyfusion/backend/internal/providers"
)

// PaymentsService coordinates the ledger, the transaction log, and the
// provider adapters. Provider calls happen outside any row lock: the ledger
// serializes per wallet/pot on its own, and final deposit/withdraw state
// arrives via the On* completion handlers invoked by webhook ingestion.
// Each completion handler runs the transaction-row lock, the ledger
// mutation, and the terminal status flip inside one database transaction,
// so a duplicate delivery either waits on the row lock and sees the
// terminal state, or the whole settlement rolls back and stays PENDING.
type PaymentsService struct {
	db              *sql.DB
	ledger          *LedgerService
	txlog           *TransactionLog
	providers       map[string]providers.PaymentProvider
	houseCutBps     int64
	defaultCurrency string
}

func NewPaymentsService(ledger *LedgerService, txlog *TransactionLog, providerMap map[string]providers.PaymentProvider) *PaymentsService {
	viper.SetDefault("payments.house_cut_bps", 1000)
	viper.SetDefault("payments.default_currency", "KES")

	return &PaymentsService{
		db:              ledger.db,
		ledger:          ledger,
		txlog:           txlog,
		providers:       providerMap,
		houseCutBps:     viper.GetInt64("payments.house_cut_bps"),
		defaultCurrency: viper.GetString("payments.default_currency"),
	}
}

// HouseCutBps returns the configured house fee in basis points.
func (s *PaymentsService) HouseCutBps() int64 {
	return s.houseCutBps
}

// InitDeposit records a PENDING DEPOSIT and asks the provider for a
// correlation reference. The wallet is never touched here: deposits only
// credit on confirmed success. If the provider call fails, the transaction
// stays PENDING without a provider_ref and the error is surfaced.
func (s *PaymentsService) InitDeposit(ctx context.Context, userID, amountCents int64, currency, provider, phone, idempotencyKey string) (*models.Transaction, *providers.DepositIntent, error) {
	prov, ok := s.providers[provider]
	if !ok {
		return nil, nil, ErrUnknownProvider
	}
	if currency == "" {
		currency = s.defaultCurrency
	}

	tx := &models.Transaction{
		UserID:         userID,
		Type:           models.TxDeposit,
		Provider:       &provider,
		AmountCents:    amountCents,
		Currency:       currency,
		Status:         models.TxPending,
		IdempotencyKey: optString(idempotencyKey),
	}
	tx, err := s.txlog.Create(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	metrics.TransactionsTotal.WithLabelValues(string(models.TxDeposit), string(models.TxPending)).Inc()

	intent, err := prov.CreateDeposit(ctx, providers.DepositRequest{
		UserID:         userID,
		AmountCents:    amountCents,
		Currency:       currency,
		Phone:          phone,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		log.Printf("[PAYMENTS] Deposit init via %s failed for tx %d: %v", provider, tx.ID, err)
		return tx, nil, err
	}

	if err := s.txlog.SetProviderRef(ctx, tx, intent.ProviderRef); err != nil {
		return tx, intent, err
	}
	log.Printf("[PAYMENTS] Deposit tx %d initiated via %s, ref %s", tx.ID, provider, intent.ProviderRef)
	return tx, intent, nil
}

// OnDepositSucceeded credits the wallet for the stored amount and marks the
// transaction SUCCEEDED, both in one committed database transaction.
// Unmatched references are logged and ignored; already-terminal
// transactions are returned unchanged, so duplicate and stale webhooks are
// harmless. reportedCents, when the provider supplies one, is compared
// against the stored amount for logging only: the stored amount is
// authoritative for the ledger.
func (s *PaymentsService) OnDepositSucceeded(ctx context.Context, provider, providerRef string, reportedCents *int64) (*models.Transaction, error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer dbtx.Rollback()

	tx, err := s.txlog.lockByProviderRef(ctx, dbtx, provider, providerRef)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		log.Printf("[PAYMENTS] Deposit success for unknown ref %s/%s ignored", provider, providerRef)
		return nil, nil
	}
	if tx.Status.Terminal() {
		return tx, nil
	}
	if reportedCents != nil && *reportedCents != tx.AmountCents {
		log.Printf("[PAYMENTS] Deposit tx %d amount mismatch: provider reported %d, stored %d", tx.ID, *reportedCents, tx.AmountCents)
	}

	if _, err := s.ledger.adjustBalanceIn(ctx, dbtx, tx.UserID, tx.AmountCents); err != nil {
		return nil, err
	}
	if err := s.txlog.setStatus(ctx, dbtx, tx, models.TxSucceeded, nil); err != nil {
		return nil, err
	}
	if err := dbtx.Commit(); err != nil {
		return nil, err
	}
	metrics.TransactionsTotal.WithLabelValues(string(models.TxDeposit), string(models.TxSucceeded)).Inc()
	log.Printf("[PAYMENTS] Deposit tx %d succeeded, credited %d to user %d", tx.ID, tx.AmountCents, tx.UserID)
	return tx, nil
}

// OnDepositFailed marks the transaction FAILED. No wallet mutation: none had
// occurred. A late failure after success never undoes the credit.
func (s *PaymentsService) OnDepositFailed(ctx context.Context, provider, providerRef string, errMsg string) (*models.Transaction, error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer dbtx.Rollback()

	tx, err := s.txlog.lockByProviderRef(ctx, dbtx, provider, providerRef)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		log.Printf("[PAYMENTS] Deposit failure for unknown ref %s/%s ignored", provider, providerRef)
		return nil, nil
	}
	if tx.Status.Terminal() {
		return tx, nil
	}

	if err := s.txlog.setStatus(ctx, dbtx, tx, models.TxFailed, optString(errMsg)); err != nil {
		return nil, err
	}
	if err := dbtx.Commit(); err != nil {
		return nil, err
	}
	metrics.TransactionsTotal.WithLabelValues(string(models.TxDeposit), string(models.TxFailed)).Inc()
	return tx, nil
}

// ConfirmDeposit drives the explicit capture/poll path for providers that
// support it, then applies the reported outcome through the regular
// completion handlers. The webhook remains the preferred settlement path.
func (s *PaymentsService) ConfirmDeposit(ctx context.Context, provider, providerRef string) (*models.Transaction, error) {
	prov, ok := s.providers[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}

	result, err := prov.CaptureDeposit(ctx, providerRef)
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case providers.CaptureSucceeded:
		return s.OnDepositSucceeded(ctx, provider, providerRef, nil)
	case providers.CaptureFailed:
		return s.OnDepositFailed(ctx, provider, providerRef, "capture reported failure")
	default:
		return s.txlog.FindByProviderRef(ctx, provider, providerRef)
	}
}

// Withdraw debits the wallet immediately (the hold), records a PENDING
// WITHDRAW, and asks the provider for a payout. If the provider call fails
// the hold is reversed before the error is surfaced; if it succeeds the
// transaction stays PENDING until the provider's result webhook.
func (s *PaymentsService) Withdraw(ctx context.Context, userID, amountCents int64, provider, destination, idempotencyKey string) (*models.Transaction, *providers.PayoutReceipt, error) {
	prov, ok := s.providers[provider]
	if !ok {
		return nil, nil, ErrUnknownProvider
	}

	if _, err := s.ledger.AdjustBalance(ctx, userID, -amountCents); err != nil {
		return nil, nil, err
	}

	tx := &models.Transaction{
		UserID:         userID,
		Type:           models.TxWithdraw,
		Provider:       &provider,
		AmountCents:    amountCents,
		Currency:       s.defaultCurrency,
		Status:         models.TxPending,
		IdempotencyKey: optString(idempotencyKey),
	}
	tx, err := s.txlog.Create(ctx, tx)
	if err != nil {
		s.reverseHold(ctx, userID, amountCents, 0)
		return nil, nil, err
	}
	metrics.TransactionsTotal.WithLabelValues(string(models.TxWithdraw), string(models.TxPending)).Inc()

	receipt, err := prov.Payout(ctx, providers.PayoutRequest{
		UserID:         userID,
		AmountCents:    amountCents,
		Destination:    destination,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		s.reverseHold(ctx, userID, amountCents, tx.ID)
		msg := err.Error()
		if serr := s.txlog.SetStatus(ctx, tx, models.TxFailed, &msg); serr != nil {
			log.Printf("[PAYMENTS] Could not mark withdraw tx %d failed: %v", tx.ID, serr)
		}
		metrics.TransactionsTotal.WithLabelValues(string(models.TxWithdraw), string(models.TxFailed)).Inc()
		return tx, nil, err
	}

	if err := s.txlog.SetProviderRef(ctx, tx, receipt.ProviderRef); err != nil {
		return tx, receipt, err
	}
	log.Printf("[PAYMENTS] Withdraw tx %d held %d from user %d, ref %s", tx.ID, amountCents, userID, receipt.ProviderRef)
	return tx, receipt, nil
}

// OnWithdrawSucceeded marks the withdrawal SUCCEEDED. No wallet mutation:
// funds were already held at withdraw time.
func (s *PaymentsService) OnWithdrawSucceeded(ctx context.Context, provider, providerRef string) (*models.Transaction, error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer dbtx.Rollback()

	tx, err := s.txlog.lockByProviderRef(ctx, dbtx, provider, providerRef)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		log.Printf("[PAYMENTS] Withdraw success for unknown ref %s/%s ignored", provider, providerRef)
		return nil, nil
	}
	if tx.Status.Terminal() {
		return tx, nil
	}

	if err := s.txlog.setStatus(ctx, dbtx, tx, models.TxSucceeded, nil); err != nil {
		return nil, err
	}
	if err := dbtx.Commit(); err != nil {
		return nil, err
	}
	metrics.TransactionsTotal.WithLabelValues(string(models.TxWithdraw), string(models.TxSucceeded)).Inc()
	return tx, nil
}

// OnWithdrawFailed refunds the held amount and marks the withdrawal FAILED.
// Once a withdrawal has succeeded a later failure signal is returned
// unchanged: the money left through the provider, a refund here would pay
// the user twice. Duplicate failure signals are equally inert.
func (s *PaymentsService) OnWithdrawFailed(ctx context.Context, provider, providerRef string, errMsg string) (*models.Transaction, error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer dbtx.Rollback()

	tx, err := s.txlog.lockByProviderRef(ctx, dbtx, provider, providerRef)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		log.Printf("[PAYMENTS] Withdraw failure for unknown ref %s/%s ignored", provider, providerRef)
		return nil, nil
	}
	if tx.Status.Terminal() {
		return tx, nil
	}

	if _, err := s.ledger.adjustBalanceIn(ctx, dbtx, tx.UserID, tx.AmountCents); err != nil {
		return nil, err
	}
	if err := s.txlog.setStatus(ctx, dbtx, tx, models.TxFailed, optString(errMsg)); err != nil {
		return nil, err
	}
	if err := dbtx.Commit(); err != nil {
		return nil, err
	}
	metrics.TransactionsTotal.WithLabelValues(string(models.TxWithdraw), string(models.TxFailed)).Inc()
	log.Printf("[PAYMENTS] Withdraw tx %d failed, refunded %d to user %d", tx.ID, tx.AmountCents, tx.UserID)
	return tx, nil
}

// ContributeToLeague moves amountCents from the user's wallet into the
// league pot, skimming the house cut, and records a SUCCEEDED contribution.
// Fully synchronous: no provider, no PENDING state.
func (s *PaymentsService) ContributeToLeague(ctx context.Context, userID, leagueID, amountCents int64) (*models.Transaction, error) {
	if _, err := s.ledger.AdjustBalance(ctx, userID, -amountCents); err != nil {
		return nil, err
	}

	if _, err := s.ledger.AdjustPot(ctx, leagueID, amountCents, s.houseCutBps); err != nil {
		s.reverseHold(ctx, userID, amountCents, 0)
		return nil, err
	}

	tx := &models.Transaction{
		UserID:      userID,
		LeagueID:    &leagueID,
		Type:        models.TxLeagueContribution,
		AmountCents: amountCents,
		Currency:    s.defaultCurrency,
		Status:      models.TxSucceeded,
	}
	tx, err := s.txlog.Create(ctx, tx)
	if err != nil {
		return nil, err
	}
	metrics.TransactionsTotal.WithLabelValues(string(models.TxLeagueContribution), string(models.TxSucceeded)).Inc()
	return tx, nil
}

// PayoutWinner drains the entire league pot into the winner's wallet and
// records a SUCCEEDED PAYOUT for the drained amount, all in one database
// transaction: a failed credit rolls the drain back and the pot is intact.
// Winner-take-all: the house fee was skimmed at contribution time and is
// never revisited here.
func (s *PaymentsService) PayoutWinner(ctx context.Context, leagueID, winnerUserID int64) (*models.Transaction, error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer dbtx.Rollback()

	amount, err := s.ledger.drainPotIn(ctx, dbtx, leagueID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.adjustBalanceIn(ctx, dbtx, winnerUserID, amount); err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		UserID:      winnerUserID,
		LeagueID:    &leagueID,
		Type:        models.TxPayout,
		AmountCents: amount,
		Currency:    s.defaultCurrency,
		Status:      models.TxSucceeded,
	}
	tx, err = s.txlog.create(ctx, dbtx, tx)
	if err != nil {
		return nil, err
	}
	if err := dbtx.Commit(); err != nil {
		return nil, err
	}
	metrics.TransactionsTotal.WithLabelValues(string(models.TxPayout), string(models.TxSucceeded)).Inc()
	log.Printf("[PAYMENTS] League %d pot of %d paid to user %d", leagueID, amount, winnerUserID)
	return tx, nil
}

// AdjustBalance is the operator path: credit or debit a wallet directly and
// record a SUCCEEDED ADJUSTMENT for the audit trail.
func (s *PaymentsService) AdjustBalance(ctx context.Context, userID, deltaCents int64, reason string) (*models.Transaction, error) {
	if _, err := s.ledger.AdjustBalance(ctx, userID, deltaCents); err != nil {
		return nil, err
	}

	amount := deltaCents
	if amount < 0 {
		amount = -amount
	}
	tx := &models.Transaction{
		UserID:      userID,
		Type:        models.TxAdjustment,
		AmountCents: amount,
		Currency:    s.defaultCurrency,
		Status:      models.TxSucceeded,
	}
	tx, err := s.txlog.Create(ctx, tx)
	if err != nil {
		return nil, err
	}
	metrics.TransactionsTotal.WithLabelValues(string(models.TxAdjustment), string(models.TxSucceeded)).Inc()
	log.Printf("[PAYMENTS] Manual adjustment of %d for user %d: %s", deltaCents, userID, reason)
	return tx, nil
}

// reverseHold puts previously held funds back. It only increases a balance,
// so a failure is a fatal inconsistency needing operator intervention.
func (s *PaymentsService) reverseHold(ctx context.Context, userID, amountCents, txID int64) {
	if _, err := s.ledger.AdjustBalance(ctx, userID, amountCents); err != nil {
		log.Printf("[PAYMENTS] FATAL: could not reverse hold of %d for user %d (tx %d): %v", amountCents, userID, txID, err)
	}
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
