package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/fantasyfusion/backend/internal/models"
	"github.com/fantasyfusion/backend/internal/providers"
)

func newPaymentsFixture(t *testing.T, providerMap map[string]providers.PaymentProvider) (*PaymentsService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	ledger := NewLedgerService(db)
	txlog := NewTransactionLog(db)
	return NewPaymentsService(ledger, txlog, providerMap), mock, func() { db.Close() }
}

// expectWalletAdjust scripts the locked wallet read-modify-write that runs
// inside an already-open transaction.
func expectWalletAdjust(mock sqlmock.Sqlmock, userID, currentCents, newCents int64) {
	mock.ExpectQuery("SELECT user_id, balance_cents, updated_at FROM wallets WHERE user_id = \\$1 FOR UPDATE").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance_cents", "updated_at"}).
			AddRow(userID, currentCents, time.Now()))
	mock.ExpectExec("UPDATE wallets SET balance_cents = \\$1, updated_at = \\$2 WHERE user_id = \\$3").
		WithArgs(newCents, sqlmock.AnyArg(), userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

// expectBalanceAdjust scripts a standalone wallet adjustment with its own
// begin and commit.
func expectBalanceAdjust(mock sqlmock.Sqlmock, userID, currentCents, newCents int64) {
	mock.ExpectBegin()
	expectWalletAdjust(mock, userID, currentCents, newCents)
	mock.ExpectCommit()
}

// expectLockedTxRow scripts the FOR UPDATE read that opens a settlement.
func expectLockedTxRow(mock sqlmock.Sqlmock, provider, ref string, id, userID, amount int64, txType models.TxType, status models.TxStatus) {
	mock.ExpectQuery("SELECT (.+) FROM transactions WHERE provider = \\$1 AND provider_ref = \\$2 FOR UPDATE").
		WithArgs(provider, ref).
		WillReturnRows(sqlmock.NewRows(txTestColumns).
			AddRow(id, userID, nil, txType, provider, amount, "KES", status, ref, nil, nil,
				time.Now(), time.Now()))
}

func expectTxRowByRef(mock sqlmock.Sqlmock, provider, ref string, id, userID, amount int64, txType models.TxType, status models.TxStatus) {
	mock.ExpectQuery("SELECT (.+) FROM transactions WHERE provider = \\$1 AND provider_ref = \\$2").
		WithArgs(provider, ref).
		WillReturnRows(sqlmock.NewRows(txTestColumns).
			AddRow(id, userID, nil, txType, provider, amount, "KES", status, ref, nil, nil,
				time.Now(), time.Now()))
}

func TestPaymentsService_InitDeposit(t *testing.T) {
	t.Run("records pending and stores the provider ref", func(t *testing.T) {
		stripe := &stubProvider{name: models.ProviderStripe, ref: "pi_test_123"}
		svc, mock, closeFn := newPaymentsFixture(t, map[string]providers.PaymentProvider{
			models.ProviderStripe: stripe,
		})
		defer closeFn()

		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(201)))
		mock.ExpectExec("UPDATE transactions SET provider_ref = \\$1, updated_at = \\$2 WHERE id = \\$3").
			WithArgs("pi_test_123", sqlmock.AnyArg(), int64(201)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		tx, intent, err := svc.InitDeposit(context.Background(), 7, 50000, "KES", models.ProviderStripe, "", "dep-key-1")
		assert.NoError(t, err)
		assert.Equal(t, models.TxPending, tx.Status)
		assert.Equal(t, "pi_test_123", *tx.ProviderRef)
		assert.Equal(t, "pi_test_123", intent.ProviderRef)
		assert.Equal(t, 1, stripe.depositCalls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown provider", func(t *testing.T) {
		svc, mock, closeFn := newPaymentsFixture(t, map[string]providers.PaymentProvider{})
		defer closeFn()

		_, _, err := svc.InitDeposit(context.Background(), 7, 50000, "KES", "PAYPAL", "", "")
		assert.ErrorIs(t, err, ErrUnknownProvider)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("provider failure leaves the transaction pending without a ref", func(t *testing.T) {
		stripe := &stubProvider{name: models.ProviderStripe, depositErr: errors.New("gateway timeout")}
		svc, mock, closeFn := newPaymentsFixture(t, map[string]providers.PaymentProvider{
			models.ProviderStripe: stripe,
		})
		defer closeFn()

		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(202)))

		tx, intent, err := svc.InitDeposit(context.Background(), 7, 50000, "KES", models.ProviderStripe, "", "")
		assert.Error(t, err)
		assert.Nil(t, intent)
		assert.Equal(t, models.TxPending, tx.Status)
		assert.Nil(t, tx.ProviderRef)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentsService_DepositSettlement(t *testing.T) {
	t.Run("success credits the stored amount once", func(t *testing.T) {
		svc, mock, closeFn := newPaymentsFixture(t, nil)
		defer closeFn()

		mock.ExpectBegin()
		expectLockedTxRow(mock, models.ProviderStripe, "pi_test_123", 201, 7, 50000, models.TxDeposit, models.TxPending)
		expectWalletAdjust(mock, 7, 0, 50000)
		mock.ExpectExec("UPDATE transactions SET status = \\$1, error = \\$2, updated_at = \\$3 WHERE id = \\$4").
			WithArgs(models.TxSucceeded, nil, sqlmock.AnyArg(), int64(201)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := svc.OnDepositSucceeded(context.Background(), models.ProviderStripe, "pi_test_123", nil)
		assert.NoError(t, err)
		assert.Equal(t, models.TxSucceeded, tx.Status)

		// A duplicate success webhook locks the terminal row and stops there.
		mock.ExpectBegin()
		expectLockedTxRow(mock, models.ProviderStripe, "pi_test_123", 201, 7, 50000, models.TxDeposit, models.TxSucceeded)
		mock.ExpectRollback()

		tx, err = svc.OnDepositSucceeded(context.Background(), models.ProviderStripe, "pi_test_123", nil)
		assert.NoError(t, err)
		assert.Equal(t, models.TxSucceeded, tx.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("status write failure rolls back the credit so the retry settles once", func(t *testing.T) {
		svc, mock, closeFn := newPaymentsFixture(t, nil)
		defer closeFn()

		// First delivery: the credit lands but the status flip dies, so the
		// whole settlement rolls back and the row stays PENDING.
		mock.ExpectBegin()
		expectLockedTxRow(mock, models.ProviderStripe, "pi_test_123", 201, 7, 50000, models.TxDeposit, models.TxPending)
		expectWalletAdjust(mock, 7, 0, 50000)
		mock.ExpectExec("UPDATE transactions SET status = \\$1, error = \\$2, updated_at = \\$3 WHERE id = \\$4").
			WithArgs(models.TxSucceeded, nil, sqlmock.AnyArg(), int64(201)).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		_, err := svc.OnDepositSucceeded(context.Background(), models.ProviderStripe, "pi_test_123", nil)
		assert.Error(t, err)

		// The provider redelivers. The wallet is still at zero because the
		// first credit never committed, so the user ends up with the deposit
		// exactly once.
		mock.ExpectBegin()
		expectLockedTxRow(mock, models.ProviderStripe, "pi_test_123", 201, 7, 50000, models.TxDeposit, models.TxPending)
		expectWalletAdjust(mock, 7, 0, 50000)
		mock.ExpectExec("UPDATE transactions SET status = \\$1, error = \\$2, updated_at = \\$3 WHERE id = \\$4").
			WithArgs(models.TxSucceeded, nil, sqlmock.AnyArg(), int64(201)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := svc.OnDepositSucceeded(context.Background(), models.ProviderStripe, "pi_test_123", nil)
		assert.NoError(t, err)
		assert.Equal(t, models.TxSucceeded, tx.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unmatched reference is acknowledged and ignored", func(t *testing.T) {
		svc, mock, closeFn := newPaymentsFixture(t, nil)
		defer closeFn()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM transactions WHERE provider = \\$1 AND provider_ref = \\$2 FOR UPDATE").
			WithArgs(models.ProviderStripe, "pi_ghost").
			WillReturnRows(sqlmock.NewRows(txTestColumns))
		mock.ExpectRollback()

		tx, err := svc.OnDepositSucceeded(context.Background(), models.ProviderStripe, "pi_ghost", nil)
		assert.NoError(t, err)
		assert.Nil(t, tx)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure never touches the wallet", func(t *testing.T) {
		svc, mock, closeFn := newPaymentsFixture(t, nil)
		defer closeFn()

		mock.ExpectBegin()
		expectLockedTxRow(mock, models.ProviderMpesa, "ws_CO_1", 203, 7, 20000, models.TxDeposit, models.TxPending)
		mock.ExpectExec("UPDATE transactions SET status = \\$1, error = \\$2, updated_at = \\$3 WHERE id = \\$4").
			WithArgs(models.TxFailed, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(203)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := svc.OnDepositFailed(context.Background(), models.ProviderMpesa, "ws_CO_1", "user cancelled")
		assert.NoError(t, err)
		assert.Equal(t, models.TxFailed, tx.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure after success is inert", func(t *testing.T) {
		svc, mock, closeFn := newPaymentsFixture(t, nil)
		defer closeFn()

		mock.ExpectBegin()
		expectLockedTxRow(mock, models.ProviderStripe, "pi_test_123", 201, 7, 50000, models.TxDeposit, models.TxSucceeded)
		mock.ExpectRollback()

		tx, err := svc.OnDepositFailed(context.Background(), models.ProviderStripe, "pi_test_123", "late contradiction")
		assert.NoError(t, err)
		assert.Equal(t, models.TxSucceeded, tx.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentsService_ConfirmDeposit(t *testing.T) {
	t.Run("capture success settles the deposit", func(t *testing.T) {
		stripe := &stubProvider{
			name:    models.ProviderStripe,
			capture: &providers.CaptureResult{ProviderRef: "pi_test_123", Status: providers.CaptureSucceeded},
		}
		svc, mock, closeFn := newPaymentsFixture(t, map[string]providers.PaymentProvider{
			models.ProviderStripe: stripe,
		})
		defer closeFn()

		mock.ExpectBegin()
		expectLockedTxRow(mock, models.ProviderStripe, "pi_test_123", 201, 7, 50000, models.TxDeposit, models.TxPending)
		expectWalletAdjust(mock, 7, 0, 50000)
		mock.ExpectExec("UPDATE transactions SET status = \\$1, error = \\$2, updated_at = \\$3 WHERE id = \\$4").
			WithArgs(models.TxSucceeded, nil, sqlmock.AnyArg(), int64(201)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := svc.ConfirmDeposit(context.Background(), models.ProviderStripe, "pi_test_123")
		assert.NoError(t, err)
		assert.Equal(t, models.TxSucceeded, tx.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("capture still pending returns the transaction untouched", func(t *testing.T) {
		stripe := &stubProvider{name: models.ProviderStripe}
		svc, mock, closeFn := newPaymentsFixture(t, map[string]providers.PaymentProvider{
			models.ProviderStripe: stripe,
		})
		defer closeFn()

		expectTxRowByRef(mock, models.ProviderStripe, "pi_test_123", 201, 7, 50000, models.TxDeposit, models.TxPending)

		tx, err := svc.ConfirmDeposit(context.Background(), models.ProviderStripe, "pi_test_123")
		assert.NoError(t, err)
		assert.Equal(t, models.TxPending, tx.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentsService_Withdraw(t *testing.T) {
	t.Run("holds funds immediately and stays pending", func(t *testing.T) {
		mpesa := &stubProvider{name: models.ProviderMpesa, ref: "AG_conv_1"}
		svc, mock, closeFn := newPaymentsFixture(t, map[string]providers.PaymentProvider{
			models.ProviderMpesa: mpesa,
		})
		defer closeFn()

		expectBalanceAdjust(mock, 7, 8000, 5000)
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(301)))
		mock.ExpectExec("UPDATE transactions SET provider_ref = \\$1, updated_at = \\$2 WHERE id = \\$3").
			WithArgs("AG_conv_1", sqlmock.AnyArg(), int64(301)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		tx, receipt, err := svc.Withdraw(context.Background(), 7, 3000, models.ProviderMpesa, "254712345678", "wd-key-1")
		assert.NoError(t, err)
		assert.Equal(t, models.TxPending, tx.Status)
		assert.Equal(t, "AG_conv_1", receipt.ProviderRef)
		assert.Equal(t, 1, mpesa.payoutCalls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds short-circuits before the provider", func(t *testing.T) {
		mpesa := &stubProvider{name: models.ProviderMpesa, ref: "AG_conv_2"}
		svc, mock, closeFn := newPaymentsFixture(t, map[string]providers.PaymentProvider{
			models.ProviderMpesa: mpesa,
		})
		defer closeFn()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, balance_cents, updated_at FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance_cents", "updated_at"}).
				AddRow(int64(7), int64(2000), time.Now()))
		mock.ExpectRollback()

		_, _, err := svc.Withdraw(context.Background(), 7, 3000, models.ProviderMpesa, "254712345678", "")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, 0, mpesa.payoutCalls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("provider failure reverses the hold", func(t *testing.T) {
		mpesa := &stubProvider{name: models.ProviderMpesa, payoutErr: errors.New("b2c rejected")}
		svc, mock, closeFn := newPaymentsFixture(t, map[string]providers.PaymentProvider{
			models.ProviderMpesa: mpesa,
		})
		defer closeFn()

		expectBalanceAdjust(mock, 7, 8000, 5000)
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(302)))
		expectBalanceAdjust(mock, 7, 5000, 8000)
		mock.ExpectExec("UPDATE transactions SET status = \\$1, error = \\$2, updated_at = \\$3 WHERE id = \\$4").
			WithArgs(models.TxFailed, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(302)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		tx, _, err := svc.Withdraw(context.Background(), 7, 3000, models.ProviderMpesa, "254712345678", "")
		assert.Error(t, err)
		assert.Equal(t, models.TxFailed, tx.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentsService_WithdrawSettlement(t *testing.T) {
	t.Run("success only flips the status", func(t *testing.T) {
		svc, mock, closeFn := newPaymentsFixture(t, nil)
		defer closeFn()

		mock.ExpectBegin()
		expectLockedTxRow(mock, models.ProviderMpesa, "AG_conv_1", 301, 7, 3000, models.TxWithdraw, models.TxPending)
		mock.ExpectExec("UPDATE transactions SET status = \\$1, error = \\$2, updated_at = \\$3 WHERE id = \\$4").
			WithArgs(models.TxSucceeded, nil, sqlmock.AnyArg(), int64(301)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := svc.OnWithdrawSucceeded(context.Background(), models.ProviderMpesa, "AG_conv_1")
		assert.NoError(t, err)
		assert.Equal(t, models.TxSucceeded, tx.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure refunds the hold", func(t *testing.T) {
		svc, mock, closeFn := newPaymentsFixture(t, nil)
		defer closeFn()

		mock.ExpectBegin()
		expectLockedTxRow(mock, models.ProviderMpesa, "AG_conv_1", 301, 7, 3000, models.TxWithdraw, models.TxPending)
		expectWalletAdjust(mock, 7, 5000, 8000)
		mock.ExpectExec("UPDATE transactions SET status = \\$1, error = \\$2, updated_at = \\$3 WHERE id = \\$4").
			WithArgs(models.TxFailed, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(301)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := svc.OnWithdrawFailed(context.Background(), models.ProviderMpesa, "AG_conv_1", "insufficient float")
		assert.NoError(t, err)
		assert.Equal(t, models.TxFailed, tx.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refund rolls back when the status write fails", func(t *testing.T) {
		svc, mock, closeFn := newPaymentsFixture(t, nil)
		defer closeFn()

		// The refund must not survive a lost status flip; otherwise the next
		// delivery would refund the hold a second time.
		mock.ExpectBegin()
		expectLockedTxRow(mock, models.ProviderMpesa, "AG_conv_1", 301, 7, 3000, models.TxWithdraw, models.TxPending)
		expectWalletAdjust(mock, 7, 5000, 8000)
		mock.ExpectExec("UPDATE transactions SET status = \\$1, error = \\$2, updated_at = \\$3 WHERE id = \\$4").
			WithArgs(models.TxFailed, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(301)).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		_, err := svc.OnWithdrawFailed(context.Background(), models.ProviderMpesa, "AG_conv_1", "insufficient float")
		assert.Error(t, err)

		mock.ExpectBegin()
		expectLockedTxRow(mock, models.ProviderMpesa, "AG_conv_1", 301, 7, 3000, models.TxWithdraw, models.TxPending)
		expectWalletAdjust(mock, 7, 5000, 8000)
		mock.ExpectExec("UPDATE transactions SET status = \\$1, error = \\$2, updated_at = \\$3 WHERE id = \\$4").
			WithArgs(models.TxFailed, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(301)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := svc.OnWithdrawFailed(context.Background(), models.ProviderMpesa, "AG_conv_1", "insufficient float")
		assert.NoError(t, err)
		assert.Equal(t, models.TxFailed, tx.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure after success never refunds", func(t *testing.T) {
		svc, mock, closeFn := newPaymentsFixture(t, nil)
		defer closeFn()

		mock.ExpectBegin()
		expectLockedTxRow(mock, models.ProviderMpesa, "AG_conv_1", 301, 7, 3000, models.TxWithdraw, models.TxSucceeded)
		mock.ExpectRollback()

		tx, err := svc.OnWithdrawFailed(context.Background(), models.ProviderMpesa, "AG_conv_1", "stale reversal")
		assert.NoError(t, err)
		assert.Equal(t, models.TxSucceeded, tx.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate failure refunds only once", func(t *testing.T) {
		svc, mock, closeFn := newPaymentsFixture(t, nil)
		defer closeFn()

		mock.ExpectBegin()
		expectLockedTxRow(mock, models.ProviderMpesa, "AG_conv_1", 301, 7, 3000, models.TxWithdraw, models.TxFailed)
		mock.ExpectRollback()

		tx, err := svc.OnWithdrawFailed(context.Background(), models.ProviderMpesa, "AG_conv_1", "retry")
		assert.NoError(t, err)
		assert.Equal(t, models.TxFailed, tx.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentsService_ContributeToLeague(t *testing.T) {
	t.Run("moves funds into the pot minus the house cut", func(t *testing.T) {
		svc, mock, closeFn := newPaymentsFixture(t, nil)
		defer closeFn()

		expectBalanceAdjust(mock, 7, 10000, 4000)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT league_id, pot_cents, house_cents, updated_at FROM league_pots WHERE league_id = \\$1 FOR UPDATE").
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"league_id", "pot_cents", "house_cents", "updated_at"}).
				AddRow(int64(3), int64(0), int64(0), time.Now()))
		mock.ExpectExec("UPDATE league_pots SET pot_cents = \\$1, house_cents = \\$2, updated_at = \\$3 WHERE league_id = \\$4").
			WithArgs(int64(5400), int64(600), sqlmock.AnyArg(), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(401)))

		tx, err := svc.ContributeToLeague(context.Background(), 7, 3, 6000)
		assert.NoError(t, err)
		assert.Equal(t, models.TxSucceeded, tx.Status)
		assert.Equal(t, models.TxLeagueContribution, tx.Type)
		assert.Equal(t, int64(3), *tx.LeagueID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds leaves pot untouched", func(t *testing.T) {
		svc, mock, closeFn := newPaymentsFixture(t, nil)
		defer closeFn()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, balance_cents, updated_at FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance_cents", "updated_at"}).
				AddRow(int64(7), int64(1000), time.Now()))
		mock.ExpectRollback()

		_, err := svc.ContributeToLeague(context.Background(), 7, 3, 6000)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentsService_PayoutWinner(t *testing.T) {
	t.Run("drains the pot into the winner's wallet", func(t *testing.T) {
		svc, mock, closeFn := newPaymentsFixture(t, nil)
		defer closeFn()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT league_id, pot_cents, house_cents, updated_at FROM league_pots WHERE league_id = \\$1 FOR UPDATE").
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"league_id", "pot_cents", "house_cents", "updated_at"}).
				AddRow(int64(3), int64(9000), int64(1000), time.Now()))
		mock.ExpectExec("UPDATE league_pots SET pot_cents = 0, updated_at = \\$1 WHERE league_id = \\$2").
			WithArgs(sqlmock.AnyArg(), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectWalletAdjust(mock, 9, 2000, 11000)
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(402)))
		mock.ExpectCommit()

		tx, err := svc.PayoutWinner(context.Background(), 3, 9)
		assert.NoError(t, err)
		assert.Equal(t, models.TxPayout, tx.Type)
		assert.Equal(t, int64(9000), tx.AmountCents)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed winner credit restores the pot", func(t *testing.T) {
		svc, mock, closeFn := newPaymentsFixture(t, nil)
		defer closeFn()

		// The drain and the credit share one transaction, so a dead credit
		// rolls the drain back instead of leaving the pot zeroed with the
		// winner unpaid.
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT league_id, pot_cents, house_cents, updated_at FROM league_pots WHERE league_id = \\$1 FOR UPDATE").
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"league_id", "pot_cents", "house_cents", "updated_at"}).
				AddRow(int64(3), int64(9000), int64(1000), time.Now()))
		mock.ExpectExec("UPDATE league_pots SET pot_cents = 0, updated_at = \\$1 WHERE league_id = \\$2").
			WithArgs(sqlmock.AnyArg(), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT user_id, balance_cents, updated_at FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(int64(9)).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		_, err := svc.PayoutWinner(context.Background(), 3, 9)
		assert.Error(t, err)

		// A retry sees the full pot again and settles normally.
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT league_id, pot_cents, house_cents, updated_at FROM league_pots WHERE league_id = \\$1 FOR UPDATE").
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"league_id", "pot_cents", "house_cents", "updated_at"}).
				AddRow(int64(3), int64(9000), int64(1000), time.Now()))
		mock.ExpectExec("UPDATE league_pots SET pot_cents = 0, updated_at = \\$1 WHERE league_id = \\$2").
			WithArgs(sqlmock.AnyArg(), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectWalletAdjust(mock, 9, 2000, 11000)
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(402)))
		mock.ExpectCommit()

		tx, err := svc.PayoutWinner(context.Background(), 3, 9)
		assert.NoError(t, err)
		assert.Equal(t, int64(9000), tx.AmountCents)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty pot pays nothing", func(t *testing.T) {
		svc, mock, closeFn := newPaymentsFixture(t, nil)
		defer closeFn()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT league_id, pot_cents, house_cents, updated_at FROM league_pots WHERE league_id = \\$1 FOR UPDATE").
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"league_id", "pot_cents", "house_cents", "updated_at"}).
				AddRow(int64(3), int64(0), int64(1000), time.Now()))
		mock.ExpectRollback()

		_, err := svc.PayoutWinner(context.Background(), 3, 9)
		assert.ErrorIs(t, err, ErrNoPotAvailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentsService_AdjustBalance(t *testing.T) {
	svc, mock, closeFn := newPaymentsFixture(t, nil)
	defer closeFn()

	expectBalanceAdjust(mock, 7, 10000, 7500)
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(403)))

	tx, err := svc.AdjustBalance(context.Background(), 7, -2500, "chargeback settlement")
	assert.NoError(t, err)
	assert.Equal(t, models.TxAdjustment, tx.Type)
	assert.Equal(t, int64(2500), tx.AmountCents)
	assert.Equal(t, models.TxSucceeded, tx.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
