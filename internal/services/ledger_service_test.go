package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestLedgerService_AdjustBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewLedgerService(db)
	ctx := context.Background()

	t.Run("credit existing wallet", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, balance_cents, updated_at FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance_cents", "updated_at"}).
				AddRow(int64(7), int64(8000), time.Now()))
		mock.ExpectExec("UPDATE wallets SET balance_cents = \\$1, updated_at = \\$2 WHERE user_id = \\$3").
			WithArgs(int64(13000), sqlmock.AnyArg(), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		wallet, err := ledger.AdjustBalance(ctx, 7, 5000)
		assert.NoError(t, err)
		assert.Equal(t, int64(13000), wallet.BalanceCents)
	})

	t.Run("debit below zero is rejected", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, balance_cents, updated_at FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance_cents", "updated_at"}).
				AddRow(int64(7), int64(2000), time.Now()))
		mock.ExpectRollback()

		wallet, err := ledger.AdjustBalance(ctx, 7, -2001)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Nil(t, wallet)
	})

	t.Run("debit to exactly zero is allowed", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, balance_cents, updated_at FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance_cents", "updated_at"}).
				AddRow(int64(7), int64(2000), time.Now()))
		mock.ExpectExec("UPDATE wallets SET balance_cents = \\$1, updated_at = \\$2 WHERE user_id = \\$3").
			WithArgs(int64(0), sqlmock.AnyArg(), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		wallet, err := ledger.AdjustBalance(ctx, 7, -2000)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), wallet.BalanceCents)
	})

	t.Run("first touch creates a zero wallet before crediting", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, balance_cents, updated_at FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance_cents", "updated_at"}))
		mock.ExpectExec("INSERT INTO wallets \\(user_id, balance_cents, updated_at\\) VALUES \\(\\$1, 0, \\$2\\)").
			WithArgs(int64(42), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE wallets SET balance_cents = \\$1, updated_at = \\$2 WHERE user_id = \\$3").
			WithArgs(int64(500), sqlmock.AnyArg(), int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		wallet, err := ledger.AdjustBalance(ctx, 42, 500)
		assert.NoError(t, err)
		assert.Equal(t, int64(500), wallet.BalanceCents)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_AdjustPot(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewLedgerService(db)
	ctx := context.Background()

	t.Run("contribution splits house cut with integer floor", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT league_id, pot_cents, house_cents, updated_at FROM league_pots WHERE league_id = \\$1 FOR UPDATE").
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"league_id", "pot_cents", "house_cents", "updated_at"}).
				AddRow(int64(3), int64(0), int64(0), time.Now()))
		mock.ExpectExec("UPDATE league_pots SET pot_cents = \\$1, house_cents = \\$2, updated_at = \\$3 WHERE league_id = \\$4").
			WithArgs(int64(5400), int64(600), sqlmock.AnyArg(), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		// 6000 at 1000 bps: house takes 600, pool keeps 5400.
		pot, err := ledger.AdjustPot(ctx, 3, 6000, 1000)
		assert.NoError(t, err)
		assert.Equal(t, int64(5400), pot.PotCents)
		assert.Equal(t, int64(600), pot.HouseCents)
	})

	t.Run("odd amount floors the house cut", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT league_id, pot_cents, house_cents, updated_at FROM league_pots WHERE league_id = \\$1 FOR UPDATE").
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"league_id", "pot_cents", "house_cents", "updated_at"}).
				AddRow(int64(3), int64(0), int64(0), time.Now()))
		mock.ExpectExec("UPDATE league_pots SET pot_cents = \\$1, house_cents = \\$2, updated_at = \\$3 WHERE league_id = \\$4").
			WithArgs(int64(90), int64(9), sqlmock.AnyArg(), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		// 99 at 1000 bps: floor(99*1000/10000) = 9, pool gets 90.
		pot, err := ledger.AdjustPot(ctx, 3, 99, 1000)
		assert.NoError(t, err)
		assert.Equal(t, int64(90), pot.PotCents)
		assert.Equal(t, int64(9), pot.HouseCents)
	})

	t.Run("negative delta below pool is rejected", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT league_id, pot_cents, house_cents, updated_at FROM league_pots WHERE league_id = \\$1 FOR UPDATE").
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"league_id", "pot_cents", "house_cents", "updated_at"}).
				AddRow(int64(3), int64(1000), int64(100), time.Now()))
		mock.ExpectRollback()

		pot, err := ledger.AdjustPot(ctx, 3, -1500, 1000)
		assert.ErrorIs(t, err, ErrNegativePot)
		assert.Nil(t, pot)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_DrainPot(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewLedgerService(db)
	ctx := context.Background()

	t.Run("drains the pool and zeroes it", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT league_id, pot_cents, house_cents, updated_at FROM league_pots WHERE league_id = \\$1 FOR UPDATE").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"league_id", "pot_cents", "house_cents", "updated_at"}).
				AddRow(int64(5), int64(9000), int64(1000), time.Now()))
		mock.ExpectExec("UPDATE league_pots SET pot_cents = 0, updated_at = \\$1 WHERE league_id = \\$2").
			WithArgs(sqlmock.AnyArg(), int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		amount, err := ledger.DrainPot(ctx, 5)
		assert.NoError(t, err)
		assert.Equal(t, int64(9000), amount)
	})

	t.Run("missing pot", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT league_id, pot_cents, house_cents, updated_at FROM league_pots WHERE league_id = \\$1 FOR UPDATE").
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"league_id", "pot_cents", "house_cents", "updated_at"}))
		mock.ExpectRollback()

		_, err := ledger.DrainPot(ctx, 99)
		assert.ErrorIs(t, err, ErrNoPotAvailable)
	})

	t.Run("empty pot", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT league_id, pot_cents, house_cents, updated_at FROM league_pots WHERE league_id = \\$1 FOR UPDATE").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"league_id", "pot_cents", "house_cents", "updated_at"}).
				AddRow(int64(5), int64(0), int64(1000), time.Now()))
		mock.ExpectRollback()

		_, err := ledger.DrainPot(ctx, 5)
		assert.ErrorIs(t, err, ErrNoPotAvailable)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
