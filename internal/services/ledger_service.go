package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fantasyfusion/backend/internal/models"
)

// LedgerService owns wallet balances and league pots. Every mutation runs
// inside its own database transaction under a SELECT ... FOR UPDATE row
// lock, so concurrent adjustments to the same wallet or pot serialize and
// the lock is never held across a provider network call.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// AdjustBalance applies deltaCents to the user's wallet, creating the wallet
// with a zero balance on first touch. Returns ErrInsufficientFunds and leaves
// the wallet untouched if the adjustment would make the balance negative.
func (s *LedgerService) AdjustBalance(ctx context.Context, userID, deltaCents int64) (*models.Wallet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	wallet, err := s.adjustBalanceIn(ctx, tx, userID, deltaCents)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return wallet, nil
}

// adjustBalanceIn applies the delta inside the caller's transaction. The
// wallet row stays locked until the caller commits, so the adjustment and
// whatever else the caller writes land atomically.
func (s *LedgerService) adjustBalanceIn(ctx context.Context, tx *sql.Tx, userID, deltaCents int64) (*models.Wallet, error) {
	wallet, err := s.lockWallet(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	newBalance := wallet.BalanceCents + deltaCents
	if newBalance < 0 {
		return nil, ErrInsufficientFunds
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance_cents = $1, updated_at = $2 WHERE user_id = $3`,
		newBalance, now, userID); err != nil {
		return nil, err
	}

	wallet.BalanceCents = newBalance
	wallet.UpdatedAt = now
	return wallet, nil
}

// AdjustPot applies deltaCents to the league pot. A non-negative delta is
// split into house = delta*houseCutBps/10000 (integer floor) and pot =
// delta-house. A negative delta drains the pool only and returns
// ErrNegativePot if the pool would go below zero.
func (s *LedgerService) AdjustPot(ctx context.Context, leagueID, deltaCents, houseCutBps int64) (*models.LeaguePot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pot, err := s.lockPot(ctx, tx, leagueID)
	if err != nil {
		return nil, err
	}

	if deltaCents >= 0 {
		house := deltaCents * houseCutBps / 10000
		pot.PotCents += deltaCents - house
		pot.HouseCents += house
	} else {
		// Internal drains never skim a fee.
		pot.PotCents += deltaCents
		if pot.PotCents < 0 {
			return nil, ErrNegativePot
		}
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE league_pots SET pot_cents = $1, house_cents = $2, updated_at = $3 WHERE league_id = $4`,
		pot.PotCents, pot.HouseCents, now, leagueID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	pot.UpdatedAt = now
	return pot, nil
}

// DrainPot atomically zeroes the league pot and returns the drained amount.
// Returns ErrNoPotAvailable if the pot record is missing or already empty.
func (s *LedgerService) DrainPot(ctx context.Context, leagueID int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	amount, err := s.drainPotIn(ctx, tx, leagueID)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return amount, nil
}

// drainPotIn zeroes the pot inside the caller's transaction so the drain and
// the winner's credit commit or roll back together.
func (s *LedgerService) drainPotIn(ctx context.Context, tx *sql.Tx, leagueID int64) (int64, error) {
	var pot models.LeaguePot
	err := tx.QueryRowContext(ctx,
		`SELECT league_id, pot_cents, house_cents, updated_at FROM league_pots WHERE league_id = $1 FOR UPDATE`,
		leagueID).Scan(&pot.LeagueID, &pot.PotCents, &pot.HouseCents, &pot.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoPotAvailable
	}
	if err != nil {
		return 0, err
	}
	if pot.PotCents <= 0 {
		return 0, ErrNoPotAvailable
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE league_pots SET pot_cents = 0, updated_at = $1 WHERE league_id = $2`,
		time.Now(), leagueID); err != nil {
		return 0, err
	}
	return pot.PotCents, nil
}

// GetOrCreateWallet is the idempotent lazy accessor for a user's wallet.
func (s *LedgerService) GetOrCreateWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	var w models.Wallet
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, balance_cents, updated_at FROM wallets WHERE user_id = $1`,
		userID).Scan(&w.UserID, &w.BalanceCents, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s.createWallet(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetOrCreatePot is the idempotent lazy accessor for a league's pot.
func (s *LedgerService) GetOrCreatePot(ctx context.Context, leagueID int64) (*models.LeaguePot, error) {
	var p models.LeaguePot
	err := s.db.QueryRowContext(ctx,
		`SELECT league_id, pot_cents, house_cents, updated_at FROM league_pots WHERE league_id = $1`,
		leagueID).Scan(&p.LeagueID, &p.PotCents, &p.HouseCents, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s.createPot(ctx, leagueID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// lockWallet loads the wallet row under an exclusive lock, inserting a zero
// balance row on first touch. The inserted row stays locked until commit.
func (s *LedgerService) lockWallet(ctx context.Context, tx *sql.Tx, userID int64) (*models.Wallet, error) {
	var w models.Wallet
	err := tx.QueryRowContext(ctx,
		`SELECT user_id, balance_cents, updated_at FROM wallets WHERE user_id = $1 FOR UPDATE`,
		userID).Scan(&w.UserID, &w.BalanceCents, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		now := time.Now()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wallets (user_id, balance_cents, updated_at) VALUES ($1, 0, $2)`,
			userID, now); err != nil {
			return nil, err
		}
		return &models.Wallet{UserID: userID, UpdatedAt: now}, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *LedgerService) lockPot(ctx context.Context, tx *sql.Tx, leagueID int64) (*models.LeaguePot, error) {
	var p models.LeaguePot
	err := tx.QueryRowContext(ctx,
		`SELECT league_id, pot_cents, house_cents, updated_at FROM league_pots WHERE league_id = $1 FOR UPDATE`,
		leagueID).Scan(&p.LeagueID, &p.PotCents, &p.HouseCents, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		now := time.Now()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO league_pots (league_id, pot_cents, house_cents, updated_at) VALUES ($1, 0, 0, $2)`,
			leagueID, now); err != nil {
			return nil, err
		}
		return &models.LeaguePot{LeagueID: leagueID, UpdatedAt: now}, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *LedgerService) createWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	now := time.Now()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO wallets (user_id, balance_cents, updated_at) VALUES ($1, 0, $2) ON CONFLICT (user_id) DO NOTHING`,
		userID, now); err != nil {
		return nil, err
	}
	var w models.Wallet
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, balance_cents, updated_at FROM wallets WHERE user_id = $1`,
		userID).Scan(&w.UserID, &w.BalanceCents, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *LedgerService) createPot(ctx context.Context, leagueID int64) (*models.LeaguePot, error) {
	now := time.Now()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO league_pots (league_id, pot_cents, house_cents, updated_at) VALUES ($1, 0, 0, $2) ON CONFLICT (league_id) DO NOTHING`,
		leagueID, now); err != nil {
		return nil, err
	}
	var p models.LeaguePot
	err := s.db.QueryRowContext(ctx,
		`SELECT league_id, pot_cents, house_cents, updated_at FROM league_pots WHERE league_id = $1`,
		leagueID).Scan(&p.LeagueID, &p.PotCents, &p.HouseCents, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
