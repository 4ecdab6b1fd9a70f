package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/fantasyfusion/backend/internal/models"
)

const txColumns = `id, user_id, league_id, type, provider, amount_cents, currency, status, provider_ref, idempotency_key, error, created_at, updated_at`

// querier is satisfied by both *sql.DB and *sql.Tx so log writes can run
// standalone or inside a caller's transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// TransactionLog is the append-oriented audit trail of money movements.
// Rows are created once, transition status at most once, and are never
// deleted.
type TransactionLog struct {
	db *sql.DB
}

func NewTransactionLog(db *sql.DB) *TransactionLog {
	return &TransactionLog{db: db}
}

// Create persists the transaction in its initial status and assigns its id.
// A reused idempotency key fails with ErrDuplicateIdempotencyKey.
func (l *TransactionLog) Create(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	return l.create(ctx, l.db, tx)
}

func (l *TransactionLog) create(ctx context.Context, q querier, tx *models.Transaction) (*models.Transaction, error) {
	now := time.Now()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	if tx.Status == "" {
		tx.Status = models.TxPending
	}

	err := q.QueryRowContext(ctx,
		`INSERT INTO transactions (user_id, league_id, type, provider, amount_cents, currency, status, provider_ref, idempotency_key, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		tx.UserID, tx.LeagueID, tx.Type, tx.Provider, tx.AmountCents, tx.Currency,
		tx.Status, tx.ProviderRef, tx.IdempotencyKey, tx.Error, tx.CreatedAt, tx.UpdatedAt,
	).Scan(&tx.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "uq_transactions_idempotency" {
			return nil, ErrDuplicateIdempotencyKey
		}
		return nil, err
	}
	return tx, nil
}

// SetStatus updates the transaction's status and error message and touches
// updated_at. Settlement paths use setStatus inside a locked transaction;
// this standalone variant serves the pre-settlement bookkeeping writes.
func (l *TransactionLog) SetStatus(ctx context.Context, tx *models.Transaction, status models.TxStatus, errMsg *string) error {
	return l.setStatus(ctx, l.db, tx, status, errMsg)
}

func (l *TransactionLog) setStatus(ctx context.Context, q querier, tx *models.Transaction, status models.TxStatus, errMsg *string) error {
	now := time.Now()
	if _, err := q.ExecContext(ctx,
		`UPDATE transactions SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		status, errMsg, now, tx.ID); err != nil {
		return err
	}
	tx.Status = status
	tx.Error = errMsg
	tx.UpdatedAt = now
	return nil
}

// lockByProviderRef loads the correlated transaction under an exclusive row
// lock inside the caller's transaction, serializing concurrent settlement
// attempts for the same reference. Returns nil when no row is tracked.
func (l *TransactionLog) lockByProviderRef(ctx context.Context, dbtx *sql.Tx, provider, providerRef string) (*models.Transaction, error) {
	row := dbtx.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE provider = $1 AND provider_ref = $2 FOR UPDATE`,
		provider, providerRef)
	return scanTransaction(row)
}

// SetProviderRef stores the external correlation id obtained from a provider.
func (l *TransactionLog) SetProviderRef(ctx context.Context, tx *models.Transaction, providerRef string) error {
	now := time.Now()
	if _, err := l.db.ExecContext(ctx,
		`UPDATE transactions SET provider_ref = $1, updated_at = $2 WHERE id = $3`,
		providerRef, now, tx.ID); err != nil {
		return err
	}
	tx.ProviderRef = &providerRef
	tx.UpdatedAt = now
	return nil
}

// FindByProviderRef returns the transaction correlated to an external
// provider reference, or nil when no such transaction is tracked.
func (l *TransactionLog) FindByProviderRef(ctx context.Context, provider, providerRef string) (*models.Transaction, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE provider = $1 AND provider_ref = $2`,
		provider, providerRef)
	return scanTransaction(row)
}

// FindByIdempotencyKey returns the transaction created with the given
// idempotency key, or nil if none exists.
func (l *TransactionLog) FindByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE idempotency_key = $1`, key)
	return scanTransaction(row)
}

// GetByID returns the transaction with the given id, or nil if none exists.
func (l *TransactionLog) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// ListByUser returns the user's transactions, newest first.
func (l *TransactionLog) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []models.Transaction{}
	for rows.Next() {
		tx, err := scanTransactionRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

func scanTransaction(row *sql.Row) (*models.Transaction, error) {
	tx, err := scanTransactionRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tx, err
}

func scanTransactionRow(scan func(dest ...any) error) (*models.Transaction, error) {
	var (
		tx       models.Transaction
		leagueID sql.NullInt64
		provider sql.NullString
		provRef  sql.NullString
		idemKey  sql.NullString
		errMsg   sql.NullString
	)
	err := scan(&tx.ID, &tx.UserID, &leagueID, &tx.Type, &provider, &tx.AmountCents,
		&tx.Currency, &tx.Status, &provRef, &idemKey, &errMsg, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if leagueID.Valid {
		tx.LeagueID = &leagueID.Int64
	}
	if provider.Valid {
		tx.Provider = &provider.String
	}
	if provRef.Valid {
		tx.ProviderRef = &provRef.String
	}
	if idemKey.Valid {
		tx.IdempotencyKey = &idemKey.String
	}
	if errMsg.Valid {
		tx.Error = &errMsg.String
	}
	return &tx, nil
}
