package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/fintech/fraud-engine/internal/models"
)

var (
	// ErrDuplicateTransaction surfaces a unique-key conflict on the
	// transaction identifier.
	ErrDuplicateTransaction = errors.New("transaction already persisted")
)

// PostgresStore persists transactions and their evaluations and answers
// historical aggregate queries.
type PostgresStore struct {
	db *Database
}

// NewPostgresStore creates a store over an established connection pool.
func NewPostgresStore(db *Database) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindEvaluation returns the stored evaluation for a transaction identifier,
// or nil when none exists.
func (s *PostgresStore) FindEvaluation(ctx context.Context, txID string) (*models.EvaluationResult, error) {
	query := `
		SELECT transaction_id, user_id, risk_score, reasons, raw_evidence, flagged, evaluated_at
		FROM risk_logs
		WHERE transaction_id = $1
	`

	result := &models.EvaluationResult{}
	var reasons []string
	var evidenceBytes []byte

	err := s.db.Pool.QueryRow(ctx, query, txID).Scan(
		&result.TransactionID,
		&result.UserID,
		&result.Score,
		&reasons,
		&evidenceBytes,
		&result.Flagged,
		&result.EvaluatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query evaluation: %w", err)
	}

	result.Reasons = reasons
	if err := result.Evidence.Scan(evidenceBytes); err != nil {
		return nil, fmt.Errorf("malformed evidence for transaction %s: %w", txID, err)
	}
	return result, nil
}

// SaveTransactionAndEvaluation writes the transaction and its evaluation in
// one database transaction: both are visible or neither is. The user row is
// created on first sight.
func (s *PostgresStore) SaveTransactionAndEvaluation(ctx context.Context, txInput *models.TransactionInput, result *models.EvaluationResult) error {
	return s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		userQuery := `INSERT INTO users (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`
		if _, err := tx.Exec(ctx, userQuery, txInput.UserID); err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}

		metadataBytes, _ := txInput.Metadata.Value()

		txQuery := `
			INSERT INTO transactions (
				transaction_id, user_id, amount, currency, merchant_id,
				timestamp, location_lat, location_lng, device_id, metadata
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		if _, err := tx.Exec(ctx, txQuery,
			txInput.TransactionID,
			txInput.UserID,
			txInput.Amount,
			txInput.Currency,
			txInput.MerchantID,
			txInput.Timestamp,
			txInput.LocationLat,
			txInput.LocationLng,
			txInput.DeviceID,
			metadataBytes,
		); err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateTransaction
			}
			return fmt.Errorf("failed to insert transaction: %w", err)
		}

		evidenceBytes, _ := result.Evidence.Value()

		logQuery := `
			INSERT INTO risk_logs (transaction_id, user_id, risk_score, reasons, raw_evidence, flagged, evaluated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		if _, err := tx.Exec(ctx, logQuery,
			result.TransactionID,
			result.UserID,
			result.Score,
			pq.Array(result.Reasons),
			evidenceBytes,
			result.Flagged,
			result.EvaluatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert risk log: %w", err)
		}

		return nil
	})
}

// AverageAmount returns the user's mean transaction amount over the trailing
// window, or nil when the user has no qualifying history. The current
// transaction is not yet persisted when this runs, so it cannot bias its own
// baseline.
func (s *PostgresStore) AverageAmount(ctx context.Context, userID string, windowDays int) (*float64, error) {
	query := `
		SELECT AVG(amount)
		FROM transactions
		WHERE user_id = $1 AND timestamp >= $2
	`

	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)

	var avg *float64
	if err := s.db.Pool.QueryRow(ctx, query, userID, cutoff).Scan(&avg); err != nil {
		return nil, fmt.Errorf("failed to query average amount: %w", err)
	}
	return avg, nil
}

// ListFlagged returns evaluations at or above minScore, highest first.
func (s *PostgresStore) ListFlagged(ctx context.Context, minScore, limit int) ([]*models.FlaggedTransaction, error) {
	query := `
		SELECT r.transaction_id, r.user_id, t.amount, t.merchant_id,
			   r.risk_score, r.reasons, t.timestamp, r.evaluated_at
		FROM risk_logs r
		JOIN transactions t ON t.transaction_id = r.transaction_id
		WHERE r.risk_score >= $1
		ORDER BY r.risk_score DESC, r.evaluated_at DESC
		LIMIT $2
	`

	rows, err := s.db.Pool.Query(ctx, query, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query flagged transactions: %w", err)
	}
	defer rows.Close()

	var flagged []*models.FlaggedTransaction
	for rows.Next() {
		f := &models.FlaggedTransaction{}
		var reasons []string
		if err := rows.Scan(
			&f.TransactionID,
			&f.UserID,
			&f.Amount,
			&f.MerchantID,
			&f.Score,
			&reasons,
			&f.Timestamp,
			&f.EvaluatedAt,
		); err != nil {
			return nil, err
		}
		f.Reasons = reasons
		flagged = append(flagged, f)
	}

	return flagged, rows.Err()
}

func isDuplicateKeyError(err error) bool {
	// 23505 is the PostgreSQL unique_violation code.
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
