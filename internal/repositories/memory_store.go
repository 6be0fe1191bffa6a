package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fintech/fraud-engine/internal/models"
)

// MemoryStore is an in-process store with the same contract as
// PostgresStore, used by tests and local runs.
type MemoryStore struct {
	mu           sync.Mutex
	transactions map[string]*models.TransactionInput
	evaluations  map[string]*models.EvaluationResult
	byUser       map[string][]*models.TransactionInput
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]*models.TransactionInput),
		evaluations:  make(map[string]*models.EvaluationResult),
		byUser:       make(map[string][]*models.TransactionInput),
	}
}

func (s *MemoryStore) FindEvaluation(_ context.Context, txID string) (*models.EvaluationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, ok := s.evaluations[txID]
	if !ok {
		return nil, nil
	}
	copied := *result
	return &copied, nil
}

func (s *MemoryStore) SaveTransactionAndEvaluation(_ context.Context, tx *models.TransactionInput, result *models.EvaluationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[tx.TransactionID]; exists {
		return ErrDuplicateTransaction
	}

	txCopy := *tx
	resCopy := *result
	s.transactions[tx.TransactionID] = &txCopy
	s.evaluations[tx.TransactionID] = &resCopy
	s.byUser[tx.UserID] = append(s.byUser[tx.UserID], &txCopy)
	return nil
}

func (s *MemoryStore) AverageAmount(_ context.Context, userID string, windowDays int) (*float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)

	var sum float64
	var count int
	for _, tx := range s.byUser[userID] {
		if !tx.Timestamp.Before(cutoff) {
			sum += tx.Amount
			count++
		}
	}

	if count == 0 {
		return nil, nil
	}
	avg := sum / float64(count)
	return &avg, nil
}

func (s *MemoryStore) ListFlagged(_ context.Context, minScore, limit int) ([]*models.FlaggedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flagged []*models.FlaggedTransaction
	for txID, result := range s.evaluations {
		if result.Score < minScore {
			continue
		}
		tx := s.transactions[txID]
		flagged = append(flagged, &models.FlaggedTransaction{
			TransactionID: result.TransactionID,
			UserID:        result.UserID,
			Amount:        tx.Amount,
			MerchantID:    tx.MerchantID,
			Score:         result.Score,
			Reasons:       result.Reasons,
			Timestamp:     tx.Timestamp,
			EvaluatedAt:   result.EvaluatedAt,
		})
	}

	sort.Slice(flagged, func(i, j int) bool {
		if flagged[i].Score != flagged[j].Score {
			return flagged[i].Score > flagged[j].Score
		}
		return flagged[i].EvaluatedAt.After(flagged[j].EvaluatedAt)
	})

	if limit > 0 && len(flagged) > limit {
		flagged = flagged[:limit]
	}
	return flagged, nil
}
