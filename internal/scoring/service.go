package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fintech/fraud-engine/internal/cache"
	"github.com/fintech/fraud-engine/internal/models"
	"github.com/fintech/fraud-engine/internal/repositories"
)

// Store is the durable persistence surface the submit pipeline needs.
type Store interface {
	HistoryStore

	// FindEvaluation returns a stored result by transaction ID, or nil when
	// the transaction has never been evaluated.
	FindEvaluation(ctx context.Context, txID string) (*models.EvaluationResult, error)

	// SaveTransactionAndEvaluation persists the transaction and its result
	// atomically.
	SaveTransactionAndEvaluation(ctx context.Context, tx *models.TransactionInput, result *models.EvaluationResult) error

	ListFlagged(ctx context.Context, minScore, limit int) ([]*models.FlaggedTransaction, error)
}

// Publisher emits flagged evaluations to downstream consumers. Publish
// failures are logged, never surfaced to the submitter.
type Publisher interface {
	PublishFlagged(ctx context.Context, result *models.EvaluationResult) error
}

// Service runs the full submit pipeline: idempotency check, evaluation,
// durable persistence, then behavioral-state updates.
type Service struct {
	store     Store
	cache     cache.BehaviorCache
	evaluator *Evaluator
	publisher Publisher
}

func NewService(store Store, behaviorCache cache.BehaviorCache, evaluator *Evaluator, publisher Publisher) *Service {
	return &Service{
		store:     store,
		cache:     behaviorCache,
		evaluator: evaluator,
		publisher: publisher,
	}
}

// Submit evaluates and persists one transaction. Resubmitting a known
// transaction ID returns the stored result without re-evaluating and without
// touching behavioral state. Behavioral-state writes happen only after the
// result is durably committed, so a persistence failure leaves the cache
// exactly as it was.
func (s *Service) Submit(ctx context.Context, tx *models.TransactionInput) (*models.EvaluationResult, bool, error) {
	existing, err := s.store.FindEvaluation(ctx, tx.TransactionID)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if existing != nil {
		log.Debug().Str("transaction_id", tx.TransactionID).Msg("transaction already evaluated, returning stored result")
		return existing, true, nil
	}

	// The input is immutable once built; default the timestamp on a copy.
	if tx.Timestamp.IsZero() {
		defaulted := *tx
		defaulted.Timestamp = time.Now().UTC()
		tx = &defaulted
	}

	result, err := s.evaluator.Evaluate(ctx, tx)
	if err != nil {
		return nil, false, fmt.Errorf("evaluate transaction %s: %w", tx.TransactionID, err)
	}

	if err := s.store.SaveTransactionAndEvaluation(ctx, tx, result); err != nil {
		// A concurrent submit with the same ID can win between the
		// idempotency check and the insert; its stored result is the answer.
		if errors.Is(err, repositories.ErrDuplicateTransaction) {
			stored, findErr := s.store.FindEvaluation(ctx, tx.TransactionID)
			if findErr == nil && stored != nil {
				return stored, true, nil
			}
		}
		return nil, false, fmt.Errorf("persist evaluation: %w", err)
	}

	s.updateBehavioralState(ctx, tx)

	if result.Flagged {
		log.Warn().
			Str("transaction_id", tx.TransactionID).
			Str("user_id", tx.UserID).
			Int("score", result.Score).
			Strs("reasons", result.Reasons).
			Msg("transaction flagged")

		if s.publisher != nil {
			if err := s.publisher.PublishFlagged(ctx, result); err != nil {
				log.Error().Err(err).Str("transaction_id", tx.TransactionID).Msg("failed to publish flagged event")
			}
		}
	}

	return result, false, nil
}

// Result returns a stored evaluation, or nil when the transaction is unknown.
func (s *Service) Result(ctx context.Context, txID string) (*models.EvaluationResult, error) {
	return s.store.FindEvaluation(ctx, txID)
}

// Flagged lists flagged transactions at or above minScore, highest score
// first.
func (s *Service) Flagged(ctx context.Context, minScore, limit int) ([]*models.FlaggedTransaction, error) {
	return s.store.ListFlagged(ctx, minScore, limit)
}

// updateBehavioralState records the committed transaction in the cache. Both
// writes are best-effort: a failure costs signal on future evaluations, it
// does not fail the submit.
func (s *Service) updateBehavioralState(ctx context.Context, tx *models.TransactionInput) {
	if tx.DeviceID != nil || tx.HasLocation() {
		state := models.LastKnownState{Timestamp: tx.Timestamp}
		if tx.DeviceID != nil {
			state.DeviceID = *tx.DeviceID
		}
		if tx.HasLocation() {
			state.Lat = tx.LocationLat
			state.Lng = tx.LocationLng
		}
		if err := s.cache.SetLastKnown(ctx, tx.UserID, state); err != nil {
			log.Warn().Err(err).Str("user_id", tx.UserID).Msg("failed to update last-known state")
		}
	}

	if err := s.cache.RecordTransaction(ctx, tx.UserID, tx.Timestamp, tx.TransactionID); err != nil {
		log.Warn().Err(err).Str("user_id", tx.UserID).Msg("failed to record transaction in velocity window")
	}
}
