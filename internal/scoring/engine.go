package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/fintech/fraud-engine/configs"
	"github.com/fintech/fraud-engine/internal/cache"
	"github.com/fintech/fraud-engine/internal/models"
)

// HistoryStore is the durable-store surface the evaluator reads: the user's
// trailing average transaction amount. nil means no history in the window.
type HistoryStore interface {
	AverageAmount(ctx context.Context, userID string, windowDays int) (*float64, error)
}

// Evaluator scores transactions with six additive rules over a snapshot of
// historical and behavioral state. It never mutates anything durable; the
// one cache write it performs is the duplicate-signature marker, which is
// part of the duplicate check itself.
type Evaluator struct {
	store             HistoryStore
	cache             cache.BehaviorCache
	blacklist         map[string]struct{}
	flagThreshold     int
	historyWindowDays int
}

func NewEvaluator(store HistoryStore, behaviorCache cache.BehaviorCache, cfg configs.ScoringConfig) *Evaluator {
	blacklist := make(map[string]struct{}, len(cfg.MerchantBlacklist))
	for _, m := range cfg.MerchantBlacklist {
		blacklist[m] = struct{}{}
	}

	threshold := cfg.FlagThreshold
	if threshold <= 0 {
		threshold = DefaultFlagThreshold
	}

	return &Evaluator{
		store:             store,
		cache:             behaviorCache,
		blacklist:         blacklist,
		flagThreshold:     threshold,
		historyWindowDays: cfg.HistoryWindowDays,
	}
}

// Evaluate runs all six rules and folds their contributions into a result.
// Collaborator outages degrade the affected rules instead of aborting, so a
// score is always produced; the only error it returns is malformed
// collaborator data, which is a contract violation rather than an outage.
func (e *Evaluator) Evaluate(ctx context.Context, tx *models.TransactionInput) (*models.EvaluationResult, error) {
	timer := prometheus.NewTimer(evaluationDuration)
	defer timer.ObserveDuration()

	snap, err := e.collectSnapshot(ctx, tx)
	if err != nil {
		return nil, err
	}

	outcomes := []RuleOutcome{
		checkAmountSpike(tx, snap),
		checkVelocity(tx, snap),
		checkLocationMismatch(tx, snap),
		checkDeviceChange(tx, snap),
		e.checkMerchantBlacklist(tx),
		checkDuplicate(tx, snap),
	}

	score := 0
	reasons := make([]string, 0, len(outcomes))
	evidence := make(models.JSONB, len(outcomes))
	for _, out := range outcomes {
		score += out.Delta
		if out.Reason != "" {
			reasons = append(reasons, out.Reason)
			ruleTriggersTotal.WithLabelValues(out.Reason).Inc()
		}
		evidence[out.Slot] = out.Evidence
	}

	if score > 100 {
		score = 100
	} else if score < 0 {
		score = 0
	}

	flagged := score >= e.flagThreshold
	evaluationsTotal.Inc()
	if flagged {
		flaggedTotal.Inc()
	}

	return &models.EvaluationResult{
		TransactionID: tx.TransactionID,
		UserID:        tx.UserID,
		Score:         score,
		Reasons:       reasons,
		Evidence:      evidence,
		Flagged:       flagged,
		EvaluatedAt:   time.Now().UTC(),
	}, nil
}

// collectSnapshot gathers everything the rules read in one pass. Each
// collaborator outage is logged and recorded as a degraded flag so the
// corresponding rule reports its evidence as unavailable; malformed data
// aborts the evaluation instead.
func (e *Evaluator) collectSnapshot(ctx context.Context, tx *models.TransactionInput) (*Snapshot, error) {
	snap := &Snapshot{}

	avg, err := e.store.AverageAmount(ctx, tx.UserID, e.historyWindowDays)
	if err != nil {
		log.Warn().Err(err).Str("user_id", tx.UserID).Msg("history lookup failed, amount rule degraded")
		cacheDegradedTotal.WithLabelValues(SlotAmountSpike).Inc()
		snap.HistoryDegraded = true
	} else {
		snap.AvgAmount = avg
	}

	count60, err := e.cache.CountInWindow(ctx, tx.UserID, velocityHighWindow)
	if err != nil {
		log.Warn().Err(err).Str("user_id", tx.UserID).Msg("velocity count failed, velocity rule degraded")
		cacheDegradedTotal.WithLabelValues(SlotVelocity).Inc()
		snap.VelocityDegraded = true
	} else {
		snap.Count60s = count60
		// The 60s spike decides on its own; the 600s window is only read
		// when the spike cannot fire, so a failure there never discards an
		// already-observed spike.
		if count60 < velocityHighCount {
			count10m, err := e.cache.CountInWindow(ctx, tx.UserID, velocityUnusualWindow)
			if err != nil {
				log.Warn().Err(err).Str("user_id", tx.UserID).Msg("velocity count failed, velocity rule degraded")
				cacheDegradedTotal.WithLabelValues(SlotVelocity).Inc()
				snap.VelocityDegraded = true
			} else {
				snap.Count10m = count10m
			}
		}
	}

	// Only fetched when a rule will read it.
	if tx.HasLocation() || tx.DeviceID != nil {
		last, err := e.cache.GetLastKnown(ctx, tx.UserID)
		switch {
		case errors.Is(err, cache.ErrMalformedState):
			return nil, fmt.Errorf("last-known lookup for user %s: %w", tx.UserID, err)
		case err != nil:
			log.Warn().Err(err).Str("user_id", tx.UserID).Msg("last-known lookup failed, location and device rules degraded")
			cacheDegradedTotal.WithLabelValues(SlotLocation).Inc()
			snap.LastKnownDegraded = true
		default:
			snap.LastKnown = last
		}
	}

	dup, err := e.cache.CheckAndMarkDuplicate(ctx, tx.UserID, tx.MerchantID, tx.Amount, duplicateWindow)
	if err != nil {
		log.Warn().Err(err).Str("user_id", tx.UserID).Msg("duplicate check failed, duplicate rule degraded")
		cacheDegradedTotal.WithLabelValues(SlotDuplicate).Inc()
		snap.DuplicateDegraded = true
	} else {
		snap.IsDuplicate = dup
	}

	return snap, nil
}
