package cache

import (
	"context"
	"errors"
	"time"

	"github.com/fintech/fraud-engine/internal/models"
)

// ErrMalformedState marks cache data that exists but cannot be decoded. It
// is a contract violation, not an outage: callers must not treat it as "no
// signal".
var ErrMalformedState = errors.New("malformed cache state")

// TTLs and windows for the behavioral state. Last-known records survive 30
// days of inactivity; the recent-transaction window holds 24 hours and is
// pruned lazily on every write.
const (
	LastKnownTTL    = 30 * 24 * time.Hour
	RecentWindowTTL = 24 * time.Hour
)

// BehaviorCache tracks short-lived per-user behavioral state: the last-known
// device/location, a sliding window of recent transaction timestamps, and
// ephemeral duplicate-signature markers. All mutation is scoped to a single
// user's keys.
//
// Callers treat any error as "no signal": a cache outage degrades the
// affected rules, it never aborts an evaluation.
type BehaviorCache interface {
	// GetLastKnown returns the user's last-known state, or nil when none is
	// recorded.
	GetLastKnown(ctx context.Context, userID string) (*models.LastKnownState, error)

	// SetLastKnown fully replaces the user's last-known record and resets
	// its TTL.
	SetLastKnown(ctx context.Context, userID string, state models.LastKnownState) error

	// RecordTransaction inserts into the user's sliding window, prunes
	// entries older than the window TTL, and resets the key TTL.
	RecordTransaction(ctx context.Context, userID string, timestamp time.Time, txID string) error

	// CountInWindow counts window entries with timestamp in
	// (now-window, now].
	CountInWindow(ctx context.Context, userID string, window time.Duration) (int, error)

	// CheckAndMarkDuplicate reports whether an identical
	// (user, merchant, amount) signature was seen within the window, and
	// marks the signature with the window TTL when it was not. The check is
	// also the write.
	CheckAndMarkDuplicate(ctx context.Context, userID, merchantID string, amount float64, window time.Duration) (bool, error)

	// Ping checks cache reachability for health reporting.
	Ping(ctx context.Context) error
}
