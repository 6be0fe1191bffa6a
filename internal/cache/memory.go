package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/fintech/fraud-engine/internal/models"
)

// MemoryCache is an in-process BehaviorCache used by tests and local runs.
// Expiry is lazy: expired records are dropped when their key is next touched.
type MemoryCache struct {
	mu        sync.Mutex
	lastKnown map[string]memoryRecord
	windows   map[string]*memoryWindow
	dupes     map[string]time.Time

	now func() time.Time
}

type memoryRecord struct {
	state     models.LastKnownState
	expiresAt time.Time
}

type memoryWindow struct {
	entries   []windowEntry
	expiresAt time.Time
}

type windowEntry struct {
	txID      string
	timestamp time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		lastKnown: make(map[string]memoryRecord),
		windows:   make(map[string]*memoryWindow),
		dupes:     make(map[string]time.Time),
		now:       time.Now,
	}
}

func (c *MemoryCache) GetLastKnown(_ context.Context, userID string) (*models.LastKnownState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.lastKnown[userID]
	if !ok {
		return nil, nil
	}
	if c.now().After(rec.expiresAt) {
		delete(c.lastKnown, userID)
		return nil, nil
	}
	state := rec.state
	return &state, nil
}

func (c *MemoryCache) SetLastKnown(_ context.Context, userID string, state models.LastKnownState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastKnown[userID] = memoryRecord{
		state:     state,
		expiresAt: c.now().Add(LastKnownTTL),
	}
	return nil
}

func (c *MemoryCache) RecordTransaction(_ context.Context, userID string, timestamp time.Time, txID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[userID]
	if !ok || now.After(w.expiresAt) {
		w = &memoryWindow{}
		c.windows[userID] = w
	}

	w.entries = append(w.entries, windowEntry{txID: txID, timestamp: timestamp})

	// Lazy prune on write, like the Redis ZRemRangeByScore.
	cutoff := now.Add(-RecentWindowTTL)
	kept := w.entries[:0]
	for _, e := range w.entries {
		if e.timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	w.entries = kept
	w.expiresAt = now.Add(RecentWindowTTL)
	return nil
}

func (c *MemoryCache) CountInWindow(_ context.Context, userID string, window time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[userID]
	if !ok {
		return 0, nil
	}
	if now.After(w.expiresAt) {
		delete(c.windows, userID)
		return 0, nil
	}

	start := now.Add(-window)
	count := 0
	for _, e := range w.entries {
		if e.timestamp.After(start) && !e.timestamp.After(now) {
			count++
		}
	}
	return count, nil
}

func (c *MemoryCache) CheckAndMarkDuplicate(_ context.Context, userID, merchantID string, amount float64, window time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := userID + ":" + merchantID + ":" + strconv.FormatFloat(amount, 'f', -1, 64)
	now := c.now()

	if expiresAt, ok := c.dupes[key]; ok && now.Before(expiresAt) {
		return true, nil
	}

	c.dupes[key] = now.Add(window)
	return false, nil
}

func (c *MemoryCache) Ping(context.Context) error {
	return nil
}
