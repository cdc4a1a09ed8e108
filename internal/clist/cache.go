package clist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

const snapshotKey = "contests"

// Fetcher is the upstream call the cache throttles. Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context) ([]RawContest, error)
}

// Cache is the rate-limited fetch-and-persist layer in front of the upstream
// contest source.
//
// A non-forced Refresh within TTL of the last successful fetch serves the
// persisted snapshot without touching the network. On upstream failure the
// previous snapshot is left untouched and the error is surfaced.
type Cache struct {
	fetch Fetcher
	store storage.Store
	ttl   time.Duration
	log   logx.Logger
	now   func() time.Time

	mu sync.Mutex
}

func NewCache(fetch Fetcher, store storage.Store, ttl time.Duration, log logx.Logger) *Cache {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{fetch: fetch, store: store, ttl: ttl, log: log, now: time.Now}
}

// Refresh returns the current snapshot, contacting the upstream source only
// when forced or when the persisted snapshot is older than the TTL. The bool
// reports whether the upstream was actually consulted; false means the
// persisted snapshot was served as-is.
func (c *Cache) Refresh(ctx context.Context, force bool) (Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.load(ctx)
	now := c.now().UTC()

	if !force && ok && prev.Age(now) < c.ttl {
		c.log.Debug("snapshot fresh, skipping fetch",
			logx.Duration("age", prev.Age(now)),
			logx.Int("contests", len(prev.Contests)))
		return prev, false, nil
	}

	contests, err := c.fetch.Fetch(ctx)
	if err != nil {
		return Snapshot{}, false, err
	}

	snap := Snapshot{FetchedAt: now.Unix(), Contests: contests}
	if err := c.persist(ctx, snap); err != nil {
		// A failed durable write is not fatal: the fetched data is still good
		// for this cycle and the next refresh will retry the write.
		c.log.Warn("snapshot persist failed", logx.Err(err))
	}
	c.log.Info("contest snapshot refreshed", logx.Int("contests", len(contests)))
	return snap, true, nil
}

func (c *Cache) load(ctx context.Context) (Snapshot, bool) {
	if c.store == nil {
		return Snapshot{}, false
	}
	b, err := c.store.Get(ctx, snapshotKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.log.Warn("snapshot load failed", logx.Err(err))
		}
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		c.log.Warn("snapshot decode failed, refetching", logx.Err(err))
		return Snapshot{}, false
	}
	return snap, true
}

func (c *Cache) persist(ctx context.Context, snap Snapshot) error {
	if c.store == nil {
		return nil
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return c.store.Put(ctx, snapshotKey, b)
}
