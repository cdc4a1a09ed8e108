package clist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

type memStore struct {
	mu   sync.Mutex
	m    map[string][]byte
	fail bool
}

func newMemStore() *memStore { return &memStore{m: make(map[string][]byte)} }

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.m[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *memStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.m[key] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *memStore) Keys(_ context.Context, _ string) ([]string, error) { return nil, nil }
func (s *memStore) Close() error                                       { return nil }

type countingFetcher struct {
	mu    sync.Mutex
	calls int
	out   []RawContest
	err   error
}

func (f *countingFetcher) Fetch(context.Context) ([]RawContest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRefreshFetchesOnEmptyStore(t *testing.T) {
	fetch := &countingFetcher{out: []RawContest{{ID: 1, Event: "Round"}}}
	c := NewCache(fetch, newMemStore(), 12*time.Hour, logx.Nop())

	snap, fetched, err := c.Refresh(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if !fetched {
		t.Error("fetched = false, want true on an empty store")
	}
	if len(snap.Contests) != 1 {
		t.Errorf("contests = %d, want 1", len(snap.Contests))
	}
	if fetch.count() != 1 {
		t.Errorf("fetch calls = %d, want 1", fetch.count())
	}
}

func TestRefreshServesFreshSnapshot(t *testing.T) {
	fetch := &countingFetcher{out: []RawContest{{ID: 1, Event: "Round"}}}
	c := NewCache(fetch, newMemStore(), 12*time.Hour, logx.Nop())
	ctx := context.Background()

	if _, _, err := c.Refresh(ctx, false); err != nil {
		t.Fatal(err)
	}
	snap, fetched, err := c.Refresh(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if fetched {
		t.Error("fetched = true, want false for a fresh snapshot")
	}
	if fetch.count() != 1 {
		t.Errorf("fetch calls = %d, want 1; fresh snapshot should come from storage", fetch.count())
	}
	if len(snap.Contests) != 1 {
		t.Errorf("contests = %d, want 1", len(snap.Contests))
	}
}

func TestRefreshForceBypassesTTL(t *testing.T) {
	fetch := &countingFetcher{}
	c := NewCache(fetch, newMemStore(), 12*time.Hour, logx.Nop())
	ctx := context.Background()

	if _, _, err := c.Refresh(ctx, false); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Refresh(ctx, true); err != nil {
		t.Fatal(err)
	}
	if fetch.count() != 2 {
		t.Errorf("fetch calls = %d, want 2", fetch.count())
	}
}

func TestRefreshRefetchesAfterTTL(t *testing.T) {
	fetch := &countingFetcher{}
	c := NewCache(fetch, newMemStore(), 12*time.Hour, logx.Nop())
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	if _, _, err := c.Refresh(ctx, false); err != nil {
		t.Fatal(err)
	}

	c.now = func() time.Time { return base.Add(13 * time.Hour) }
	if _, _, err := c.Refresh(ctx, false); err != nil {
		t.Fatal(err)
	}
	if fetch.count() != 2 {
		t.Errorf("fetch calls = %d, want 2", fetch.count())
	}
}

func TestRefreshErrorLeavesSnapshotUntouched(t *testing.T) {
	fetch := &countingFetcher{out: []RawContest{{ID: 1, Event: "Round"}}}
	store := newMemStore()
	c := NewCache(fetch, store, 12*time.Hour, logx.Nop())
	ctx := context.Background()

	if _, _, err := c.Refresh(ctx, false); err != nil {
		t.Fatal(err)
	}

	fetch.mu.Lock()
	fetch.err = ErrUpstream
	fetch.mu.Unlock()

	if _, _, err := c.Refresh(ctx, true); !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}

	// The persisted snapshot still serves the next non-forced refresh.
	fetch.mu.Lock()
	fetch.err = nil
	fetch.mu.Unlock()
	snap, _, err := c.Refresh(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Contests) != 1 {
		t.Errorf("contests = %d, want previous snapshot intact", len(snap.Contests))
	}
}

func TestRefreshSurvivesPersistFailure(t *testing.T) {
	fetch := &countingFetcher{out: []RawContest{{ID: 1, Event: "Round"}}}
	store := newMemStore()
	store.fail = true
	c := NewCache(fetch, store, 12*time.Hour, logx.Nop())

	snap, _, err := c.Refresh(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Contests) != 1 {
		t.Errorf("fetched data lost on persist failure: %d contests", len(snap.Contests))
	}
}
