package remind

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/clist"
	"remindbot/internal/settings"
	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

type memStore struct {
	mu sync.Mutex
	m  map[string][]byte
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
	s.m[key] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *memStore) Close() error { return nil }

type fakeFetcher struct {
	mu       sync.Mutex
	contests []clist.RawContest
	err      error
}

func (f *fakeFetcher) Fetch(context.Context) ([]clist.RawContest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.contests, nil
}

func (f *fakeFetcher) set(contests []clist.RawContest, err error) {
	f.mu.Lock()
	f.contests = contests
	f.err = err
	f.mu.Unlock()
}

type fakeSender struct {
	mu   sync.Mutex
	sent []Reminder
	ch   chan Reminder
}

func newFakeSender() *fakeSender { return &fakeSender{ch: make(chan Reminder, 16)} }

func (f *fakeSender) SendReminder(_ context.Context, r Reminder) error {
	f.mu.Lock()
	f.sent = append(f.sent, r)
	f.mu.Unlock()
	f.ch <- r
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func raw(id int64, name, site string, start time.Time, dur time.Duration) clist.RawContest {
	r := clist.RawContest{
		ID:       id,
		Event:    name,
		Start:    start.UTC().Format("2006-01-02T15:04:05"),
		Duration: int64(dur.Seconds()),
		Href:     "https://example.com/contest",
	}
	r.Resource.Name = site
	r.Resource.ID = 1
	return r
}

func newTestService(t *testing.T, fetch *fakeFetcher) (*Service, *fakeSender, *settings.Store) {
	t.Helper()
	cache := clist.NewCache(fetch, newMemStore(), time.Hour, logx.Nop())
	store := settings.NewStore(newMemStore(), logx.Nop())
	sender := newFakeSender()
	svc := NewService(cache, store, sender, nil, logx.Nop(), Options{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	return svc, sender, store
}

func TestRunCycleArmsTasksPerStartGroup(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	fetch := &fakeFetcher{contests: []clist.RawContest{
		raw(1, "Round A Div 1", "codeforces.com", now.Add(2*time.Hour), 2*time.Hour),
		raw(2, "Round A Div 2", "codeforces.com", now.Add(2*time.Hour), 2*time.Hour),
		raw(3, "Round B", "codeforces.com", now.Add(3*time.Hour), 2*time.Hour),
	}}
	svc, _, store := newTestService(t, fetch)

	if _, err := store.SetReminder(ctx, "g1", "chan", "role", []int{60, 10}); err != nil {
		t.Fatal(err)
	}
	if err := svc.RunCycle(ctx, true); err != nil {
		t.Fatal(err)
	}

	// Two distinct start instants times two lead times.
	if got := svc.TaskCount("g1"); got != 4 {
		t.Errorf("task count = %d, want 4", got)
	}
}

func TestRescheduleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	fetch := &fakeFetcher{contests: []clist.RawContest{
		raw(1, "Round A", "codeforces.com", now.Add(2*time.Hour), time.Hour),
	}}
	svc, _, store := newTestService(t, fetch)

	if _, err := store.SetReminder(ctx, "g1", "chan", "role", []int{60, 10}); err != nil {
		t.Fatal(err)
	}
	if err := svc.RunCycle(ctx, true); err != nil {
		t.Fatal(err)
	}
	want := svc.TaskCount("g1")

	svc.Reschedule("g1")
	svc.Reschedule("g1")
	if got := svc.TaskCount("g1"); got != want {
		t.Errorf("task count after repeated reschedule = %d, want %d", got, want)
	}
}

func TestConfigureReplacesTasks(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	fetch := &fakeFetcher{contests: []clist.RawContest{
		raw(1, "Round A", "codeforces.com", now.Add(2*time.Hour), time.Hour),
	}}
	svc, _, _ := newTestService(t, fetch)

	if _, err := svc.Configure(ctx, "g1", "chan", "role", []int{60, 10}); err != nil {
		t.Fatal(err)
	}
	if err := svc.RunCycle(ctx, true); err != nil {
		t.Fatal(err)
	}
	if got := svc.TaskCount("g1"); got != 2 {
		t.Fatalf("task count = %d, want 2", got)
	}

	if _, err := svc.Configure(ctx, "g1", "chan", "role", []int{30}); err != nil {
		t.Fatal(err)
	}
	if got := svc.TaskCount("g1"); got != 1 {
		t.Errorf("task count after reconfigure = %d, want 1", got)
	}
}

func TestPastFireTimeNeverSends(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	// Contest starts in 30 minutes; the only lead time is 60 minutes, so the
	// fire time is already behind us. The task exists but must no-op.
	fetch := &fakeFetcher{contests: []clist.RawContest{
		raw(1, "Round A", "codeforces.com", now.Add(30*time.Minute), time.Hour),
	}}
	svc, sender, store := newTestService(t, fetch)

	if _, err := store.SetReminder(ctx, "g1", "chan", "role", []int{60}); err != nil {
		t.Fatal(err)
	}
	if err := svc.RunCycle(ctx, true); err != nil {
		t.Fatal(err)
	}
	if got := svc.TaskCount("g1"); got != 1 {
		t.Errorf("task count = %d, want 1", got)
	}

	time.Sleep(100 * time.Millisecond)
	if sender.count() != 0 {
		t.Error("reminder sent for a fire time in the past")
	}
}

func TestFailedRefreshKeepsSchedule(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	fetch := &fakeFetcher{contests: []clist.RawContest{
		raw(1, "Round A", "codeforces.com", now.Add(2*time.Hour), time.Hour),
	}}
	svc, _, store := newTestService(t, fetch)

	if _, err := store.SetReminder(ctx, "g1", "chan", "role", []int{60}); err != nil {
		t.Fatal(err)
	}
	if err := svc.RunCycle(ctx, true); err != nil {
		t.Fatal(err)
	}
	want := svc.TaskCount("g1")

	fetch.set(nil, errors.New("boom"))
	if err := svc.RunCycle(ctx, true); err == nil {
		t.Fatal("expected error from failed refresh")
	}
	if got := svc.TaskCount("g1"); got != want {
		t.Errorf("task count after failed refresh = %d, want %d", got, want)
	}
}

func TestGuildsAreIndependent(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	fetch := &fakeFetcher{contests: []clist.RawContest{
		raw(1, "Round A", "codeforces.com", now.Add(2*time.Hour), time.Hour),
	}}
	svc, _, store := newTestService(t, fetch)

	if _, err := store.SetReminder(ctx, "g1", "c1", "r1", []int{60}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.SetReminder(ctx, "g3", "c3", "r3", []int{30, 10}); err != nil {
		t.Fatal(err)
	}
	// g2 exists but was never configured.
	_ = store.Get("g2")

	if err := svc.RunCycle(ctx, true); err != nil {
		t.Fatal(err)
	}
	if got := svc.TaskCount("g1"); got != 1 {
		t.Errorf("g1 task count = %d, want 1", got)
	}
	if got := svc.TaskCount("g2"); got != 0 {
		t.Errorf("g2 task count = %d, want 0", got)
	}
	if got := svc.TaskCount("g3"); got != 2 {
		t.Errorf("g3 task count = %d, want 2", got)
	}

	if err := svc.Clear(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	if got := svc.TaskCount("g1"); got != 0 {
		t.Errorf("g1 task count after clear = %d, want 0", got)
	}
	if got := svc.TaskCount("g3"); got != 2 {
		t.Errorf("g3 task count after clearing g1 = %d, want 2", got)
	}
}

type resolvingSender struct {
	*fakeSender
	badGuild string
}

func (r *resolvingSender) ResolveDestination(guildID, _, _ string) error {
	if guildID == r.badGuild {
		return errors.New("channel deleted")
	}
	return nil
}

func TestUnresolvableDestinationIsIsolated(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	fetch := &fakeFetcher{contests: []clist.RawContest{
		raw(1, "Round A", "codeforces.com", now.Add(2*time.Hour), time.Hour),
	}}

	cache := clist.NewCache(fetch, newMemStore(), time.Hour, logx.Nop())
	store := settings.NewStore(newMemStore(), logx.Nop())
	sender := &resolvingSender{fakeSender: newFakeSender(), badGuild: "gB"}
	svc := NewService(cache, store, sender, nil, logx.Nop(), Options{})
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Stop(stopCtx)
	})

	for _, gid := range []string{"gA", "gB", "gC"} {
		if _, err := store.SetReminder(ctx, gid, "c", "r", []int{60}); err != nil {
			t.Fatal(err)
		}
	}
	if err := svc.RunCycle(ctx, true); err != nil {
		t.Fatal(err)
	}

	if got := svc.TaskCount("gA"); got != 1 {
		t.Errorf("gA task count = %d, want 1", got)
	}
	if got := svc.TaskCount("gB"); got != 0 {
		t.Errorf("gB task count = %d, want 0 with unresolvable destination", got)
	}
	if got := svc.TaskCount("gC"); got != 1 {
		t.Errorf("gC task count = %d, want 1", got)
	}
}

func TestReminderFiresAndGroupsContests(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	// Whole seconds only: raw() serializes the start at second precision, so
	// a sub-second margin would be truncated away and the fire time would
	// land in the past.
	start := now.Truncate(time.Second).Add(time.Minute + 2*time.Second)
	fetch := &fakeFetcher{contests: []clist.RawContest{
		raw(1, "Round A Div 1", "codeforces.com", start, 2*time.Hour),
		raw(2, "Round A Div 2", "codeforces.com", start, 2*time.Hour),
	}}
	svc, sender, store := newTestService(t, fetch)

	// The 60 minute lead's fire time is already past; only the 1 minute lead
	// should produce a send.
	if _, err := store.SetReminder(ctx, "g1", "chan", "role", []int{60, 1}); err != nil {
		t.Fatal(err)
	}
	if err := svc.RunCycle(ctx, true); err != nil {
		t.Fatal(err)
	}
	if got := svc.TaskCount("g1"); got != 2 {
		t.Errorf("task count = %d, want 2", got)
	}

	select {
	case r := <-sender.ch:
		if r.GuildID != "g1" || r.ChannelID != "chan" || r.RoleID != "role" {
			t.Errorf("reminder destination = %+v", r)
		}
		if r.Lead != time.Minute {
			t.Errorf("lead = %v, want 1m", r.Lead)
		}
		if len(r.Contests) != 2 {
			t.Errorf("contests = %d, want 2 grouped by shared start", len(r.Contests))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reminder never fired")
	}

	time.Sleep(200 * time.Millisecond)
	if sender.count() != 1 {
		t.Errorf("sends = %d, want exactly 1", sender.count())
	}
}

func TestCancelledTaskDoesNotFire(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	// Whole seconds only; see TestReminderFiresAndGroupsContests.
	start := now.Truncate(time.Second).Add(time.Minute + 2*time.Second)
	fetch := &fakeFetcher{contests: []clist.RawContest{
		raw(1, "Round A", "codeforces.com", start, time.Hour),
	}}
	svc, sender, store := newTestService(t, fetch)

	if _, err := store.SetReminder(ctx, "g1", "chan", "role", []int{1}); err != nil {
		t.Fatal(err)
	}
	if err := svc.RunCycle(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := svc.Clear(ctx, "g1"); err != nil {
		t.Fatal(err)
	}

	// Sleep past the fire instant (at most 2s away) so the cancel, not the
	// clock, is what prevents the send.
	time.Sleep(2500 * time.Millisecond)
	if sender.count() != 0 {
		t.Error("cancelled reminder fired anyway")
	}
}

func TestCancelAtFireInstantDoesNotSend(t *testing.T) {
	fetch := &fakeFetcher{}
	svc, sender, _ := newTestService(t, fetch)

	// Arm tasks that fire almost immediately and cancel right away, so the
	// timer and the cancel race for the same select. A cancel delivered
	// before the fire instant must never produce a send.
	r := Reminder{GuildID: "g1", ChannelID: "chan", RoleID: "role", Lead: time.Minute}
	for i := 0; i < 200; i++ {
		tk := svc.spawn(r, time.Now().Add(2*time.Millisecond))
		tk.cancel()
		<-tk.done
	}
	if sender.count() != 0 {
		t.Errorf("sends = %d, want 0 when cancel precedes the fire instant", sender.count())
	}
}

func TestContestsFilteredPerGuild(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	fetch := &fakeFetcher{contests: []clist.RawContest{
		raw(1, "Round A", "codeforces.com", now.Add(2*time.Hour), time.Hour),
		raw(2, "Wild Round B", "codeforces.com", now.Add(3*time.Hour), time.Hour),
	}}
	svc, _, store := newTestService(t, fetch)
	_ = store.Get("g1")

	if err := svc.RunCycle(ctx, true); err != nil {
		t.Fatal(err)
	}

	// Default filter denies "wild" rounds.
	got := svc.Contests("g1")
	if len(got.Future) != 1 || got.Future[0].Name != "Round A" {
		t.Errorf("future = %+v, want only Round A", got.Future)
	}

	// Subscribing clears the denied patterns.
	if _, _, err := svc.Subscribe(ctx, "g1", []string{"codeforces.com"}); err != nil {
		t.Fatal(err)
	}
	got = svc.Contests("g1")
	if len(got.Future) != 2 {
		t.Errorf("future after subscribe = %d contests, want 2", len(got.Future))
	}

	// Unsubscribing denies everything from the site.
	if _, _, err := svc.Unsubscribe(ctx, "g1", []string{"codeforces.com"}); err != nil {
		t.Fatal(err)
	}
	got = svc.Contests("g1")
	if len(got.Future) != 0 {
		t.Errorf("future after unsubscribe = %d contests, want 0", len(got.Future))
	}
}

func TestSettingsUnknownGuild(t *testing.T) {
	fetch := &fakeFetcher{}
	svc, _, _ := newTestService(t, fetch)

	if _, err := svc.Settings("nope"); !errors.Is(err, settings.ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}
