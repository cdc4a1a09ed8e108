package remind

import (
	"context"
	"sync"
	"time"

	"remindbot/internal/clist"
	"remindbot/internal/contest"
	"remindbot/internal/eventbus"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/settings"
	"remindbot/pkg/logx"
)

// Sender delivers a reminder to its destination. Implementations must be safe
// for concurrent use; many tasks can fire at the same instant.
type Sender interface {
	SendReminder(ctx context.Context, r Reminder) error
}

// DestinationResolver is an optional Sender capability: verify that a guild's
// configured channel and role still exist before tasks are armed for it.
type DestinationResolver interface {
	ResolveDestination(guildID, channelID, roleID string) error
}

// Reminder is one outgoing message: every contest in Contests starts at the
// same instant, Lead before send time.
type Reminder struct {
	GuildID   string
	ChannelID string
	RoleID    string
	Lead      time.Duration
	Contests  []contest.Contest
	Location  *time.Location
}

// Service owns the contest snapshot and every guild's armed reminder tasks.
//
// One mutex guards both. Rescheduling a guild is always cancel-everything
// then re-arm-from-scratch; tasks are never patched in place, which keeps
// the task set a pure function of (snapshot, guild settings).
type Service struct {
	cache    *clist.Cache
	store    *settings.Store
	sender   Sender
	resolver DestinationResolver
	bus      eventbus.Bus
	log      logx.Logger
	sup      *supervisor.Supervisor
	now      func() time.Time

	finishedLimit int

	mu    sync.Mutex
	class contest.Classification
	tasks map[string][]*task
}

type Options struct {
	FinishedLimit int
}

func NewService(cache *clist.Cache, store *settings.Store, sender Sender, bus eventbus.Bus, log logx.Logger, opts Options) *Service {
	if opts.FinishedLimit <= 0 {
		opts.FinishedLimit = contest.FinishedLimit
	}
	s := &Service{
		cache:         cache,
		store:         store,
		sender:        sender,
		bus:           bus,
		log:           log,
		sup:           supervisor.New(context.Background(), supervisor.WithLogger(log)),
		now:           time.Now,
		finishedLimit: opts.FinishedLimit,
		tasks:         make(map[string][]*task),
	}
	if r, ok := sender.(DestinationResolver); ok {
		s.resolver = r
	}
	return s
}

// Stop cancels every armed task and waits for them to exit.
func (s *Service) Stop(ctx context.Context) error {
	s.sup.Cancel()
	return s.sup.Wait(ctx)
}

// RunCycle refreshes the contest snapshot and rebuilds every guild's tasks.
// A failed refresh skips the cycle entirely: the previous classification and
// every armed task stay as they are, and the error is returned for logging.
func (s *Service) RunCycle(ctx context.Context, force bool) error {
	snap, fetched, err := s.cache.Refresh(ctx, force)
	if err != nil {
		s.log.Warn("refresh failed, keeping previous schedule", logx.Err(err))
		return err
	}
	list := contest.FromRawAll(snap.Contests)
	now := s.now()

	s.mu.Lock()
	s.class = contest.Classify(list, now, s.finishedLimit)
	for _, gid := range s.store.GuildIDs() {
		s.rescheduleLocked(gid)
	}
	s.mu.Unlock()

	s.log.Info("cycle complete",
		logx.Int("contests", len(list)),
		logx.Time("fetched_at", time.Unix(snap.FetchedAt, 0)))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeSnapshotRefreshed,
			Data: eventbus.SnapshotRefreshed{Contests: len(list), Stale: !fetched},
		})
	}
	return nil
}

// Reschedule rebuilds one guild's tasks against the current classification.
func (s *Service) Reschedule(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rescheduleLocked(guildID)
}

// rescheduleLocked cancels the guild's tasks and re-arms from the current
// future bucket. An unconfigured guild, or one whose destination no longer
// resolves, simply ends up with no tasks. Callers must hold s.mu.
func (s *Service) rescheduleLocked(guildID string) {
	for _, t := range s.tasks[guildID] {
		t.cancel()
	}
	delete(s.tasks, guildID)

	g, ok := s.store.Lookup(guildID)
	if !ok || !g.Configured() {
		return
	}
	if s.resolver != nil {
		if err := s.resolver.ResolveDestination(guildID, g.ChannelID, g.RoleID); err != nil {
			s.log.Warn("destination unavailable, guild gets no reminders",
				logx.String("guild", guildID),
				logx.Err(err))
			return
		}
	}
	loc := locationOf(g.Timezone)
	desired := contest.FilterDesired(s.class.Future, g.Allowed, g.Denied)

	byStart := make(map[int64][]contest.Contest)
	for _, c := range desired {
		key := c.Start.Unix()
		byStart[key] = append(byStart[key], c)
	}

	var armed []*task
	for startUnix, group := range byStart {
		start := time.Unix(startUnix, 0).UTC()
		for _, mins := range g.Before {
			lead := time.Duration(mins) * time.Minute
			fireAt := start.Add(-lead)
			// A fire time already behind us still gets a task; it resolves
			// to a no-op the moment it runs. See task.go.
			armed = append(armed, s.spawn(Reminder{
				GuildID:   guildID,
				ChannelID: g.ChannelID,
				RoleID:    g.RoleID,
				Lead:      lead,
				Contests:  group,
				Location:  loc,
			}, fireAt))
		}
	}
	s.tasks[guildID] = armed
	s.log.Debug("guild rescheduled",
		logx.String("guild", guildID),
		logx.Int("tasks", len(armed)),
		logx.Int("contests", len(desired)))
}

// TaskCount reports how many reminders are armed for a guild.
func (s *Service) TaskCount(guildID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks[guildID])
}

// Contests returns the current classification filtered by the guild's
// patterns. An unknown guild sees the default filter. Before the first
// successful cycle all buckets are empty.
func (s *Service) Contests(guildID string) contest.Classification {
	g, ok := s.store.Lookup(guildID)
	if !ok {
		g = settings.Settings{
			Allowed: contest.DefaultAllowedPatterns(),
			Denied:  contest.DefaultDeniedPatterns(),
		}
	}

	s.mu.Lock()
	cls := s.class
	s.mu.Unlock()

	out := contest.Classification{
		Future:   contest.FilterDesired(cls.Future, g.Allowed, g.Denied),
		Active:   contest.FilterDesired(cls.Active, g.Allowed, g.Denied),
		Finished: contest.FilterDesired(cls.Finished, g.Allowed, g.Denied),
		ByStart:  make(map[int64][]contest.Contest),
	}
	for _, c := range out.Future {
		key := c.Start.Unix()
		out.ByStart[key] = append(out.ByStart[key], c)
	}
	return out
}

// Settings returns the guild's stored configuration.
func (s *Service) Settings(guildID string) (settings.Settings, error) {
	g, ok := s.store.Lookup(guildID)
	if !ok {
		return settings.Settings{}, settings.ErrNotConfigured
	}
	return g, nil
}

// Configure sets the reminder destination and lead times, then rebuilds the
// guild's tasks. Settings are persisted before any task is armed.
func (s *Service) Configure(ctx context.Context, guildID, channelID, roleID string, before []int) (settings.Settings, error) {
	g, err := s.store.SetReminder(ctx, guildID, channelID, roleID, before)
	if err != nil {
		return settings.Settings{}, err
	}
	s.Reschedule(guildID)
	s.publishSettings(guildID, "configure")
	return g, nil
}

// SetTimezone changes how times render; tasks are rebuilt so already armed
// reminders pick up the new zone.
func (s *Service) SetTimezone(ctx context.Context, guildID, tz string) (settings.Settings, error) {
	g, err := s.store.SetTimezone(ctx, guildID, tz)
	if err != nil {
		return settings.Settings{}, err
	}
	s.Reschedule(guildID)
	s.publishSettings(guildID, "timezone")
	return g, nil
}

// Subscribe opens the guild's filter for the given websites and rebuilds
// tasks so the newly desired contests get reminders.
func (s *Service) Subscribe(ctx context.Context, guildID string, websites []string) (accepted, rejected []string, err error) {
	accepted, rejected, err = s.store.Subscribe(ctx, guildID, websites)
	if err != nil {
		return nil, nil, err
	}
	if len(accepted) > 0 {
		s.Reschedule(guildID)
		s.publishSettings(guildID, "subscribe")
	}
	return accepted, rejected, nil
}

// Unsubscribe closes the guild's filter for the given websites.
func (s *Service) Unsubscribe(ctx context.Context, guildID string, websites []string) (accepted, rejected []string, err error) {
	accepted, rejected, err = s.store.Unsubscribe(ctx, guildID, websites)
	if err != nil {
		return nil, nil, err
	}
	if len(accepted) > 0 {
		s.Reschedule(guildID)
		s.publishSettings(guildID, "unsubscribe")
	}
	return accepted, rejected, nil
}

// ResetPatterns restores the default website filter.
func (s *Service) ResetPatterns(ctx context.Context, guildID string) (settings.Settings, error) {
	g, err := s.store.ResetPatterns(ctx, guildID)
	if err != nil {
		return settings.Settings{}, err
	}
	s.Reschedule(guildID)
	s.publishSettings(guildID, "reset")
	return g, nil
}

// Clear drops the guild's settings and cancels its tasks.
func (s *Service) Clear(ctx context.Context, guildID string) error {
	if err := s.store.Clear(ctx, guildID); err != nil {
		return err
	}
	s.Reschedule(guildID)
	s.publishSettings(guildID, "clear")
	return nil
}

func (s *Service) publishSettings(guildID, op string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: eventbus.TypeSettingsChanged,
		Data: eventbus.SettingsChanged{GuildID: guildID, Op: op},
	})
}

func locationOf(tz string) *time.Location {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
