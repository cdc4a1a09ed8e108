package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"remindbot/internal/contest"
	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

const (
	settingsKey  = "guild_settings"
	backupPrefix = "guild_settings.backup."
	// backupKeep bounds how many timestamped snapshots survive pruning.
	backupKeep = 14
)

// Store keeps every guild's Settings in memory and mirrors the full map to a
// storage.Store on each mutation. The in-memory map is authoritative between
// process restarts; the persisted blob is only read at startup.
type Store struct {
	blobs storage.Store
	log   logx.Logger
	now   func() time.Time

	mu     sync.Mutex
	guilds map[string]*Settings
}

func NewStore(blobs storage.Store, log logx.Logger) *Store {
	return &Store{
		blobs:  blobs,
		log:    log,
		now:    time.Now,
		guilds: make(map[string]*Settings),
	}
}

// Load reads the persisted settings map. A missing key or an unreadable blob
// both start the store empty; corrupt data is logged and set aside rather
// than crashing startup.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.blobs.Get(ctx, settingsKey)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return fmt.Errorf("settings: load: %w", err)
	}
	var guilds map[string]*Settings
	if err := json.Unmarshal(data, &guilds); err != nil {
		s.log.Warn("settings blob is corrupt, starting empty", logx.Err(err))
		return nil
	}
	for id, g := range guilds {
		// A null value decodes to a nil entry; treat it like an absent guild.
		if g == nil {
			delete(guilds, id)
			continue
		}
		g.normalize()
	}
	s.mu.Lock()
	s.guilds = guilds
	if s.guilds == nil {
		s.guilds = make(map[string]*Settings)
	}
	s.mu.Unlock()
	s.log.Info("settings loaded", logx.Int("guilds", len(guilds)))
	return nil
}

// save persists the whole map. Callers must hold s.mu.
func (s *Store) save(ctx context.Context) error {
	data, err := json.Marshal(s.guilds)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := s.blobs.Put(ctx, settingsKey, data); err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	return nil
}

// Backup writes a timestamped snapshot alongside the live key. Backups are
// never overwritten and never read back by the process.
func (s *Store) Backup(ctx context.Context) (string, error) {
	s.mu.Lock()
	data, err := json.Marshal(s.guilds)
	s.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("settings: encode: %w", err)
	}
	key := backupPrefix + s.now().UTC().Format("20060102T150405Z")
	if err := s.blobs.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("settings: backup: %w", err)
	}
	s.log.Info("settings backed up", logx.String("key", key))
	s.prune(ctx)
	return key, nil
}

// prune drops the oldest backups once more than backupKeep exist. The UTC
// timestamp suffix makes lexical key order chronological.
func (s *Store) prune(ctx context.Context) {
	keys, err := s.blobs.Keys(ctx, backupPrefix)
	if err != nil {
		s.log.Warn("backup listing failed, skipping prune", logx.Err(err))
		return
	}
	if len(keys) <= backupKeep {
		return
	}
	for _, key := range keys[:len(keys)-backupKeep] {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.log.Warn("backup prune failed", logx.String("key", key), logx.Err(err))
			continue
		}
		s.log.Debug("old backup pruned", logx.String("key", key))
	}
}

// get returns the live record for a guild, creating one with defaults on
// first access. Callers must hold s.mu.
func (s *Store) get(guildID string) *Settings {
	g, ok := s.guilds[guildID]
	if !ok {
		g = newDefaults()
		s.guilds[guildID] = g
	}
	return g
}

// Get returns a deep copy of the guild's settings, creating a default record
// if the guild has never been seen.
func (s *Store) Get(guildID string) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(guildID).clone()
}

// Lookup is Get without the create side effect.
func (s *Store) Lookup(guildID string) (Settings, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guilds[guildID]
	if !ok {
		return Settings{}, false
	}
	return g.clone(), true
}

// GuildIDs lists every guild with a settings record.
func (s *Store) GuildIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.guilds))
	for id := range s.guilds {
		ids = append(ids, id)
	}
	return ids
}

// SetReminder configures the reminder destination and lead times for a guild.
// Lead times must be positive; they are stored in descending order.
func (s *Store) SetReminder(ctx context.Context, guildID, channelID, roleID string, before []int) (Settings, error) {
	if channelID == "" || roleID == "" || len(before) == 0 {
		return Settings{}, ErrNotConfigured
	}
	for _, m := range before {
		if m <= 0 {
			return Settings{}, fmt.Errorf("%w: %d", ErrInvalidLeadTime, m)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.get(guildID)
	g.ChannelID = channelID
	g.RoleID = roleID
	g.Before = sortLeadTimes(before)
	if err := s.save(ctx); err != nil {
		return Settings{}, err
	}
	return g.clone(), nil
}

// SetTimezone validates the name against the tz database before storing it.
func (s *Store) SetTimezone(ctx context.Context, guildID, tz string) (Settings, error) {
	if _, err := time.LoadLocation(tz); err != nil || tz == "" {
		return Settings{}, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.get(guildID)
	g.Timezone = tz
	if err := s.save(ctx); err != nil {
		return Settings{}, err
	}
	return g.clone(), nil
}

// Subscribe opens each recognized website fully: every contest from it
// passes the guild's filter. Unknown names are reported back rather than
// failing the whole call.
func (s *Store) Subscribe(ctx context.Context, guildID string, websites []string) (accepted, rejected []string, err error) {
	return s.setPatterns(ctx, guildID, websites, func(g *Settings, site string) {
		// The empty allow pattern matches every contest name.
		g.Allowed[site] = []string{""}
		g.Denied[site] = []string{}
	})
}

// Unsubscribe closes each recognized website: with no allow patterns nothing
// from it is desired.
func (s *Store) Unsubscribe(ctx context.Context, guildID string, websites []string) (accepted, rejected []string, err error) {
	return s.setPatterns(ctx, guildID, websites, func(g *Settings, site string) {
		g.Allowed[site] = []string{}
	})
}

func (s *Store) setPatterns(ctx context.Context, guildID string, websites []string, apply func(g *Settings, site string)) (accepted, rejected []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.get(guildID)
	for _, site := range websites {
		site = strings.ToLower(strings.TrimSpace(site))
		if !contest.IsSupportedWebsite(site) {
			rejected = append(rejected, site)
			continue
		}
		apply(g, site)
		accepted = append(accepted, site)
	}
	if len(accepted) > 0 {
		if err := s.save(ctx); err != nil {
			return nil, nil, err
		}
	}
	return accepted, rejected, nil
}

// ResetPatterns restores the guild's pattern tables to the built-in defaults
// without touching its destination or lead times.
func (s *Store) ResetPatterns(ctx context.Context, guildID string) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.get(guildID)
	g.Allowed = contest.DefaultAllowedPatterns()
	g.Denied = contest.DefaultDeniedPatterns()
	if err := s.save(ctx); err != nil {
		return Settings{}, err
	}
	return g.clone(), nil
}

// Clear drops the guild's record entirely. The next access recreates it with
// defaults.
func (s *Store) Clear(ctx context.Context, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.guilds[guildID]; !ok {
		return nil
	}
	delete(s.guilds, guildID)
	return s.save(ctx)
}
