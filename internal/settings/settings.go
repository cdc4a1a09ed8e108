package settings

import (
	"errors"
	"sort"

	"remindbot/internal/contest"
)

// Configuration errors surfaced synchronously to the command layer. They are
// always recoverable and never crash the process.
var (
	ErrNotConfigured   = errors.New("guild is not configured")
	ErrInvalidLeadTime = errors.New("lead times must be positive minutes")
	ErrInvalidTimezone = errors.New("unrecognized timezone")
)

// Settings is one guild's reminder configuration.
//
// Persistence is tolerant of schema drift in both directions: obsolete fields
// in an old file are silently dropped by the JSON decoder, and fields missing
// from an old file take their defaults via normalize().
type Settings struct {
	ChannelID string `json:"channel_id,omitempty"`
	RoleID    string `json:"role_id,omitempty"`
	// Before holds lead times in minutes, kept in descending order.
	// Duplicates are permitted (wasteful, not wrong).
	Before   []int  `json:"before,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	// Per-website pattern overrides. Each guild owns deep copies seeded from
	// the built-in defaults; edits here never reach the shared tables.
	Allowed map[string][]string `json:"allowed_patterns,omitempty"`
	Denied  map[string][]string `json:"denied_patterns,omitempty"`
}

// newDefaults builds a fresh Settings seeded from the built-in tables.
func newDefaults() *Settings {
	s := &Settings{
		Timezone: "UTC",
		Allowed:  contest.DefaultAllowedPatterns(),
		Denied:   contest.DefaultDeniedPatterns(),
	}
	return s
}

// Configured reports whether the fields required for scheduling are all set.
func (s Settings) Configured() bool {
	return s.ChannelID != "" && s.RoleID != "" && len(s.Before) > 0
}

// normalize fills defaults for fields absent from a persisted record.
func (s *Settings) normalize() {
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if s.Allowed == nil {
		s.Allowed = contest.DefaultAllowedPatterns()
	}
	if s.Denied == nil {
		s.Denied = contest.DefaultDeniedPatterns()
	}
}

// clone returns a deep copy so callers can never alias store-owned state.
func (s *Settings) clone() Settings {
	cp := Settings{
		ChannelID: s.ChannelID,
		RoleID:    s.RoleID,
		Timezone:  s.Timezone,
		Before:    append([]int(nil), s.Before...),
		Allowed:   make(map[string][]string, len(s.Allowed)),
		Denied:    make(map[string][]string, len(s.Denied)),
	}
	for site, pats := range s.Allowed {
		cp.Allowed[site] = append([]string(nil), pats...)
	}
	for site, pats := range s.Denied {
		cp.Denied[site] = append([]string(nil), pats...)
	}
	return cp
}

// sortLeadTimes orders lead times descending, the order reminders fire in.
func sortLeadTimes(mins []int) []int {
	out := append([]int(nil), mins...)
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}
