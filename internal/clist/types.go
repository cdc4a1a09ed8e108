package clist

import (
	"errors"
	"time"
)

// RawContest is one contest record as returned by the clist.by API.
//
// Start is an ISO-8601-like local string without offset ("2006-01-02T15:04:05")
// and is interpreted as UTC. Duration is in seconds.
type RawContest struct {
	ID       int64  `json:"id"`
	Event    string `json:"event"`
	Start    string `json:"start"`
	Duration int64  `json:"duration"`
	Href     string `json:"href"`
	Resource struct {
		Name string `json:"name"`
		ID   int64  `json:"id"`
	} `json:"resource"`
}

// Snapshot is the persisted contest cache: the raw list plus its fetch time.
// The field names mirror the on-disk layout the bot has always used.
type Snapshot struct {
	FetchedAt int64        `json:"querytime"` // unix seconds
	Contests  []RawContest `json:"objects"`
}

// Age reports how old the snapshot is relative to now.
func (s Snapshot) Age(now time.Time) time.Duration {
	if s.FetchedAt <= 0 {
		return 1<<62 - 1
	}
	return now.Sub(time.Unix(s.FetchedAt, 0))
}

// ErrUpstream marks any failure talking to the contest-listing API:
// network errors, non-200 statuses, undecodable bodies.
// Recovery is always "keep the last good snapshot".
var ErrUpstream = errors.New("clist api error")
