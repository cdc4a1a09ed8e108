package contest

import (
	"time"

	"remindbot/internal/clist"
)

// Contest is one upstream contest round. Values are rebuilt from scratch on
// every refresh; identity never survives a refresh, so nothing in this repo
// may compare contests by pointer across cycles.
type Contest struct {
	ID        int64
	Name      string
	Start     time.Time // UTC
	Duration  time.Duration
	URL       string
	Website   string
	WebsiteID int64
}

// End is the contest's end time (Start + Duration; Duration is never negative).
func (c Contest) End() time.Time { return c.Start.Add(c.Duration) }

const startLayout = "2006-01-02T15:04:05"

// FromRaw builds a Contest from an upstream record. The start string carries
// no offset and is defined to be UTC. Records with unparseable start times or
// negative durations are rejected.
func FromRaw(r clist.RawContest) (Contest, bool) {
	start, err := time.Parse(startLayout, r.Start)
	if err != nil {
		return Contest{}, false
	}
	if r.Duration < 0 {
		return Contest{}, false
	}
	return Contest{
		ID:        r.ID,
		Name:      r.Event,
		Start:     start.UTC(),
		Duration:  time.Duration(r.Duration) * time.Second,
		URL:       r.Href,
		Website:   r.Resource.Name,
		WebsiteID: r.Resource.ID,
	}, true
}

// FromRawAll converts a raw list, dropping malformed records.
func FromRawAll(raws []clist.RawContest) []Contest {
	out := make([]Contest, 0, len(raws))
	for _, r := range raws {
		if c, ok := FromRaw(r); ok {
			out = append(out, c)
		}
	}
	return out
}
