package contest

import (
	"sort"
	"time"
)

// FinishedLimit is how many recently finished contests are kept by default.
const FinishedLimit = 5

// Classification partitions one refresh's contest list by time:
//
//	future:   start > now, ascending by start
//	active:   start <= now <= end, ascending by start
//	finished: end < now, descending by end, truncated to the most recent few
//
// ByStart groups the future bucket by exact start instant (unix seconds);
// rounds of one tournament series often share a start and are reminded in a
// single message. A Classification is rebuilt wholesale every cycle and never
// patched incrementally.
type Classification struct {
	Future   []Contest
	Active   []Contest
	Finished []Contest
	ByStart  map[int64][]Contest
}

// Classify is a pure function of the contest list and the given instant.
func Classify(list []Contest, now time.Time, finishedLimit int) Classification {
	if finishedLimit <= 0 {
		finishedLimit = FinishedLimit
	}

	cls := Classification{ByStart: make(map[int64][]Contest)}
	for _, c := range list {
		switch {
		case c.Start.After(now):
			cls.Future = append(cls.Future, c)
		case c.End().Before(now):
			cls.Finished = append(cls.Finished, c)
		default:
			cls.Active = append(cls.Active, c)
		}
	}

	sort.SliceStable(cls.Future, func(i, j int) bool {
		return cls.Future[i].Start.Before(cls.Future[j].Start)
	})
	sort.SliceStable(cls.Active, func(i, j int) bool {
		return cls.Active[i].Start.Before(cls.Active[j].Start)
	})
	sort.SliceStable(cls.Finished, func(i, j int) bool {
		return cls.Finished[i].End().After(cls.Finished[j].End())
	})
	if len(cls.Finished) > finishedLimit {
		cls.Finished = cls.Finished[:finishedLimit]
	}

	for _, c := range cls.Future {
		key := c.Start.Unix()
		cls.ByStart[key] = append(cls.ByStart[key], c)
	}
	return cls
}
