package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known event types published by the bot's components.
const (
	TypeSnapshotRefreshed = "snapshot.refreshed"
	TypeReminderSent      = "reminder.sent"
	TypeSettingsChanged   = "settings.changed"
	TypeConfigReloaded    = "config.reloaded"
)

// Event is a lightweight in-memory signal used to decouple components.
//
// Contract:
//   - Publish is non-blocking.
//   - Subscribers use buffered channels.
//   - Slow subscribers drop events rather than stall publishers.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// SnapshotRefreshed is the Data payload for TypeSnapshotRefreshed.
type SnapshotRefreshed struct {
	Contests int
	// Stale marks a cycle that reused the persisted snapshot without a fetch.
	Stale bool
}

// ReminderSent is the Data payload for TypeReminderSent.
type ReminderSent struct {
	GuildID  string
	Contests int
}

// SettingsChanged is the Data payload for TypeSettingsChanged.
type SettingsChanged struct {
	GuildID string
	Op      string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus with no background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. A concurrent unsubscribe may close the
		// channel, so recover from a possible send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
