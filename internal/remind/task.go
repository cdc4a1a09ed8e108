package remind

import (
	"context"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/pkg/logx"
)

const sendTimeout = 30 * time.Second

// task is one armed reminder. Cancellation is the only way to interact with
// it after creation; a task that has already fired ignores the cancel.
type task struct {
	fireAt time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// spawn arms a reminder that fires at fireAt. A fire time that is already in
// the past yields a task that exits without sending. The returned task is
// tied to the service supervisor's context, so Stop cancels it too.
func (s *Service) spawn(r Reminder, fireAt time.Time) *task {
	ctx, cancel := context.WithCancel(s.sup.Context())
	t := &task{fireAt: fireAt, cancel: cancel, done: make(chan struct{})}

	s.sup.Go0("reminder:"+r.GuildID, func(context.Context) {
		defer close(t.done)
		defer cancel()

		delay := fireAt.Sub(s.now())
		if delay <= 0 {
			return
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			// The timer and a cancel can become ready in the same instant;
			// a cancelled task must not send even if the timer case won.
			if ctx.Err() != nil {
				return
			}
		}

		sendCtx, cancelSend := context.WithTimeout(context.Background(), sendTimeout)
		defer cancelSend()
		if err := s.sender.SendReminder(sendCtx, r); err != nil {
			s.log.Error("reminder send failed",
				logx.String("guild", r.GuildID),
				logx.Int("contests", len(r.Contests)),
				logx.Err(err))
			return
		}
		s.log.Info("reminder sent",
			logx.String("guild", r.GuildID),
			logx.Int("contests", len(r.Contests)),
			logx.Duration("lead", r.Lead))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{
				Type: eventbus.TypeReminderSent,
				Data: eventbus.ReminderSent{GuildID: r.GuildID, Contests: len(r.Contests)},
			})
		}
	})
	return t
}
