// Package reschedule postpones delivered reminders by a symbolic offset
// anchored at the current server time.
package reschedule

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"remindbot/internal/domain"
	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

type Store interface {
	GetReminder(ctx context.Context, id int64) (domain.Reminder, error)
	Reschedule(ctx context.Context, id int64, due time.Time) error
}

type Engine struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	loc    atomic.Pointer[time.Location]
	strict atomic.Bool
}

func New(store Store, bus eventbus.Bus, log logx.Logger, loc *time.Location) *Engine {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	e := &Engine{
		store: store,
		bus:   bus,
		log:   log.With(logx.String("comp", "reschedule")),
		now:   time.Now,
	}
	e.SetLocation(loc)
	return e
}

func (e *Engine) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	e.loc.Store(loc)
}

// SetStrict makes unknown symbols fail with domain.ErrValidation.
func (e *Engine) SetStrict(v bool) { e.strict.Store(v) }

func (e *Engine) ComputeDelta(sym Symbol) (time.Duration, error) {
	return ComputeDelta(e.now(), e.loc.Load(), sym, e.strict.Load())
}

// Reschedule moves reminder id to now+delta(sym) and re-opens it.
// It returns the reminder as stored after the update.
func (e *Engine) Reschedule(ctx context.Context, id int64, sym Symbol) (domain.Reminder, error) {
	rem, err := e.store.GetReminder(ctx, id)
	if err != nil {
		return domain.Reminder{}, err
	}
	now := e.now()
	d, err := ComputeDelta(now, e.loc.Load(), sym, e.strict.Load())
	if err != nil {
		return domain.Reminder{}, err
	}
	due := now.Add(d)
	if err := e.store.Reschedule(ctx, id, due); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.log.Error("reschedule failed", logx.Int64("reminder_id", id), logx.Err(err))
		}
		return domain.Reminder{}, err
	}
	if !sym.Known() {
		e.log.Warn("unknown reschedule symbol, using default offset",
			logx.Int64("reminder_id", id), logx.String("symbol", string(sym)))
	}

	rem.Due = due.Truncate(time.Second)
	rem.Completed = false
	e.log.Info("reminder rescheduled",
		logx.Int64("reminder_id", id),
		logx.Int64("user_id", rem.UserID),
		logx.String("symbol", string(sym)),
		logx.String("due", domain.FormatDue(rem.Due, e.loc.Load())),
	)
	e.bus.Publish(eventbus.Event{
		Type: eventbus.ReminderRescheduled,
		Data: eventbus.ReminderEvent{ReminderID: id, UserID: rem.UserID, Symbol: string(sym)},
	})
	return rem, nil
}
