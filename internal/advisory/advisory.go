// Package advisory attaches a short model-written tip to reminders that are
// about to come due.
package advisory

import (
	"context"
	"time"

	"remindbot/internal/domain"
	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultHorizon  = 5 * time.Hour
)

type Store interface {
	ListDue(ctx context.Context, asOf time.Time) ([]domain.Reminder, error)
	SetAdvisoryIfEmpty(ctx context.Context, id int64, text string) (bool, error)
}

type Adviser interface {
	Ready() bool
	Advise(ctx context.Context, text string) (advice string, ok bool, err error)
}

// Result counts one pass.
type Result struct {
	Checked  int
	Attached int
	Empty    int
	Missed   int
}

type Job struct {
	store   Store
	adviser Adviser
	bus     eventbus.Bus
	log     logx.Logger
	horizon time.Duration
	now     func() time.Time
}

func New(store Store, adviser Adviser, bus eventbus.Bus, log logx.Logger, horizon time.Duration) *Job {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Job{
		store:   store,
		adviser: adviser,
		bus:     bus,
		log:     log.With(logx.String("comp", "advisory")),
		horizon: horizon,
		now:     time.Now,
	}
}

// Run asks for an advisory for every open reminder due within the horizon
// that has none yet. A reminder that gets nothing useful stays without one
// and is asked about again on the next pass.
func (j *Job) Run(ctx context.Context) (Result, error) {
	var res Result
	if !j.adviser.Ready() {
		return res, nil
	}
	due, err := j.store.ListDue(ctx, j.now().Add(j.horizon))
	if err != nil {
		return res, err
	}
	for _, r := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if r.HasAdvisory() {
			continue
		}
		res.Checked++
		advice, ok, err := j.adviser.Advise(ctx, r.Text)
		if err != nil {
			res.Missed++
			j.log.Warn("advisory request", logx.Int64("reminder_id", r.ID), logx.Err(err))
			continue
		}
		if !ok {
			res.Empty++
			continue
		}
		set, err := j.store.SetAdvisoryIfEmpty(ctx, r.ID, advice)
		switch {
		case err != nil:
			res.Missed++
			j.log.Warn("advisory save", logx.Int64("reminder_id", r.ID), logx.Err(err))
			continue
		case !set:
			continue
		}
		res.Attached++
		j.bus.Publish(eventbus.Event{
			Type: eventbus.AdvisoryAttached,
			Data: eventbus.ReminderEvent{ReminderID: r.ID, UserID: r.UserID},
		})
	}
	if res.Checked > 0 {
		j.log.Info("advisory pass",
			logx.Int("checked", res.Checked),
			logx.Int("attached", res.Attached),
			logx.Int("empty", res.Empty),
			logx.Int("missed", res.Missed),
		)
	}
	return res, nil
}
