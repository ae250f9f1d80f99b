// Package dispatch delivers due reminders. One Tick is one poll: list what is
// due, deliver each reminder, and mark it completed only after the send
// succeeded. A failed send leaves the reminder open for the next tick.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/domain"
	"remindbot/internal/eventbus"
	"remindbot/internal/reschedule"
	logx "remindbot/pkg/logx"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultSendTimeout = 15 * time.Second

	markTimeout = 5 * time.Second

	reminderPrefix    = "⏰ Reminder: "
	advisorySeparator = "\n\n---\n"
)

type Store interface {
	ListDue(ctx context.Context, asOf time.Time) ([]domain.Reminder, error)
	GetUser(ctx context.Context, id int64) (domain.User, error)
	MarkCompleted(ctx context.Context, id int64) error
}

// Delivery is one outbound reminder message.
type Delivery struct {
	ChatID     int64
	ReminderID int64
	Text       string
	Actions    [][]reschedule.Symbol
}

type Sender interface {
	Deliver(ctx context.Context, d Delivery) error
}

type Alerter interface {
	Alert(ctx context.Context, a *domain.Anomaly) error
}

// TickReport summarizes one poll.
type TickReport struct {
	ID        string        `json:"id"`
	At        time.Time     `json:"at"`
	Due       int           `json:"due"`
	Delivered int           `json:"delivered"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Took      time.Duration `json:"took"`
	Err       string        `json:"err,omitempty"`
}

type Options struct {
	SendTimeout time.Duration
}

type Dispatcher struct {
	store  Store
	sender Sender
	alert  Alerter
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time

	mu          sync.RWMutex
	sendTimeout time.Duration
	loc         *time.Location
	last        TickReport
}

func New(store Store, sender Sender, alert Alerter, bus eventbus.Bus, log logx.Logger, loc *time.Location, opt Options) *Dispatcher {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	d := &Dispatcher{
		store:  store,
		sender: sender,
		alert:  alert,
		bus:    bus,
		log:    log.With(logx.String("comp", "dispatch")),
		now:    time.Now,
	}
	d.Apply(loc, opt)
	return d
}

// Apply swaps the tunables. Safe while ticks run.
func (d *Dispatcher) Apply(loc *time.Location, opt Options) {
	if loc == nil {
		loc = time.UTC
	}
	if opt.SendTimeout <= 0 {
		opt.SendTimeout = DefaultSendTimeout
	}
	d.mu.Lock()
	d.loc = loc
	d.sendTimeout = opt.SendTimeout
	d.mu.Unlock()
}

func (d *Dispatcher) LastReport() TickReport {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

// Tick runs one dispatch pass. Per-reminder failures are logged and counted;
// only a failing ListDue is returned as an error.
func (d *Dispatcher) Tick(ctx context.Context) (TickReport, error) {
	d.mu.RLock()
	loc, timeout := d.loc, d.sendTimeout
	d.mu.RUnlock()

	start := time.Now()
	now := d.now()
	rep := TickReport{ID: uuid.NewString(), At: now}
	log := d.log.With(logx.String("tick", rep.ID))

	due, err := d.store.ListDue(ctx, now)
	if err != nil {
		rep.Err = err.Error()
		rep.Took = time.Since(start)
		d.finish(rep)
		log.Error("list due failed", logx.Err(err))
		return rep, fmt.Errorf("list due: %w", err)
	}
	rep.Due = len(due)

	users := map[int64]*domain.User{}
	for _, r := range due {
		if ctx.Err() != nil {
			break
		}
		switch d.deliverOne(ctx, log, r, now, loc, timeout, users) {
		case outcomeDelivered:
			rep.Delivered++
		case outcomeFailed:
			rep.Failed++
		default:
			rep.Skipped++
		}
	}

	rep.Took = time.Since(start)
	d.finish(rep)
	if rep.Due > 0 {
		log.Info("dispatch tick",
			logx.Int("due", rep.Due),
			logx.Int("delivered", rep.Delivered),
			logx.Int("retry", rep.Failed),
			logx.Int("skipped", rep.Skipped),
			logx.Duration("took", rep.Took),
		)
	}
	return rep, nil
}

func (d *Dispatcher) finish(rep TickReport) {
	d.mu.Lock()
	d.last = rep
	d.mu.Unlock()
	d.bus.Publish(eventbus.Event{Type: eventbus.DispatchTick, Data: rep})
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDelivered
	outcomeFailed
)

func (d *Dispatcher) deliverOne(ctx context.Context, log logx.Logger, r domain.Reminder, now time.Time, loc *time.Location, timeout time.Duration, users map[int64]*domain.User) outcome {
	log = log.With(logx.Int64("reminder_id", r.ID), logx.Int64("user_id", r.UserID))

	if r.Due.After(now) {
		d.raise(ctx, log, &domain.Anomaly{
			Kind:       domain.AnomalyFutureDue,
			ReminderID: r.ID,
			UserID:     r.UserID,
			Detail:     fmt.Sprintf("due %s, now %s", domain.FormatDue(r.Due, loc), domain.FormatDue(now, loc)),
		})
		return outcomeSkipped
	}

	u, err := d.lookupUser(ctx, r.UserID, users)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			d.raise(ctx, log, &domain.Anomaly{Kind: domain.AnomalyOrphanedUser, ReminderID: r.ID, UserID: r.UserID})
			return outcomeSkipped
		}
		log.Error("user lookup failed", logx.Err(err))
		return outcomeFailed
	}

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	err = d.sender.Deliver(sendCtx, Delivery{
		ChatID:     u.ID,
		ReminderID: r.ID,
		Text:       ComposeText(r),
		Actions:    reschedule.Layout,
	})
	cancel()
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrDelivery, err)
		log.Warn("delivery failed, will retry next tick", logx.Err(err))
		d.bus.Publish(eventbus.Event{
			Type: eventbus.ReminderDeliveryFailed,
			Data: eventbus.ReminderEvent{ReminderID: r.ID, UserID: r.UserID, Err: err.Error()},
		})
		return outcomeFailed
	}

	// The message is out: record it even when the tick's deadline passed
	// while the send was in flight.
	markCtx, cancelMark := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	err = d.store.MarkCompleted(markCtx, r.ID)
	cancelMark()
	if err != nil {
		// Delivered but still open: the next tick sends it again.
		log.Error("mark completed failed", logx.Err(err))
		return outcomeFailed
	}
	d.bus.Publish(eventbus.Event{
		Type: eventbus.ReminderDelivered,
		Data: eventbus.ReminderEvent{ReminderID: r.ID, UserID: r.UserID},
	})
	return outcomeDelivered
}

func (d *Dispatcher) lookupUser(ctx context.Context, id int64, cache map[int64]*domain.User) (domain.User, error) {
	if u, ok := cache[id]; ok {
		if u == nil {
			return domain.User{}, domain.ErrNotFound
		}
		return *u, nil
	}
	u, err := d.store.GetUser(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		cache[id] = nil
		return domain.User{}, err
	}
	if err != nil {
		return domain.User{}, err
	}
	cache[id] = &u
	return u, nil
}

func (d *Dispatcher) raise(ctx context.Context, log logx.Logger, a *domain.Anomaly) {
	if d.alert == nil {
		log.Warn("anomaly", logx.String("kind", string(a.Kind)), logx.String("detail", a.Detail))
		return
	}
	if err := d.alert.Alert(ctx, a); err != nil {
		log.Warn("operator alert not queued", logx.Err(err))
	}
}

// ComposeText renders the delivered message body: the reminder text and,
// when present, the advisory as a separate block.
func ComposeText(r domain.Reminder) string {
	text := reminderPrefix + r.Text
	if r.HasAdvisory() {
		text += advisorySeparator + r.Advisory
	}
	return text
}
