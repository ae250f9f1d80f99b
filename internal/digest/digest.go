// Package digest sends each user a morning summary of what is due today.
package digest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"remindbot/internal/domain"
	logx "remindbot/pkg/logx"
)

// DefaultAt is the local time the digest goes out.
const DefaultAt = "07:00"

type Store interface {
	ListDue(ctx context.Context, asOf time.Time) ([]domain.Reminder, error)
	GetUser(ctx context.Context, id int64) (domain.User, error)
}

type Sender interface {
	SendPlain(ctx context.Context, chatID int64, text string) error
}

type Result struct {
	Users    int
	Sent     int
	Orphaned int
}

type Job struct {
	store  Store
	sender Sender
	log    logx.Logger
	loc    func() *time.Location
	now    func() time.Time
}

// New builds the job. loc is read on every run so a reloaded timezone
// applies to the next digest.
func New(store Store, sender Sender, log logx.Logger, loc func() *time.Location) *Job {
	return &Job{
		store:  store,
		sender: sender,
		log:    log.With(logx.String("comp", "digest")),
		loc:    loc,
		now:    time.Now,
	}
}

// Run sends one message per user with open reminders due before the end of
// today, server time.
func (j *Job) Run(ctx context.Context) (Result, error) {
	var res Result
	loc := j.loc()
	now := j.now()
	due, err := j.store.ListDue(ctx, EndOfDay(now, loc))
	if err != nil {
		return res, err
	}

	perUser := map[int64][]domain.Reminder{}
	var order []int64
	for _, r := range due {
		if _, ok := perUser[r.UserID]; !ok {
			order = append(order, r.UserID)
		}
		perUser[r.UserID] = append(perUser[r.UserID], r)
	}
	res.Users = len(order)

	for _, uid := range order {
		u, err := j.store.GetUser(ctx, uid)
		if errors.Is(err, domain.ErrNotFound) {
			res.Orphaned++
			j.log.Warn("digest owner missing", logx.Int64("user_id", uid))
			continue
		}
		if err != nil {
			j.log.Warn("digest user lookup", logx.Int64("user_id", uid), logx.Err(err))
			continue
		}
		if err := j.sender.SendPlain(ctx, u.ID, Compose(perUser[uid], now, loc)); err != nil {
			j.log.Warn("digest send", logx.Int64("user_id", uid), logx.Err(err))
			continue
		}
		res.Sent++
	}
	j.log.Info("digest sent", logx.Int("users", res.Users), logx.Int("sent", res.Sent))
	return res, nil
}

// Compose renders the digest body.
func Compose(rems []domain.Reminder, now time.Time, loc *time.Location) string {
	rems = append([]domain.Reminder(nil), rems...)
	sort.SliceStable(rems, func(i, k int) bool { return rems[i].Due.Before(rems[k].Due) })

	var b strings.Builder
	b.WriteString("Good morning! Here is what's on today:")
	for _, r := range rems {
		fmt.Fprintf(&b, "\n%s (%s) [%s]", r.Text, domain.FormatShort(r.Due, now, loc), r.Tag)
	}
	return b.String()
}

// EndOfDay returns 23:59:59 of t's calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	d := t.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, loc)
}
