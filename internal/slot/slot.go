// Package slot places a new reminder next to the user's existing reminders
// under one tag, keeping them spaced apart.
package slot

import (
	"context"
	"sort"
	"time"

	"remindbot/internal/domain"
)

// DefaultSpacing is the optimal gap between two reminders of one tag.
const DefaultSpacing = 30 * time.Minute

// Store is the read side the engine needs.
type Store interface {
	GetTagByName(ctx context.Context, userID int64, name string) (domain.Tag, error)
	ListByTag(ctx context.Context, userID int64, tag string) ([]domain.Reminder, error)
}

type Engine struct {
	store   Store
	spacing time.Duration
	now     func() time.Time
}

func New(store Store, spacing time.Duration) *Engine {
	if spacing <= 0 {
		spacing = DefaultSpacing
	}
	return &Engine{store: store, spacing: spacing, now: time.Now}
}

func (e *Engine) Spacing() time.Duration { return e.spacing }

// SelectNearestSlot returns the instant right after the first future
// reminder whose successor is further than the spacing away, or now+spacing
// when no such gap exists. The tag must resolve to one of the user's tags
// (the virtual default tag always does); otherwise domain.ErrNotFound is
// returned and the caller picks its own fallback.
func (e *Engine) SelectNearestSlot(ctx context.Context, userID int64, tagName string) (time.Time, error) {
	name, err := e.resolve(ctx, userID, tagName)
	if err != nil {
		return time.Time{}, err
	}
	rems, err := e.store.ListByTag(ctx, userID, name)
	if err != nil {
		return time.Time{}, err
	}

	due := make([]time.Time, 0, len(rems))
	for _, r := range rems {
		due = append(due, r.Due)
	}
	now := e.now()
	return nearest(due, now, e.spacing), nil
}

func (e *Engine) resolve(ctx context.Context, userID int64, tagName string) (string, error) {
	if domain.IsDefaultTag(tagName) {
		return domain.DefaultTagName, nil
	}
	t, err := e.store.GetTagByName(ctx, userID, tagName)
	if err != nil {
		return "", err
	}
	return t.Name, nil
}

func nearest(due []time.Time, now time.Time, spacing time.Duration) time.Time {
	sort.SliceStable(due, func(i, j int) bool { return due[i].Before(due[j]) })
	for i := 0; i+1 < len(due); i++ {
		if !due[i].After(now) {
			continue
		}
		if due[i+1].Sub(due[i]) > spacing {
			return due[i].Add(spacing)
		}
	}
	return now.Add(spacing)
}
