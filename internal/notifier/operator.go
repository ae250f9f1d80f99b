package notifier

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"remindbot/internal/domain"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Enqueuer is the part of Service the operator channel needs.
type Enqueuer interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// Operator fans anomaly alerts out to every bot owner and the optional
// operator group chat.
type Operator struct {
	n      Enqueuer
	direct kit.Adapter
	log    logx.Logger

	mu      sync.RWMutex
	targets []kit.ChatTarget
}

func NewOperator(n Enqueuer, log logx.Logger) *Operator {
	return &Operator{n: n, log: log.With(logx.String("comp", "operator"))}
}

// SetTargets replaces the alert recipients. Zero ids are ignored.
func (o *Operator) SetTargets(ownerIDs []int64, groupLog int64) {
	ids := make([]int64, 0, len(ownerIDs)+1)
	for _, id := range append(slices.Clone(ownerIDs), groupLog) {
		if id != 0 && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	targets := make([]kit.ChatTarget, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, kit.ChatTarget{ChatID: id})
	}
	o.mu.Lock()
	o.targets = targets
	o.mu.Unlock()
}

// SetFallback makes Send deliver straight through ad while the queue is
// disabled, so alerts still reach the operators.
func (o *Operator) SetFallback(ad kit.Adapter) {
	o.mu.Lock()
	o.direct = ad
	o.mu.Unlock()
}

func (o *Operator) Targets() []kit.ChatTarget {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.targets)
}

// Alert reports an anomaly. The anomaly is always logged; delivery errors
// are joined and returned for the caller to log.
func (o *Operator) Alert(ctx context.Context, a *domain.Anomaly) error {
	if a == nil {
		return nil
	}
	o.log.Warn("anomaly",
		logx.String("kind", string(a.Kind)),
		logx.Int64("reminder_id", a.ReminderID),
		logx.Int64("user_id", a.UserID),
	)
	return o.Send(ctx, FormatAnomaly(a), anomalyPriority(a.Kind))
}

// Send enqueues text for every operator target.
func (o *Operator) Send(ctx context.Context, text string, priority int) error {
	targets := o.Targets()
	o.mu.RLock()
	direct := o.direct
	o.mu.RUnlock()
	if len(targets) == 0 {
		o.log.Warn("operator alert has no recipients")
		return nil
	}
	var errs []error
	opts := &kit.SendOptions{DisablePreview: true}
	for _, to := range targets {
		err := o.n.Notify(ctx, kit.Notification{
			Channel:  "telegram",
			Priority: priority,
			Target:   to,
			Text:     text,
			Options:  opts,
		})
		if errors.Is(err, ErrDisabled) && direct != nil {
			_, err = direct.SendText(ctx, to, prefixForPriority(priority)+text, opts)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", to.ChatID, err))
		}
	}
	return errors.Join(errs...)
}

func anomalyPriority(k domain.AnomalyKind) int {
	switch k {
	case domain.AnomalyFutureDue, domain.AnomalyDeliveryLag:
		return 9
	default:
		return 7
	}
}

// FormatAnomaly renders the operator-facing alert text.
func FormatAnomaly(a *domain.Anomaly) string {
	switch a.Kind {
	case domain.AnomalyFutureDue:
		return fmt.Sprintf("Reminder %d (user %d) was returned as due before its due time.\n%s", a.ReminderID, a.UserID, a.Detail)
	case domain.AnomalyOrphanedUser:
		return fmt.Sprintf("Reminder %d belongs to unknown user %d; skipped.", a.ReminderID, a.UserID)
	case domain.AnomalyDeliveryLag:
		return fmt.Sprintf("Reminder %d (user %d) is overdue: %s", a.ReminderID, a.UserID, a.Detail)
	case domain.AnomalyLogErrors:
		return "Errors in the log:\n" + a.Detail
	default:
		return a.Error()
	}
}
