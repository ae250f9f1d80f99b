package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/domain"
	"remindbot/internal/eventbus"
	"remindbot/internal/planner"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

const (
	msgPlannerOff = "Planning is not configured right now. Please try again later."
	msgPlanFailed = "I couldn't process that message right now. Please try again in a few minutes."
	msgNoTasks    = "I couldn't find any tasks in that message. Try naming what to do and when."
)

// handleText runs the intake pipeline on a free-text message: plan, place,
// stage, and offer the staged rows for confirmation.
func (b *Bot) handleText(ctx context.Context, req *router.Request) error {
	if b.planner == nil || !b.planner.Ready() {
		return b.reply(ctx, req, msgPlannerOff)
	}
	uid := req.User.ID

	tags, err := b.store.ListTags(ctx, uid)
	if err != nil {
		return fmt.Errorf("list tags: %w", err)
	}
	tags = append([]domain.Tag{domain.DefaultTag(uid)}, tags...)

	planned, st, err := b.planner.Plan(ctx, tags, req.Text)
	if err != nil {
		req.Logger.Warn("planning failed", logx.Bool("upstream", planner.IsUpstream(err)), logx.Err(err))
		return b.reply(ctx, req, msgPlanFailed)
	}
	if len(planned) == 0 {
		return b.reply(ctx, req, msgNoTasks)
	}

	loc := b.loc()
	byName := make(map[string]domain.Tag, len(tags))
	for _, t := range tags {
		byName[strings.ToLower(t.Name)] = t
	}

	round := make([]domain.StagedReminder, 0, len(planned))
	for _, p := range planned {
		round = append(round, domain.StagedReminder{Text: p.Text, Tag: p.Tag, Due: b.place(ctx, req, p, byName, loc)})
	}
	staged, err := b.store.StageReminders(ctx, uid, round)
	if err != nil {
		return fmt.Errorf("stage reminders: %w", err)
	}
	for _, s := range staged {
		b.bus.Publish(eventbus.Event{
			Type: eventbus.ReminderStaged,
			Data: eventbus.ReminderEvent{ReminderID: s.ID, UserID: uid},
		})
	}
	req.Logger.Info("reminders staged",
		logx.Int("staged", len(staged)),
		logx.Int("rejected", st.Rejected),
		logx.Int("dropped", st.Dropped),
	)

	items, err := b.store.ListStaged(ctx, uid)
	if err != nil {
		return fmt.Errorf("list staged: %w", err)
	}
	return b.send(ctx, req, stagedMessage(items, b.now(), loc, intakeNote(st)))
}

// place returns the due time of a planned task. A missing or past time goes
// to the nearest free slot, or now+spacing when the tag has none; the result
// is then moved into the tag's daily window.
func (b *Bot) place(ctx context.Context, req *router.Request, p planner.PlannedTask, tags map[string]domain.Tag, loc *time.Location) time.Time {
	now := b.now()
	due := p.Due
	if due.IsZero() || !due.After(now) {
		slot, err := b.slots.SelectNearestSlot(ctx, req.User.ID, p.Tag)
		if err != nil {
			if !isNotFound(err) {
				req.Logger.Warn("slot selection", logx.String("tag", p.Tag), logx.Err(err))
			}
			slot = now.Add(b.slots.Spacing())
		}
		due = slot
	}

	tag, ok := tags[strings.ToLower(p.Tag)]
	if !ok {
		tag = domain.DefaultTag(req.User.ID)
	}
	return tag.Window.NextOpen(due, loc)
}

func intakeNote(st planner.Stats) string {
	var parts []string
	if st.Rejected > 0 {
		parts = append(parts, fmt.Sprintf("%d entr%s couldn't be understood", st.Rejected, plural(st.Rejected, "y", "ies")))
	}
	if st.Dropped > 0 {
		parts = append(parts, fmt.Sprintf("%d over the limit were skipped", st.Dropped))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Note: " + strings.Join(parts, ", ") + "."
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
