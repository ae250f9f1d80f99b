package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"remindbot/internal/domain"
	"remindbot/internal/eventbus"
	"remindbot/internal/reschedule"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

const (
	toastHandled = "Already handled."
	toastNotYour = "Not yours."
	toastBadData = "This button is no longer active."
)

func (b *Bot) cbConfirmStaged(ctx context.Context, req *router.Request) error {
	id, ok := parseID(req.Payload)
	if !ok {
		req.Toast = toastBadData
		return nil
	}
	s, err := b.store.GetStaged(ctx, id)
	switch {
	case isNotFound(err):
		req.Toast = toastHandled
		return nil
	case err != nil:
		return fmt.Errorf("get staged: %w", err)
	case s.UserID != req.User.ID:
		req.Toast = toastNotYour
		return nil
	}

	rem, err := b.store.PromoteStaged(ctx, id)
	if isNotFound(err) {
		req.Toast = toastHandled
		return nil
	}
	if err != nil {
		return fmt.Errorf("promote staged: %w", err)
	}
	b.bus.Publish(eventbus.Event{
		Type: eventbus.ReminderPromoted,
		Data: eventbus.ReminderEvent{ReminderID: rem.ID, UserID: rem.UserID},
	})
	req.Logger.Info("reminder confirmed", logx.Int64("staged_id", id), logx.Int64("reminder_id", rem.ID))

	now, loc := b.now(), b.loc()
	if err := b.reply(ctx, req, fmt.Sprintf("Reminder %q added for %s!", rem.Text, domain.FormatShort(rem.Due, now, loc))); err != nil {
		return err
	}
	req.Toast = "Added"
	return b.refreshStaged(ctx, req)
}

func (b *Bot) cbDiscardStaged(ctx context.Context, req *router.Request) error {
	n, err := b.store.DiscardAllStaged(ctx, req.User.ID)
	if err != nil {
		return fmt.Errorf("discard staged: %w", err)
	}
	req.Logger.Info("staged reminders discarded", logx.Int("count", n))
	text := fmt.Sprintf("Discarded %d pending reminder%s.", n, plural(n, "", "s"))
	return b.editOrReply(ctx, req, tgui.New().Line(text).Build())
}

// refreshStaged redraws the confirmation message with what is still pending.
func (b *Bot) refreshStaged(ctx context.Context, req *router.Request) error {
	items, err := b.store.ListStaged(ctx, req.User.ID)
	if err != nil {
		return fmt.Errorf("list staged: %w", err)
	}
	if len(items) == 0 {
		return b.editOrReply(ctx, req, tgui.New().Line("All set.").Build())
	}
	return b.editOrReply(ctx, req, stagedMessage(items, b.now(), b.loc(), ""))
}

// cbReschedule handles "rem:rs:<id>:<symbol>".
func (b *Bot) cbReschedule(ctx context.Context, req *router.Request) error {
	idPart, symPart, _ := strings.Cut(req.Payload, ":")
	id, ok := parseID(idPart)
	if !ok || symPart == "" {
		req.Toast = toastBadData
		return nil
	}
	if ok, err := b.owns(ctx, req, id); !ok || err != nil {
		return err
	}

	sym := reschedule.ParseSymbol(symPart)
	rem, err := b.resched.Reschedule(ctx, id, sym)
	switch {
	case errors.Is(err, domain.ErrValidation):
		req.Toast = "Unknown option."
		return nil
	case isNotFound(err):
		req.Toast = toastHandled
		return nil
	case err != nil:
		return fmt.Errorf("reschedule: %w", err)
	}

	when := domain.FormatShort(rem.Due, b.now(), b.loc())
	req.Toast = "Moved to " + when
	return b.reply(ctx, req, fmt.Sprintf("Reminder %q moved to %s.", rem.Text, when))
}

// cbDone handles "rem:done:<id>". Completing twice is harmless.
func (b *Bot) cbDone(ctx context.Context, req *router.Request) error {
	id, ok := parseID(req.Payload)
	if !ok {
		req.Toast = toastBadData
		return nil
	}
	if ok, err := b.owns(ctx, req, id); !ok || err != nil {
		return err
	}
	if err := b.store.MarkCompleted(ctx, id); err != nil && !isNotFound(err) {
		return fmt.Errorf("mark completed: %w", err)
	}
	b.bus.Publish(eventbus.Event{
		Type: eventbus.ReminderCompleted,
		Data: eventbus.ReminderEvent{ReminderID: id, UserID: req.User.ID},
	})
	req.Logger.Info("reminder completed", logx.Int64("reminder_id", id))
	req.Toast = "Marked as done"
	return nil
}

// owns reports whether reminder id belongs to the caller. When it does not,
// the toast is already set.
func (b *Bot) owns(ctx context.Context, req *router.Request, id int64) (bool, error) {
	rem, err := b.store.GetReminder(ctx, id)
	switch {
	case isNotFound(err):
		req.Toast = toastHandled
		return false, nil
	case err != nil:
		return false, fmt.Errorf("get reminder: %w", err)
	case rem.UserID != req.User.ID:
		req.Toast = toastNotYour
		return false, nil
	}
	return true, nil
}

// editOrReply edits the message the button sits on, or sends m when there
// is nothing to edit.
func (b *Bot) editOrReply(ctx context.Context, req *router.Request, m tgui.Message) error {
	if req.Message.MessageID == 0 {
		return b.send(ctx, req, m)
	}
	return m.Edit(ctx, b.ad, req.Message)
}
