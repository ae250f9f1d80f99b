package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"remindbot/internal/domain"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

const helpFooter = "Hi! I'm your planning assistant. Tell me what you need to do and when, in your own words, and I'll turn it into reminders."

const newTagUsage = "Usage: /newtag <name> <HH:MM> <HH:MM>\nExample: /newtag work 09:00 18:00"

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	d := req.User
	if !req.Allowed {
		b.log.Info("access pending", logx.Int64("user_id", d.ID))
		return b.reply(ctx, req, fmt.Sprintf("Hi! Your access is pending approval by an admin. Your id: %d", d.ID))
	}
	m := tgui.New().
		Title("👋", "Welcome, "+d.DisplayName()+"!").
		Line("Send me what you need to remember, or pick an action:").
		Inline(menuKeyboard()).
		Build()
	return b.send(ctx, req, m)
}

func (b *Bot) cmdHelp(ctx context.Context, req *router.Request) error {
	m := tgui.New().HTML(tgui.H(b.help(req.Admin))).Build()
	return b.send(ctx, req, m)
}

func (b *Bot) cmdNewTag(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 3 {
		return b.reply(ctx, req, newTagUsage)
	}
	name := strings.TrimSpace(req.Args[0])
	w, err := domain.ParseWindow(req.Args[1], req.Args[2])
	if err != nil {
		return b.reply(ctx, req, "❌ Invalid time format. Use HH:MM.\n"+newTagUsage)
	}
	tag, err := b.store.CreateTag(ctx, req.User.ID, name, w)
	switch {
	case errors.Is(err, domain.ErrDuplicate):
		return b.reply(ctx, req, fmt.Sprintf("❌ You already have a tag named %q.", name))
	case errors.Is(err, domain.ErrValidation):
		return b.reply(ctx, req, fmt.Sprintf("❌ %q can't be used as a tag name.", name))
	case err != nil:
		return fmt.Errorf("create tag: %w", err)
	}
	req.Logger.Info("tag created", logx.String("tag", tag.Name), logx.String("window", tag.Window.String()))
	return b.reply(ctx, req, fmt.Sprintf("✅ Tag %q created (%s).", tag.Name, tag.Window))
}

func (b *Bot) cmdTags(ctx context.Context, req *router.Request) error {
	tags, err := b.store.ListTags(ctx, req.User.ID)
	if err != nil {
		return fmt.Errorf("list tags: %w", err)
	}
	if len(tags) == 0 {
		return b.reply(ctx, req, "You have no tags yet. Create one with /newtag.")
	}
	lines := make([]string, 0, len(tags)+1)
	lines = append(lines, "🏷 Your tags:")
	for _, t := range tags {
		lines = append(lines, fmt.Sprintf("%s (%s)", t.Name, t.Window))
	}
	return b.reply(ctx, req, strings.Join(lines, "\n"))
}

func (b *Bot) cmdTasks(ctx context.Context, req *router.Request) error {
	rems, err := b.store.ListOpen(ctx, req.User.ID)
	if err != nil {
		return fmt.Errorf("list reminders: %w", err)
	}
	if len(rems) == 0 {
		return b.reply(ctx, req, "You have no reminders yet.")
	}
	now, loc := b.now(), b.loc()
	lines := make([]string, 0, len(rems)+1)
	lines = append(lines, "🗓 Your reminders:")
	for _, r := range rems {
		lines = append(lines, fmt.Sprintf("%s (%s) [%s]", r.Text, domain.FormatShort(r.Due, now, loc), r.Tag))
	}
	return b.reply(ctx, req, strings.Join(lines, "\n"))
}
