package router

import (
	"context"
	"errors"
	"strings"
	"unicode"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// sanitizeCommand converts a name into a Telegram command: [a-z0-9_]{1,32}.
func sanitizeCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(strings.TrimPrefix(s, "/")))
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// MenuCommands lists the commands visible at the given level, in
// registration order.
func (r *Router) MenuCommands(admin bool) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, 16)
	for _, c := range r.Commands() {
		if c.Access == AccessAdmin && !admin {
			continue
		}
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = c.Name
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
	}
	return out
}

// PublishMenus sets the user menu for everyone and the full menu in each
// admin's private chat. Adapters without menu support are skipped.
func (r *Router) PublishMenus(ctx context.Context, admins []int64) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	errs := []error{up.UpdateMenuCommands(ctx, 0, r.MenuCommands(false))}
	full := r.MenuCommands(true)
	for _, id := range admins {
		if id == 0 {
			continue
		}
		if err := up.UpdateMenuCommands(ctx, id, full); err != nil {
			r.log.Warn("admin menu not updated", logx.Int64("chat_id", id), logx.Err(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
