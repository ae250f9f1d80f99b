package router

import (
	"html"
	"strings"
)

// HelpText renders the command list in HTML parse mode. Admin commands are
// listed only when admin is set.
func (r *Router) HelpText(admin bool) string {
	var user, adm []string
	for _, c := range r.Commands() {
		line := "• <code>/" + html.EscapeString(c.Name) + "</code>"
		if u := strings.TrimSpace(c.Usage); u != "" {
			line = "• <code>" + html.EscapeString(u) + "</code>"
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " — " + html.EscapeString(d)
		}
		if c.Access == AccessAdmin {
			adm = append(adm, line)
			continue
		}
		user = append(user, line)
	}

	lines := []string{
		"📚 <b>Commands</b>",
	}
	lines = append(lines, user...)
	if admin && len(adm) > 0 {
		lines = append(lines, "", "🔒 <b>Admin</b>")
		lines = append(lines, adm...)
	}
	lines = append(lines,
		"",
		"Send me a plain message like <i>call mom tomorrow at 18:00; buy milk</i> and I will suggest reminders for you to confirm.",
	)
	return strings.Join(lines, "\n")
}
