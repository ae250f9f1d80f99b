package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"remindbot/internal/domain"
	"remindbot/internal/eventbus"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// logTimeout bounds the log upload commands.
const logTimeout = 2 * time.Minute

// AccessEvent is the payload of eventbus.AccessChanged.
type AccessEvent struct {
	UserID  int64 `json:"user_id"`
	ActorID int64 `json:"actor_id"`
	Allowed bool  `json:"allowed"`
}

func (b *Bot) cmdAllow(ctx context.Context, req *router.Request) error {
	return b.setAllowedCmd(ctx, req, true)
}

func (b *Bot) cmdBan(ctx context.Context, req *router.Request) error {
	return b.setAllowedCmd(ctx, req, false)
}

func (b *Bot) setAllowedCmd(ctx context.Context, req *router.Request, allowed bool) error {
	usage := "Usage: /ban <telegram_id>"
	if allowed {
		usage = "Usage: /allow <telegram_id>"
	}
	if len(req.Args) != 1 {
		return b.reply(ctx, req, usage)
	}
	id, ok := parseID(req.Args[0])
	if !ok {
		return b.reply(ctx, req, usage)
	}
	found, err := b.setAllowed(ctx, req, id, allowed)
	if err != nil {
		return err
	}
	if !found {
		return b.reply(ctx, req, "User not found.")
	}
	if allowed {
		return b.reply(ctx, req, fmt.Sprintf("✅ User %d can use the bot now.", id))
	}
	return b.reply(ctx, req, fmt.Sprintf("🚫 User %d no longer has access.", id))
}

// setAllowed persists the change, audits it and publishes it. found is false
// when the user never talked to the bot.
func (b *Bot) setAllowed(ctx context.Context, req *router.Request, id int64, allowed bool) (found bool, err error) {
	if err := b.perms.SetAllowed(ctx, id, allowed); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("set allowed: %w", err)
	}

	action := "ban"
	if allowed {
		action = "allow"
	}
	if err := b.store.AppendAudit(ctx, storage.AuditEntry{
		At:       b.now(),
		ActorID:  req.User.ID,
		Action:   action,
		TargetID: id,
	}); err != nil {
		req.Logger.Warn("audit not written", logx.String("action", action), logx.Err(err))
	}
	b.bus.Publish(eventbus.Event{
		Type: eventbus.AccessChanged,
		Data: AccessEvent{UserID: id, ActorID: req.User.ID, Allowed: allowed},
	})
	req.Logger.Info("access changed", logx.Int64("user_id", id), logx.Bool("allowed", allowed))
	return true, nil
}

func (b *Bot) cmdList(ctx context.Context, req *router.Request) error {
	users, err := b.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 {
		return b.reply(ctx, req, "No users yet.")
	}

	kb := tgui.NewInline()
	for i, u := range users {
		if i == maxUserRows {
			break
		}
		kb.Row(tgui.Btn(userLabel(u), tgui.Data(cbAdmin, actUser, idStr(u.ID))))
	}
	bld := tgui.New().Title("👥", "Users").KV("Total", strconv.Itoa(len(users))).Inline(kb)
	if len(users) > maxUserRows {
		bld.Line(fmt.Sprintf("Showing the first %d.", maxUserRows))
	}
	return b.send(ctx, req, bld.Build())
}

func (b *Bot) cbAdminUser(ctx context.Context, req *router.Request) error {
	id, ok := parseID(req.Payload)
	if !ok {
		req.Toast = toastBadData
		return nil
	}
	u, err := b.store.GetUser(ctx, id)
	if isNotFound(err) {
		req.Toast = "User not found."
		return nil
	}
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	return b.send(ctx, req, b.userCard(ctx, req, u))
}

func (b *Bot) userCard(ctx context.Context, req *router.Request, u domain.User) tgui.Message {
	open := "?"
	if rems, err := b.store.ListOpen(ctx, u.ID); err == nil {
		open = strconv.Itoa(len(rems))
	} else {
		req.Logger.Warn("open reminders not counted", logx.Int64("user_id", u.ID), logx.Err(err))
	}
	handle := "-"
	if u.Username != "" {
		handle = "@" + u.Username
	}

	kb := tgui.NewInline().Row(
		tgui.Btn("✅ Allow", tgui.Data(cbAdmin, actAllow, idStr(u.ID))),
		tgui.Btn("🚫 Ban", tgui.Data(cbAdmin, actBan, idStr(u.ID))),
	)
	return tgui.New().
		Title("👤", u.DisplayName()).
		KV("ID", idStr(u.ID)).
		KV("Handle", handle).
		KV("Allowed", yesNo(u.Allowed)).
		KV("Admin", yesNo(u.Admin)).
		KV("Open reminders", open).
		KV("Since", domain.FormatDue(u.CreatedAt, b.loc())).
		Inline(kb).
		Build()
}

func (b *Bot) cbAdminSetAllowed(allowed bool) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		id, ok := parseID(req.Payload)
		if !ok {
			req.Toast = toastBadData
			return nil
		}
		found, err := b.setAllowed(ctx, req, id, allowed)
		if err != nil {
			return err
		}
		if !found {
			req.Toast = "User not found."
			return nil
		}
		req.Toast = "Banned"
		if allowed {
			req.Toast = "Allowed"
		}
		u, err := b.store.GetUser(ctx, id)
		if err != nil {
			return nil
		}
		return b.editOrReply(ctx, req, b.userCard(ctx, req, u))
	}
}

func (b *Bot) cmdDBTasks(ctx context.Context, req *router.Request) error {
	m, err := b.tasksPage(ctx, 0)
	if err != nil {
		return err
	}
	return b.send(ctx, req, m)
}

// cbAdminTasks handles "adm:tasks:<afterID>" from the "Next" button.
func (b *Bot) cbAdminTasks(ctx context.Context, req *router.Request) error {
	after, err := strconv.ParseInt(req.Payload, 10, 64)
	if err != nil || after < 0 {
		req.Toast = toastBadData
		return nil
	}
	m, err := b.tasksPage(ctx, after)
	if err != nil {
		return err
	}
	return b.editOrReply(ctx, req, m)
}

// tasksPage renders one keyset page of open reminders across all users.
func (b *Bot) tasksPage(ctx context.Context, after int64) (tgui.Message, error) {
	rems, err := b.store.ListOpenAfter(ctx, after, adminPageSize+1)
	if err != nil {
		return tgui.Message{}, fmt.Errorf("list open: %w", err)
	}
	if len(rems) == 0 {
		if after == 0 {
			return tgui.New().Line("No open reminders.").Build(), nil
		}
		return tgui.New().Line("No more reminders.").Build(), nil
	}
	more := len(rems) > adminPageSize
	if more {
		rems = rems[:adminPageSize]
	}

	now, loc := b.now(), b.loc()
	bld := tgui.New().Title("🗂", "Open reminders")
	for _, r := range rems {
		bld.Blank().
			KV("#"+idStr(r.ID), tgui.TruncRunes(r.Text, 200)).
			KV("User", idStr(r.UserID)).
			KV("Due", domain.FormatShort(r.Due, now, loc)).
			KV("Tag", r.Tag)
	}
	if more {
		last := rems[len(rems)-1].ID
		bld.Inline(tgui.NewInline().Row(tgui.Btn("Next ▶", tgui.Data(cbAdmin, actTasks, idStr(last)))))
	}
	return bld.Build(), nil
}

func (b *Bot) cmdMonitor(ctx context.Context, req *router.Request) error {
	if b.mon == nil {
		return b.reply(ctx, req, "Monitor is disabled.")
	}
	rep := b.mon.Run(ctx)
	return b.reply(ctx, req, "Monitor is complete\n"+rep.Summary())
}

func (b *Bot) cmdGetLog(ctx context.Context, req *router.Request) error {
	_, _, err := b.sendLog(ctx, req)
	return err
}

func (b *Bot) cmdClearLog(ctx context.Context, req *router.Request) error {
	if err := b.reply(ctx, req, "Saving log..."); err != nil {
		return err
	}
	_, ok, err := b.sendLog(ctx, req)
	if err != nil || !ok {
		return err
	}
	if b.mon == nil {
		return b.reply(ctx, req, "Monitor is disabled, log kept.")
	}
	if err := b.mon.ClearLog(); err != nil {
		return fmt.Errorf("clear log: %w", err)
	}
	req.Logger.Info("operational log cleared")
	return b.reply(ctx, req, "Clearing log is complete")
}

// sendLog uploads the log file. ok is false when there was nothing to send
// and the user has been told why.
func (b *Bot) sendLog(ctx context.Context, req *router.Request) (kit.MessageRef, bool, error) {
	path := ""
	if b.logs != nil {
		path = b.logs.LogPath()
	}
	if path == "" {
		return kit.MessageRef{}, false, b.reply(ctx, req, "File logging is disabled.")
	}
	st, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && st.Size() == 0) {
		return kit.MessageRef{}, false, b.reply(ctx, req, "Log is empty.")
	}
	if err != nil {
		return kit.MessageRef{}, false, fmt.Errorf("stat log: %w", err)
	}
	ds, ok := b.ad.(kit.DocumentSender)
	if !ok {
		return kit.MessageRef{}, false, b.reply(ctx, req, "This transport can't send files.")
	}
	name := fmt.Sprintf("%s-%s%s",
		trimExt(filepath.Base(path)),
		b.now().In(b.loc()).Format("20060102-150405"),
		filepath.Ext(path),
	)
	ref, err := ds.SendDocument(ctx, req.Chat, kit.Document{
		Path:     path,
		FileName: name,
		Caption:  fmt.Sprintf("Log, %s", humanSize(st.Size())),
	})
	if err != nil {
		return kit.MessageRef{}, false, fmt.Errorf("send log: %w", err)
	}
	return ref, true, nil
}

func trimExt(name string) string { return name[:len(name)-len(filepath.Ext(name))] }

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
