// Package bot holds the chat-facing behavior: commands, button callbacks,
// the free-text intake flow and the delivery sender used by the dispatcher.
package bot

import (
	"context"
	"errors"
	"strconv"
	"time"

	"remindbot/internal/domain"
	"remindbot/internal/eventbus"
	"remindbot/internal/monitor"
	"remindbot/internal/planner"
	"remindbot/internal/reschedule"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// Store is the persistence the handlers use.
type Store interface {
	GetUser(ctx context.Context, id int64) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)

	CreateTag(ctx context.Context, userID int64, name string, w domain.Window) (domain.Tag, error)
	ListTags(ctx context.Context, userID int64) ([]domain.Tag, error)

	StageReminders(ctx context.Context, userID int64, items []domain.StagedReminder) ([]domain.StagedReminder, error)
	ListStaged(ctx context.Context, userID int64) ([]domain.StagedReminder, error)
	GetStaged(ctx context.Context, id int64) (domain.StagedReminder, error)
	PromoteStaged(ctx context.Context, id int64) (domain.Reminder, error)
	DiscardAllStaged(ctx context.Context, userID int64) (int, error)

	GetReminder(ctx context.Context, id int64) (domain.Reminder, error)
	ListOpen(ctx context.Context, userID int64) ([]domain.Reminder, error)
	ListOpenAfter(ctx context.Context, afterID int64, limit int) ([]domain.Reminder, error)
	MarkCompleted(ctx context.Context, id int64) error

	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Planner turns a message into timed tasks.
type Planner interface {
	Ready() bool
	Plan(ctx context.Context, tags []domain.Tag, message string) ([]planner.PlannedTask, planner.Stats, error)
}

type Slots interface {
	SelectNearestSlot(ctx context.Context, userID int64, tagName string) (time.Time, error)
	Spacing() time.Duration
}

type Rescheduler interface {
	Reschedule(ctx context.Context, id int64, sym reschedule.Symbol) (domain.Reminder, error)
}

// Permissions persists allow/ban and drops the cached decision.
type Permissions interface {
	SetAllowed(ctx context.Context, id int64, allowed bool) error
}

type Monitor interface {
	Run(ctx context.Context) monitor.Report
	ClearLog() error
}

// LogFile exposes the operational log for /getlog.
type LogFile interface {
	LogPath() string
}

type Deps struct {
	Store       Store
	Adapter     kit.Adapter
	Planner     Planner
	Slots       Slots
	Rescheduler Rescheduler
	Permissions Permissions
	Monitor     Monitor
	Logs        LogFile
	Bus         eventbus.Bus
	Log         logx.Logger
	// Location returns the current server time zone.
	Location func() *time.Location
}

type Bot struct {
	store   Store
	ad      kit.Adapter
	planner Planner
	slots   Slots
	resched Rescheduler
	perms   Permissions
	mon     Monitor
	logs    LogFile
	bus     eventbus.Bus
	log     logx.Logger
	loc     func() *time.Location
	now     func() time.Time

	help func(admin bool) string
}

func New(d Deps) *Bot {
	if d.Bus == nil {
		d.Bus = eventbus.Nop{}
	}
	if d.Location == nil {
		d.Location = func() *time.Location { return time.UTC }
	}
	return &Bot{
		store:   d.Store,
		ad:      d.Adapter,
		planner: d.Planner,
		slots:   d.Slots,
		resched: d.Rescheduler,
		perms:   d.Permissions,
		mon:     d.Monitor,
		logs:    d.Logs,
		bus:     d.Bus,
		log:     d.Log.With(logx.String("comp", "bot")),
		loc:     d.Location,
		now:     time.Now,
		help:    func(bool) string { return helpFooter },
	}
}

// Register installs every route on r.
func (b *Bot) Register(r *router.Router) {
	b.help = r.HelpText
	r.SetRegistry(b.Commands(), b.Callbacks(), b.handleText)
}

// Commands lists user commands first, then admin commands; menus keep
// this order.
func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "Start", Access: router.AccessPublic, Handle: b.cmdStart},
		{Name: "help", Aliases: []string{"h"}, Description: "Help", Handle: b.cmdHelp},
		{Name: "newtag", Description: "Add a tag", Usage: "/newtag <name> <HH:MM> <HH:MM>", Handle: b.cmdNewTag},
		{Name: "tags", Description: "My tags", Handle: b.cmdTags},
		{Name: "tasks", Description: "My reminders", Handle: b.cmdTasks},

		{Name: "allow", Description: "Grant access", Usage: "/allow <telegram_id>", Access: router.AccessAdmin, Handle: b.cmdAllow},
		{Name: "ban", Description: "Revoke access", Usage: "/ban <telegram_id>", Access: router.AccessAdmin, Handle: b.cmdBan},
		{Name: "list", Description: "Users", Access: router.AccessAdmin, Handle: b.cmdList},
		{Name: "dbtasks", Description: "All open reminders", Access: router.AccessAdmin, Handle: b.cmdDBTasks},
		{Name: "monitor", Description: "Run the monitor now", Access: router.AccessAdmin, Handle: b.cmdMonitor},
		{Name: "getlog", Description: "Download the log", Access: router.AccessAdmin, Timeout: logTimeout, Handle: b.cmdGetLog},
		{Name: "clearlog", Description: "Download and clear the log", Access: router.AccessAdmin, Timeout: logTimeout, Handle: b.cmdClearLog},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Plugin: cbStaged, Action: actConfirm, Handle: b.cbConfirmStaged},
		{Plugin: cbStaged, Action: actDiscard, Handle: b.cbDiscardStaged},
		{Plugin: cbReminder, Action: actReschedule, Handle: b.cbReschedule},
		{Plugin: cbReminder, Action: actDone, Handle: b.cbDone},
		{Plugin: cbMenu, Action: actTasks, Handle: b.cmdTasks},
		{Plugin: cbMenu, Action: actTags, Handle: b.cmdTags},
		{Plugin: cbMenu, Action: actHelp, Handle: b.cmdHelp},
		{Plugin: cbAdmin, Action: actUser, Access: router.AccessAdmin, Handle: b.cbAdminUser},
		{Plugin: cbAdmin, Action: actAllow, Access: router.AccessAdmin, Handle: b.cbAdminSetAllowed(true)},
		{Plugin: cbAdmin, Action: actBan, Access: router.AccessAdmin, Handle: b.cbAdminSetAllowed(false)},
		{Plugin: cbAdmin, Action: actTasks, Access: router.AccessAdmin, Handle: b.cbAdminTasks},
	}
}

func (b *Bot) reply(ctx context.Context, req *router.Request, text string) error {
	_, err := b.ad.SendText(ctx, req.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (b *Bot) send(ctx context.Context, req *router.Request, m tgui.Message) error {
	_, err := m.Send(ctx, b.ad, req.Chat)
	return err
}

// parseID parses a positive decimal id.
func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil && id > 0
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
