package bot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"remindbot/internal/access"
	"remindbot/internal/dispatch"
	"remindbot/internal/domain"
	"remindbot/internal/eventbus"
	"remindbot/internal/monitor"
	"remindbot/internal/planner"
	"remindbot/internal/reschedule"
	"remindbot/internal/slot"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

type sent struct {
	To   kit.ChatTarget
	Text string
	Opt  *kit.SendOptions
}

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []sent
	edits []sent
	docs  []kit.Document
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error {
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{To: to, Text: text, Opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sent{To: kit.ChatTarget{ChatID: ref.ChatID}, Text: text, Opt: opt})
	return nil
}

func (f *fakeAdapter) SendDocument(_ context.Context, to kit.ChatTarget, doc kit.Document) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) last(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func (f *fakeAdapter) lastEdit(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.edits)
	return f.edits[len(f.edits)-1]
}

type fakePlanner struct {
	ready bool
	tasks []planner.PlannedTask
	stats planner.Stats
	err   error
	got   []domain.Tag
}

func (p *fakePlanner) Ready() bool { return p.ready }

func (p *fakePlanner) Plan(_ context.Context, tags []domain.Tag, _ string) ([]planner.PlannedTask, planner.Stats, error) {
	p.got = tags
	return p.tasks, p.stats, p.err
}

type fakeMonitor struct {
	runs    int
	cleared int
}

func (m *fakeMonitor) Run(context.Context) monitor.Report {
	m.runs++
	return monitor.Report{Due: 2}
}

func (m *fakeMonitor) ClearLog() error {
	m.cleared++
	return nil
}

type logPath string

func (p logPath) LogPath() string { return string(p) }

type env struct {
	bot  *Bot
	db   *storage.DB
	ad   *fakeAdapter
	plan *fakePlanner
	mon  *fakeMonitor
	bus  eventbus.Bus
}

const (
	userID  = int64(100)
	otherID = int64(200)
	adminID = int64(1000)
)

func newEnv(t *testing.T, logFile string) *env {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	for _, id := range []int64{userID, otherID, adminID} {
		_, _, err := db.EnsureUser(ctx, domain.User{ID: id, FullName: "User " + idStr(id)})
		require.NoError(t, err)
	}

	e := &env{
		db:   db,
		ad:   &fakeAdapter{},
		plan: &fakePlanner{ready: true},
		mon:  &fakeMonitor{},
		bus:  eventbus.New(),
	}
	e.bot = New(Deps{
		Store:       db,
		Adapter:     e.ad,
		Planner:     e.plan,
		Slots:       slot.New(db, 15*time.Minute),
		Rescheduler: reschedule.New(db, e.bus, logx.Nop(), time.UTC),
		Permissions: access.New(db, logx.Nop(), access.Options{Owners: []int64{adminID}}),
		Monitor:     e.mon,
		Logs:        logPath(logFile),
		Bus:         e.bus,
		Log:         logx.Nop(),
		Location:    func() *time.Location { return time.UTC },
	})
	return e
}

func userReq(id int64) *router.Request {
	return &router.Request{
		Chat:    kit.ChatTarget{ChatID: id},
		From:    kit.Sender{ID: id},
		User:    domain.User{ID: id},
		Allowed: true,
		Admin:   id == adminID,
		Logger:  logx.Nop(),
	}
}

func cbReq(id int64, payload string) *router.Request {
	req := userReq(id)
	req.CallbackID = "cb1"
	req.Payload = payload
	req.Message = kit.MessageRef{ChatID: id, MessageID: 7}
	return req
}

func markup(t *testing.T, s sent) [][]tele.InlineButton {
	t.Helper()
	require.NotNil(t, s.Opt)
	rm, ok := s.Opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	require.True(t, ok, "reply markup missing")
	return rm.InlineKeyboard
}

func TestHandleText_StagesAndPlaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, "")

	w, err := domain.ParseWindow("09:00", "18:00")
	require.NoError(t, err)
	_, err = e.db.CreateTag(ctx, userID, "work", w)
	require.NoError(t, err)

	now := time.Now().UTC()
	tomorrow := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	e.plan.tasks = []planner.PlannedTask{
		{Tag: "work", Text: "call Bob", Due: tomorrow.Add(20 * time.Hour)},
		{Tag: "default", Text: "buy milk"},
	}
	e.plan.stats = planner.Stats{Rejected: 1}

	req := userReq(userID)
	req.Text = "call Bob tomorrow evening\nbuy milk"
	require.NoError(t, e.bot.handleText(ctx, req))

	require.Len(t, e.plan.got, 2)
	assert.Equal(t, domain.DefaultTagName, e.plan.got[0].Name)

	staged, err := e.db.ListStaged(ctx, userID)
	require.NoError(t, err)
	require.Len(t, staged, 2)
	byText := map[string]domain.StagedReminder{}
	for _, s := range staged {
		byText[s.Text] = s
	}
	assert.True(t, tomorrow.AddDate(0, 0, 1).Add(9*time.Hour).Equal(byText["call Bob"].Due), "moved into the tag window")
	milk := byText["buy milk"].Due
	assert.WithinDuration(t, now.Add(15*time.Minute), milk, 2*time.Minute, "placed by the slot engine")

	msg := e.ad.last(t)
	assert.Contains(t, msg.Text, "Tap the reminders you want to keep:")
	assert.Contains(t, msg.Text, "1 entry couldn&#39;t be understood")
	rows := markup(t, msg)
	require.Len(t, rows, 3)
	assert.Equal(t, tgui.Data(cbStaged, actConfirm, idStr(byText["buy milk"].ID)), rows[0][0].Data, "ordered by due")
	assert.Equal(t, "stg:drop", rows[2][0].Data)
}

func TestHandleText_Failures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t, "")
	e.plan.ready = false
	require.NoError(t, e.bot.handleText(ctx, userReq(userID)))
	assert.Equal(t, msgPlannerOff, e.ad.last(t).Text)

	e.plan.ready = true
	e.plan.err = errors.New("llm down")
	require.NoError(t, e.bot.handleText(ctx, userReq(userID)))
	assert.Equal(t, msgPlanFailed, e.ad.last(t).Text)

	e.plan.err = nil
	require.NoError(t, e.bot.handleText(ctx, userReq(userID)))
	assert.Equal(t, msgNoTasks, e.ad.last(t).Text)

	staged, err := e.db.ListStaged(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestConfirmStaged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, "")
	events, unsub := e.bus.Subscribe(8)
	defer unsub()

	due := time.Now().Add(2 * time.Hour)
	s1, err := e.db.StageReminder(ctx, userID, "water plants", "default", due)
	require.NoError(t, err)
	s2, err := e.db.StageReminder(ctx, userID, "pay rent", "default", due.Add(time.Hour))
	require.NoError(t, err)

	req := cbReq(otherID, idStr(s1.ID))
	require.NoError(t, e.bot.cbConfirmStaged(ctx, req))
	assert.Equal(t, toastNotYour, req.Toast)

	req = cbReq(userID, idStr(s1.ID))
	require.NoError(t, e.bot.cbConfirmStaged(ctx, req))
	assert.Equal(t, "Added", req.Toast)
	assert.True(t, strings.HasPrefix(e.ad.last(t).Text, `Reminder "water plants" added for `))
	rows := markup(t, e.ad.lastEdit(t))
	require.Len(t, rows, 2, "one staged row left plus discard")
	assert.Equal(t, tgui.Data(cbStaged, actConfirm, idStr(s2.ID)), rows[0][0].Data)

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.ReminderPromoted, ev.Type)
	default:
		t.Fatal("promotion not published")
	}

	req = cbReq(userID, idStr(s1.ID))
	require.NoError(t, e.bot.cbConfirmStaged(ctx, req))
	assert.Equal(t, toastHandled, req.Toast)

	req = cbReq(userID, idStr(s2.ID))
	require.NoError(t, e.bot.cbConfirmStaged(ctx, req))
	assert.Equal(t, "All set.", e.ad.lastEdit(t).Text)

	open, err := e.db.ListOpen(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestDiscardStaged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, "")

	for _, txt := range []string{"a", "b"} {
		_, err := e.db.StageReminder(ctx, userID, txt, "default", time.Now().Add(time.Hour))
		require.NoError(t, err)
	}
	require.NoError(t, e.bot.cbDiscardStaged(ctx, cbReq(userID, "")))
	assert.Equal(t, "Discarded 2 pending reminders.", e.ad.lastEdit(t).Text)

	staged, err := e.db.ListStaged(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestRescheduleAndDone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, "")

	id, err := e.db.CreateReminder(ctx, userID, "stretch", "default", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	req := cbReq(otherID, idStr(id)+":hour")
	require.NoError(t, e.bot.cbReschedule(ctx, req))
	assert.Equal(t, toastNotYour, req.Toast)

	req = cbReq(userID, "bogus")
	require.NoError(t, e.bot.cbReschedule(ctx, req))
	assert.Equal(t, toastBadData, req.Toast)

	before := time.Now()
	req = cbReq(userID, idStr(id)+":hour")
	require.NoError(t, e.bot.cbReschedule(ctx, req))
	assert.True(t, strings.HasPrefix(e.ad.last(t).Text, `Reminder "stretch" moved to `))
	rem, err := e.db.GetReminder(ctx, id)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(time.Hour), rem.Due, 2*time.Second)

	req = cbReq(userID, idStr(id))
	require.NoError(t, e.bot.cbDone(ctx, req))
	assert.Equal(t, "Marked as done", req.Toast)
	rem, err = e.db.GetReminder(ctx, id)
	require.NoError(t, err)
	assert.True(t, rem.Completed)

	req = cbReq(userID, idStr(id))
	require.NoError(t, e.bot.cbDone(ctx, req), "completing twice is harmless")
}

func TestNewTagAndLists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, "")

	req := userReq(userID)
	req.Args = []string{"work"}
	require.NoError(t, e.bot.cmdNewTag(ctx, req))
	assert.Equal(t, newTagUsage, e.ad.last(t).Text)

	req.Args = []string{"work", "9:00", "25:00"}
	require.NoError(t, e.bot.cmdNewTag(ctx, req))
	assert.Contains(t, e.ad.last(t).Text, "Invalid time format")

	req.Args = []string{"default", "09:00", "18:00"}
	require.NoError(t, e.bot.cmdNewTag(ctx, req))
	assert.Contains(t, e.ad.last(t).Text, "can't be used")

	req.Args = []string{"work", "09:00", "18:00"}
	require.NoError(t, e.bot.cmdNewTag(ctx, req))
	assert.Contains(t, e.ad.last(t).Text, "created")
	require.NoError(t, e.bot.cmdNewTag(ctx, req))
	assert.Contains(t, e.ad.last(t).Text, "already have")

	require.NoError(t, e.bot.cmdTags(ctx, userReq(userID)))
	assert.Equal(t, "🏷 Your tags:\nwork (09:00-18:00)", e.ad.last(t).Text)

	require.NoError(t, e.bot.cmdTasks(ctx, userReq(userID)))
	assert.Equal(t, "You have no reminders yet.", e.ad.last(t).Text)
}

func TestStart_PendingUser(t *testing.T) {
	t.Parallel()
	e := newEnv(t, "")

	req := userReq(otherID)
	req.Allowed = false
	require.NoError(t, e.bot.cmdStart(context.Background(), req))
	assert.Contains(t, e.ad.last(t).Text, "pending approval")

	require.NoError(t, e.bot.cmdStart(context.Background(), userReq(userID)))
	assert.Len(t, markup(t, e.ad.last(t)), 3)
}

func TestAllowBan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, "")
	events, unsub := e.bus.Subscribe(8)
	defer unsub()

	req := userReq(adminID)
	req.Args = []string{"555"}
	require.NoError(t, e.bot.cmdAllow(ctx, req))
	assert.Equal(t, "User not found.", e.ad.last(t).Text)

	req.Args = []string{idStr(otherID)}
	require.NoError(t, e.bot.cmdAllow(ctx, req))
	u, err := e.db.GetUser(ctx, otherID)
	require.NoError(t, err)
	assert.True(t, u.Allowed)

	ev := <-events
	assert.Equal(t, eventbus.AccessChanged, ev.Type)
	assert.Equal(t, AccessEvent{UserID: otherID, ActorID: adminID, Allowed: true}, ev.Data)

	cb := cbReq(adminID, idStr(otherID))
	require.NoError(t, e.bot.cbAdminSetAllowed(false)(ctx, cb))
	assert.Equal(t, "Banned", cb.Toast)
	u, err = e.db.GetUser(ctx, otherID)
	require.NoError(t, err)
	assert.False(t, u.Allowed)
	assert.Contains(t, e.ad.lastEdit(t).Text, "Allowed</b>: no")

	req.Args = nil
	require.NoError(t, e.bot.cmdBan(ctx, req))
	assert.Equal(t, "Usage: /ban <telegram_id>", e.ad.last(t).Text)
}

func TestListUsers(t *testing.T) {
	t.Parallel()
	e := newEnv(t, "")

	require.NoError(t, e.bot.cmdList(context.Background(), userReq(adminID)))
	rows := markup(t, e.ad.last(t))
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.True(t, strings.HasPrefix(r[0].Data, "adm:user:"))
	}
}

func TestDBTasksPaging(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t, "")

	var ids []int64
	for i := 0; i < adminPageSize+2; i++ {
		id, err := e.db.CreateReminder(ctx, userID, "task "+idStr(int64(i)), "default", time.Now().Add(time.Hour))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.NoError(t, e.bot.cmdDBTasks(ctx, userReq(adminID)))
	first := e.ad.last(t)
	assert.Contains(t, first.Text, "#"+idStr(ids[0]))
	assert.NotContains(t, first.Text, "#"+idStr(ids[adminPageSize]))
	rows := markup(t, first)
	require.Len(t, rows, 1)
	assert.Equal(t, tgui.Data(cbAdmin, actTasks, idStr(ids[adminPageSize-1])), rows[0][0].Data)

	req := cbReq(adminID, idStr(ids[adminPageSize-1]))
	require.NoError(t, e.bot.cbAdminTasks(ctx, req))
	page := e.ad.lastEdit(t)
	assert.Contains(t, page.Text, "#"+idStr(ids[adminPageSize+1]))
	assert.Nil(t, page.Opt.ReplyMarkupAdapter, "last page has no next button")
}

func TestMonitorCommand(t *testing.T) {
	t.Parallel()
	e := newEnv(t, "")

	require.NoError(t, e.bot.cmdMonitor(context.Background(), userReq(adminID)))
	assert.Equal(t, 1, e.mon.runs)
	assert.True(t, strings.HasPrefix(e.ad.last(t).Text, "Monitor is complete\nDue now: 2"))
}

func TestGetAndClearLog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t, "")
	require.NoError(t, e.bot.cmdGetLog(ctx, userReq(adminID)))
	assert.Equal(t, "File logging is disabled.", e.ad.last(t).Text)

	path := filepath.Join(t.TempDir(), "bot.log")
	e = newEnv(t, path)
	require.NoError(t, e.bot.cmdGetLog(ctx, userReq(adminID)))
	assert.Equal(t, "Log is empty.", e.ad.last(t).Text)

	require.NoError(t, os.WriteFile(path, []byte("{\"level\":\"warn\"}\n"), 0o600))
	require.NoError(t, e.bot.cmdClearLog(ctx, userReq(adminID)))
	require.Len(t, e.ad.docs, 1)
	assert.Equal(t, path, e.ad.docs[0].Path)
	assert.True(t, strings.HasPrefix(e.ad.docs[0].FileName, "bot-"))
	assert.True(t, strings.HasSuffix(e.ad.docs[0].FileName, ".log"))
	assert.Equal(t, 1, e.mon.cleared)
	assert.Equal(t, "Clearing log is complete", e.ad.last(t).Text)
}

func TestSender_Deliver(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := NewSender(ad)

	require.NoError(t, s.Deliver(context.Background(), dispatch.Delivery{
		ChatID:     userID,
		ReminderID: 9_223_372_036_854_775,
		Text:       "⏰ Reminder: stretch",
		Actions:    reschedule.Layout,
	}))
	msg := ad.last(t)
	assert.Equal(t, userID, msg.To.ChatID)
	rows := markup(t, msg)
	require.Len(t, rows, len(reschedule.Layout)+1)
	for _, row := range rows {
		for _, b := range row {
			assert.NoError(t, tgui.CheckData(b.Data), b.Data)
		}
	}
	assert.Equal(t, "rem:rs:9223372036854775:hour", rows[0][0].Data)
	assert.Equal(t, "rem:done:9223372036854775", rows[len(rows)-1][0].Data)

	require.NoError(t, s.SendPlain(context.Background(), userID, "digest"))
	assert.Nil(t, ad.last(t).Opt.ReplyMarkupAdapter)
}

func TestIntakeNote(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", intakeNote(planner.Stats{}))
	assert.Equal(t, "Note: 2 entries couldn't be understood, 3 over the limit were skipped.",
		intakeNote(planner.Stats{Rejected: 2, Dropped: 3}))
}
