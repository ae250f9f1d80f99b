package bot

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/domain"
	"remindbot/internal/reschedule"
	"remindbot/pkg/tgui"
)

// Callback data is "plugin:action[:payload]" and must fit in 64 bytes.
const (
	cbStaged   = "stg"
	cbReminder = "rem"
	cbMenu     = "menu"
	cbAdmin    = "adm"

	actConfirm    = "ok"
	actDiscard    = "drop"
	actReschedule = "rs"
	actDone       = "done"
	actTasks      = "tasks"
	actTags       = "tags"
	actHelp       = "help"
	actUser       = "user"
	actAllow      = "allow"
	actBan        = "ban"
)

const (
	adminPageSize = 5
	maxUserRows   = 90
	labelRunes    = 48
)

func idStr(id int64) string { return strconv.FormatInt(id, 10) }

func menuKeyboard() *tgui.Inline {
	return tgui.NewInline().Column(
		tgui.Btn("My reminders", tgui.Data(cbMenu, actTasks)),
		tgui.Btn("My tags", tgui.Data(cbMenu, actTags)),
		tgui.Btn("Help", tgui.Data(cbMenu, actHelp)),
	)
}

// rescheduleKeyboard renders the delivery actions: the reschedule grid and
// a final "done" row.
func rescheduleKeyboard(reminderID int64, layout [][]reschedule.Symbol) *tele.ReplyMarkup {
	kb := tgui.NewInline()
	id := idStr(reminderID)
	for _, row := range layout {
		btns := make([]tele.Btn, 0, len(row))
		for _, sym := range row {
			btns = append(btns, tgui.Btn(sym.Label(), tgui.Data(cbReminder, actReschedule, id, string(sym))))
		}
		kb.Row(btns...)
	}
	kb.Row(tgui.Btn("✅ Done", tgui.Data(cbReminder, actDone, id)))
	return kb.Markup()
}

// stagedLabel is "<short time> <text> [<tag>]".
func stagedLabel(s domain.StagedReminder, now time.Time, loc *time.Location) string {
	return fmt.Sprintf("%s %s [%s]", domain.FormatShort(s.Due, now, loc), tgui.TruncRunes(s.Text, labelRunes), s.Tag)
}

// stagedMessage lists every pending candidate as a confirm button, ordered
// by due time, plus a discard button.
func stagedMessage(items []domain.StagedReminder, now time.Time, loc *time.Location, note string) tgui.Message {
	items = append([]domain.StagedReminder(nil), items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Due.Before(items[j].Due) })

	kb := tgui.NewInline()
	for _, s := range items {
		kb.Row(tgui.Btn(stagedLabel(s, now, loc), tgui.Data(cbStaged, actConfirm, idStr(s.ID))))
	}
	kb.Row(tgui.Btn("Discard remaining", tgui.Data(cbStaged, actDiscard)))

	b := tgui.New().Line("Tap the reminders you want to keep:").Inline(kb)
	if note != "" {
		b.Blank().Line(note)
	}
	return b.Build()
}

func userLabel(u domain.User) string {
	state := "new"
	if u.Allowed {
		state = "allowed"
	}
	label := fmt.Sprintf("%s · %d · %s", tgui.TruncRunes(u.DisplayName(), 24), u.ID, state)
	if u.Admin {
		label += " · admin"
	}
	return label
}
