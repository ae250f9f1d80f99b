package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline is a small builder for inline keyboards (ReplyMarkup).
// It stores rows as tele.Row ([]tele.Btn) and applies them via ReplyMarkup.Inline().
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a new row (buttons) to the inline keyboard. Empty rows are skipped.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Column appends every button on its own row.
func (i *Inline) Column(btns ...tele.Btn) *Inline {
	for _, b := range btns {
		i.Row(b)
	}
	return i
}

// Grid appends buttons split into rows of n columns.
func (i *Inline) Grid(n int, btns ...tele.Btn) *Inline {
	if n <= 0 {
		n = 1
	}
	for start := 0; start < len(btns); start += n {
		end := min(start+n, len(btns))
		i.Row(btns[start:end]...)
	}
	return i
}

// Len reports the number of rows.
func (i *Inline) Len() int { return len(i.rows) }

// Markup returns underlying reply markup, or nil when there are no rows.
func (i *Inline) Markup() *tele.ReplyMarkup {
	if i == nil || len(i.rows) == 0 {
		return nil
	}
	return i.rm
}

// Btn creates a callback button with raw callback_data (we do NOT encode it).
// Use Data to build "plugin:action:payload".
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}
