package reschedule

import (
	"fmt"
	"strings"
	"time"

	"remindbot/internal/domain"
)

// Symbol names a postponement offered on every delivered reminder.
type Symbol string

const (
	Hour     Symbol = "hour"
	EightH   Symbol = "8hours"
	Day      Symbol = "day"
	TwoDays  Symbol = "2days"
	Week     Symbol = "week"
	Month    Symbol = "month"
	Quarter  Symbol = "3months"
	Evening  Symbol = "evening"
	Weekends Symbol = "weekends"
)

// DefaultDelta is applied to symbols nobody knows in lenient mode.
const DefaultDelta = 30 * time.Minute

var fixed = map[Symbol]time.Duration{
	Hour:    time.Hour,
	EightH:  8 * time.Hour,
	Day:     24 * time.Hour,
	TwoDays: 48 * time.Hour,
	Week:    7 * 24 * time.Hour,
	Month:   31 * 24 * time.Hour,
	Quarter: 93 * 24 * time.Hour,
}

var labels = map[Symbol]string{
	Hour:     "in an hour",
	EightH:   "in 8 hours",
	Day:      "tomorrow",
	TwoDays:  "in 2 days",
	Week:     "in a week",
	Month:    "in a month",
	Quarter:  "in 3 months",
	Evening:  "this evening",
	Weekends: "at the weekend",
}

// Layout is the button grid shown under a delivered reminder, row by row.
var Layout = [][]Symbol{
	{Hour, Day, Week},
	{EightH, TwoDays, Month},
	{Quarter, Evening, Weekends},
}

// Label returns the button caption for s.
func (s Symbol) Label() string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

// Known reports whether s has a defined offset.
func (s Symbol) Known() bool {
	if _, ok := fixed[s]; ok {
		return true
	}
	return s == Evening || s == Weekends
}

// ParseSymbol normalizes callback input. "weekend" is accepted for Weekends.
func ParseSymbol(s string) Symbol {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "weekend" {
		return Weekends
	}
	return Symbol(s)
}

// ComputeDelta returns the offset from now for sym, evaluated in loc.
//
// Evening starts at 30 minutes and adds whole hours while the candidate hour
// is 19 or earlier. Weekends starts at one day and adds whole days while the
// candidate falls on Monday to Friday. Unknown symbols get DefaultDelta,
// or domain.ErrValidation when strict is set.
func ComputeDelta(now time.Time, loc *time.Location, sym Symbol, strict bool) (time.Duration, error) {
	if loc == nil {
		loc = time.UTC
	}
	if d, ok := fixed[sym]; ok {
		return d, nil
	}
	switch sym {
	case Evening:
		d := 30 * time.Minute
		for now.Add(d).In(loc).Hour() <= 19 {
			d += time.Hour
		}
		return d, nil
	case Weekends:
		d := 24 * time.Hour
		for isWorkday(now.Add(d).In(loc).Weekday()) {
			d += 24 * time.Hour
		}
		return d, nil
	}
	if strict {
		return 0, fmt.Errorf("%w: unknown reschedule symbol %q", domain.ErrValidation, string(sym))
	}
	return DefaultDelta, nil
}

func isWorkday(d time.Weekday) bool { return d >= time.Monday && d <= time.Friday }
