package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time expressed in minutes after midnight.
type TimeOfDay int

// DefaultWindow is the window of the virtual default tag.
var DefaultWindow = Window{Start: 0, End: 23*60 + 59}

// ParseTimeOfDay parses "HH:MM" (hour may be a single digit).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 || !digits(hh) || !digits(mm) {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrValidation, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: invalid hour in %q", ErrValidation, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: invalid minute in %q", ErrValidation, s)
	}
	return TimeOfDay(h*60 + m), nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On returns the instant at this time of day on the calendar date of day (in loc).
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}

// Window is a daily allowed interval. Start > End means the window wraps
// past midnight.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// ParseWindow parses a start and end time of day.
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

func (w Window) String() string { return w.Start.String() + "-" + w.End.String() }

// Contains reports whether t (converted to loc) falls inside the window,
// both bounds inclusive at minute precision.
func (w Window) Contains(t time.Time, loc *time.Location) bool {
	lt := t.In(loc)
	m := TimeOfDay(lt.Hour()*60 + lt.Minute())
	if w.Start <= w.End {
		return m >= w.Start && m <= w.End
	}
	return m >= w.Start || m <= w.End
}

// NextOpen returns t when it is inside the window, otherwise the next
// instant at which the window opens.
func (w Window) NextOpen(t time.Time, loc *time.Location) time.Time {
	if w.Contains(t, loc) {
		return t
	}
	open := w.Start.On(t, loc)
	if !open.After(t) {
		open = w.Start.On(t.In(loc).AddDate(0, 0, 1), loc)
	}
	return open
}
