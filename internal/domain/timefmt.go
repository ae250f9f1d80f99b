package domain

import (
	"fmt"
	"strings"
	"time"
)

// DueLayout is the wire layout for planned due times exchanged with the
// language model.
const DueLayout = "2006/01/02, 15:04"

// DefaultServerTimezone is used when no timezone is configured (UTC+3).
const DefaultServerTimezone = "Europe/Moscow"

// LoadLocation resolves an IANA name, falling back to a fixed UTC+3 zone
// when the tz database is unavailable.
func LoadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultServerTimezone
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.FixedZone("UTC+3", 3*60*60)
}

// ParseDue parses a DueLayout string in loc.
func ParseDue(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DueLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: due time %q: want %q", ErrValidation, s, DueLayout)
	}
	return t, nil
}

func FormatDue(t time.Time, loc *time.Location) string { return t.In(loc).Format(DueLayout) }

// FormatShort renders t relative to now for chat output.
func FormatShort(t, now time.Time, loc *time.Location) string {
	lt := t.In(loc)
	today := midnight(now.In(loc))
	day := midnight(lt)
	clock := lt.Format("15:04")

	switch {
	case day.Equal(today):
		return "today, " + lt.Format("Mon") + ", " + clock
	case day.Before(today):
		return "past, " + clock
	case !day.After(today.AddDate(0, 0, 1)):
		return "tomorrow, " + lt.Format("Mon") + ", " + clock
	case !day.After(today.AddDate(0, 0, 6)):
		return lt.Format("Mon") + "., " + clock
	case lt.Year() == today.Year():
		return lt.Format("2 Jan") + ", " + clock
	}
	return lt.Format(DueLayout)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
