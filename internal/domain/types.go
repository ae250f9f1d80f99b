package domain

import (
	"strings"
	"time"
)

// DefaultTagName is the virtual tag every user has. It is never stored.
const DefaultTagName = "default"

// User is a Telegram identity. ID is the Telegram user id, which is also the
// private chat id used for delivery.
type User struct {
	ID        int64
	FullName  string
	Username  string
	Allowed   bool
	Admin     bool
	CreatedAt time.Time
}

func (u User) DisplayName() string {
	if n := strings.TrimSpace(u.FullName); n != "" {
		return n
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "user"
}

// Tag is a named category with a daily allowed window.
type Tag struct {
	ID     int64
	UserID int64
	Name   string
	Window Window
}

// DefaultTag returns the virtual tag with the unrestricted 00:00-23:59 window.
func DefaultTag(userID int64) Tag {
	return Tag{UserID: userID, Name: DefaultTagName, Window: DefaultWindow}
}

// IsDefaultTag reports whether name refers to the virtual default tag.
func IsDefaultTag(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), DefaultTagName)
}

// StagedReminder is an unconfirmed candidate produced by one intake round.
// Tag is a name and is not guaranteed to resolve.
type StagedReminder struct {
	ID        int64
	UserID    int64
	Text      string
	Tag       string
	Due       time.Time
	CreatedAt time.Time
}

// Reminder is a confirmed, schedulable reminder. Reminders are never deleted;
// Completed archives them in place.
type Reminder struct {
	ID        int64
	UserID    int64
	Text      string
	Tag       string
	Due       time.Time
	Completed bool
	Advisory  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Reminder) HasAdvisory() bool { return strings.TrimSpace(r.Advisory) != "" }
