package storage

import "time"

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

// AuditEntry records an operator action such as /allow or /ban.
type AuditEntry struct {
	At       time.Time
	ActorID  int64
	Action   string
	TargetID int64
	Detail   string
}
