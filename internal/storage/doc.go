// Package storage is the SQLite persistence layer: users, tags, staged and
// confirmed reminders, and the operator audit trail.
//
// Due instants are stored as unix seconds and converted to the server time
// zone only at the presentation and scheduling boundary.
package storage
