package eventbus

// Event types published by the reminder core and its plumbing.
const (
	ReminderDelivered      = "reminder.delivered"
	ReminderDeliveryFailed = "reminder.delivery_failed"
	ReminderRescheduled    = "reminder.rescheduled"
	ReminderCompleted      = "reminder.completed"
	ReminderStaged         = "reminder.staged"
	ReminderPromoted       = "reminder.promoted"
	DispatchTick           = "dispatch.tick"
	MonitorAlert           = "monitor.alert"
	AdvisoryAttached       = "advisory.attached"
	AccessChanged          = "access.changed"
	NotifierQueued         = "notifier.queued"
	NotifierSent           = "notifier.sent"
	NotifierFailed         = "notifier.failed"
	NotifierDeduped        = "notifier.deduped"
	NotifierDropped        = "notifier.dropped"
)

// ReminderEvent is the payload of the reminder.* events.
type ReminderEvent struct {
	ReminderID int64  `json:"reminder_id"`
	UserID     int64  `json:"user_id"`
	Symbol     string `json:"symbol,omitempty"`
	Err        string `json:"err,omitempty"`
}
