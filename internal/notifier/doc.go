// Package notifier delivers operator notifications: anomaly alerts from the
// dispatch loop and the monitor, and other high-signal messages for the bot
// owners.
//
// Notifications go through an async queue drained by a small worker pool.
// Sends are rate limited, retried with jittered backoff and de-duplicated
// inside a short window so an alert storm does not flood the operator chat.
// A bounded in-memory history backs the /status endpoint.
package notifier
