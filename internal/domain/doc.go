// Package domain holds the reminder model shared by every other package:
// users, tags with daily windows, staged and confirmed reminders, the error
// taxonomy and the server-time formatting helpers.
package domain
