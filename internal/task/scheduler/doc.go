// Package scheduler runs the bot's periodic jobs on robfig/cron.
//
// Jobs are registered by name (cron spec, interval or daily HH:MM) and run in
// the scheduler timezone. A job never overlaps itself: cron triggers go
// through SkipIfStillRunning and on-demand runs (RunNow) share the same
// per-job guard. Stop waits for in-flight runs before returning.
package scheduler
