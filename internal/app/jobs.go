package app

import (
	"context"

	"remindbot/internal/advisory"
	"remindbot/internal/digest"
)

// Scheduler job names.
const (
	jobDispatch = "reminders.dispatch"
	jobAdvisory = "reminders.advisory"
	jobDigest   = "reminders.digest"
	jobMonitor  = "monitor"
)

// registerJobs upserts every periodic job for p and removes the disabled
// ones. It is safe to call again after a reload.
func (a *App) registerJobs(p jobPlan) error {
	if _, err := a.sched.AddInterval(jobDispatch, p.dispatchEvery, 0, func(ctx context.Context) error {
		_, err := a.dispatch.Tick(ctx)
		return err
	}); err != nil {
		return err
	}

	if p.advisoryOn {
		job := advisory.New(a.db, a.planner, a.bus, a.root, p.advisoryHorizon)
		if _, err := a.sched.AddInterval(jobAdvisory, p.advisoryEvery, 0, func(ctx context.Context) error {
			_, err := job.Run(ctx)
			return err
		}); err != nil {
			return err
		}
	} else {
		a.sched.Remove(jobAdvisory)
	}

	if p.digestOn {
		job := digest.New(a.db, a.sender, a.root, a.location)
		if _, err := a.sched.AddDaily(jobDigest, p.digestAt, 0, func(ctx context.Context) error {
			_, err := job.Run(ctx)
			return err
		}); err != nil {
			return err
		}
	} else {
		a.sched.Remove(jobDigest)
	}

	if p.monitorOn {
		if _, err := a.sched.AddInterval(jobMonitor, p.monitorEvery, 0, func(ctx context.Context) error {
			a.monitor.Run(ctx)
			return nil
		}); err != nil {
			return err
		}
	} else {
		a.sched.Remove(jobMonitor)
	}
	return nil
}
