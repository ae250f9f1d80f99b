package app

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/domain"
	"remindbot/internal/planner"
	logx "remindbot/pkg/logx"
)

// restartOnly lists sections whose changes need a process restart.
var restartOnly = []string{"storage"}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	// Track last applied config to generate a safe diff summary for logx.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes newCfg into every running component. Invalid sections
// were rejected by the validator, so mapping errors here keep the previous
// settings.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	for _, s := range sections {
		if slices.Contains(restartOnly, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
	if oldCfg != nil && oldCfg.Telegram.Token != newCfg.Telegram.Token {
		a.log.Warn("bot token changed; restart required for changes to take effect")
	}

	// update log target first (so Apply() doesn't warn when Telegram logging is enabled)
	a.logs.SetTelegramTarget(newCfg.Telegram.GroupLog, newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	loc := domain.LoadLocation(domainTimezone(newCfg))
	a.loc.Store(loc)
	a.resched.SetLocation(loc)

	if opt, err := mapAccessOptions(newCfg); err != nil {
		a.log.Warn("invalid access config; keeping previous", logx.Err(err))
	} else {
		a.access.Apply(opt)
	}
	a.operator.SetTargets(newCfg.Telegram.OwnerUserIDs, newCfg.Telegram.GroupLog)

	if slices.Contains(sections, "planner") {
		a.applyPlanner(ctx, newCfg, loc)
	}

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
		if ncfg.Enabled {
			a.notif.Start(ctx)
		} else {
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		}
	}

	plan, err := mapJobPlan(newCfg)
	if err != nil {
		a.log.Warn("invalid reminders config; keeping previous", logx.Err(err))
	} else {
		prev := a.plan.Load()
		if prev != nil && (prev.slotSpacing != plan.slotSpacing || prev.maxLines != plan.maxLines || prev.maxLineLen != plan.maxLineLen) {
			a.log.Warn("slot spacing and scan limits need a restart to change")
		}
		a.plan.Store(&plan)
		a.setLogPath(plan.logPath)
		a.resched.SetStrict(plan.strictSymbols)
		a.dispatch.Apply(loc, plan.dispatch)
		a.monitor.Apply(loc, plan.monitor)
	}

	a.applyScheduler(ctx, newCfg, plan, err == nil)

	a.health.Reconfigure(ctx, mapHealthConfig(newCfg))

	if slices.Contains(sections, "telegram") || slices.Contains(sections, "access") {
		a.publishMenus(ctx, a.access.Owners())
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) applyPlanner(ctx context.Context, cfg *config.Config, loc *time.Location) {
	pcfg, err := mapPlannerConfig(cfg)
	if err != nil {
		a.log.Warn("invalid planner config; keeping previous", logx.Err(err))
		return
	}
	client, err := planner.NewClient(ctx, pcfg)
	switch {
	case errors.Is(err, planner.ErrNotConfigured):
		a.log.Warn("planner has no API key; free-text intake is off")
	case err != nil:
		a.log.Warn("planner client not rebuilt; keeping previous", logx.Err(err))
		return
	}
	a.planner.Apply(client, pcfg, loc)
}

func (a *App) applyScheduler(ctx context.Context, cfg *config.Config, plan jobPlan, planOK bool) {
	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		return
	}
	wasEnabled := a.sched.Enabled()
	a.sched.Apply(scfg)
	if planOK {
		if err := a.registerJobs(plan); err != nil {
			a.log.Warn("jobs not re-registered", logx.Err(err))
		}
	}
	switch {
	case wasEnabled && !scfg.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !wasEnabled && scfg.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}
}
