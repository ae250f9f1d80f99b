// Package app wires every component together and owns the process
// lifecycle: start order, config hot reload and bounded shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"remindbot/internal/access"
	"remindbot/internal/bot"
	"remindbot/internal/config"
	"remindbot/internal/dispatch"
	"remindbot/internal/domain"
	"remindbot/internal/eventbus"
	"remindbot/internal/monitor"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/health"
	"remindbot/internal/planner"
	"remindbot/internal/reschedule"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/slot"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/systemd"
)

type App struct {
	cfgm        *config.ConfigManager
	sup         *rtsup.Supervisor
	supervisors *rtsup.Registry

	root logx.Logger
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	db   *storage.DB

	adapter  *telegram.Adapter
	router   *router.Router
	access   *access.Checker
	planner  *planner.Planner
	resched  *reschedule.Engine
	sender   *bot.Sender
	notif    *notifier.Service
	operator *notifier.Operator
	dispatch *dispatch.Dispatcher
	monitor  *monitor.Monitor
	sched    *scheduler.Service
	health   *health.Service

	loc     atomic.Pointer[time.Location]
	logPath atomic.Pointer[string]
	plan    atomic.Pointer[jobPlan]

	updates    chan kit.Update
	routerOn   bool
	routerDone chan struct{}
}

// New loads the config, opens storage and builds every component. Nothing
// talks to Telegram until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	cfgm.SetEnv(env)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateRuntime(cfg); err != nil {
		return nil, err
	}
	adCfg, _ := mapAdapterConfig(cfg)
	storeCfg, _ := mapStorageConfig(cfg)
	schedCfg, _ := mapSchedulerConfig(cfg)
	notifCfg, _ := mapNotifierConfig(cfg)
	accessOpt, _ := mapAccessOptions(cfg)
	plannerCfg, _ := mapPlannerConfig(cfg)
	plan, _ := mapJobPlan(cfg)

	ad, err := telegram.New(adCfg, logx.NewConsole("INFO"))
	if err != nil {
		return nil, err
	}

	// Telegram logging starts disabled so Apply does not warn before the
	// target chat is known.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, root := logx.New(bootCfg, ad)
	if cfg.Telegram.GroupLog != 0 {
		logSvc.SetTelegramTarget(cfg.Telegram.GroupLog, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	db, err := storage.Open(ctx, storeCfg, root)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", storeCfg.Driver), logx.String("path", storeCfg.Path))

	a := &App{
		cfgm:        cfgm,
		supervisors: rtsup.NewRegistry(),
		root:        root,
		log:         log,
		logs:        logSvc,
		bus:         eventbus.New(),
		db:          db,
		adapter:     ad,
		updates:     make(chan kit.Update, 256),
		routerDone:  make(chan struct{}),
	}
	loc := domain.LoadLocation(domainTimezone(cfg))
	a.loc.Store(loc)
	a.plan.Store(&plan)
	a.setLogPath(plan.logPath)

	client, err := planner.NewClient(ctx, plannerCfg)
	if err != nil {
		if !errors.Is(err, planner.ErrNotConfigured) {
			_ = db.Close()
			logSvc.Close()
			return nil, err
		}
		log.Warn("planner has no API key; free-text intake is off")
	}
	a.planner = planner.New(client, plannerCfg, loc, root)

	a.access = access.New(db, root, accessOpt)
	a.resched = reschedule.New(db, a.bus, root, loc)
	a.resched.SetStrict(plan.strictSymbols)
	slots := slot.New(db, plan.slotSpacing)

	a.notif = notifier.New(notifCfg, ad, root, a.bus)
	a.operator = notifier.NewOperator(a.notif, root)
	a.operator.SetFallback(ad)
	a.operator.SetTargets(cfg.Telegram.OwnerUserIDs, cfg.Telegram.GroupLog)

	a.sender = bot.NewSender(ad)
	a.dispatch = dispatch.New(db, a.sender, a.operator, a.bus, root, loc, plan.dispatch)

	scanner := monitor.NewLogScanner(a.currentLogPath, plan.maxLines, plan.maxLineLen)
	a.monitor = monitor.New(db, a.operator, scanner, logSvc, a.bus, root, loc, plan.monitor)

	a.sched = scheduler.New(schedCfg, root.With(logx.String("comp", "scheduler")))

	a.router = router.New(root, ad, a.access, router.Options{})
	b := bot.New(bot.Deps{
		Store:       db,
		Adapter:     ad,
		Planner:     a.planner,
		Slots:       slots,
		Rescheduler: a.resched,
		Permissions: a.access,
		Monitor:     a.monitor,
		Logs:        logSvc,
		Bus:         a.bus,
		Log:         root,
		Location:    a.location,
	})
	b.Register(a.router)

	a.health = health.New(mapHealthConfig(cfg), health.Sources{
		Ping:        db.Ping,
		Dispatch:    a.dispatch.LastReport,
		Scheduler:   a.sched.Snapshot,
		Supervisors: a.supervisors,
	}, root)

	return a, nil
}

func (a *App) location() *time.Location { return a.loc.Load() }

// currentLogPath is the file the monitor scans: monitor.log_path, else the
// file sink of the log service.
func (a *App) currentLogPath() string {
	if p := a.logPath.Load(); p != nil && *p != "" {
		return *p
	}
	return a.logs.LogPath()
}

func (a *App) setLogPath(p string) { a.logPath.Store(&p) }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.supervisors.Set("app", func() *rtsup.Supervisor { return a.sup })

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateRuntime(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("telegram start: %w", err)
	}
	a.supervisors.Set("telegram.adapter", a.adapter.Supervisor)

	a.notif.Start(a.sup.Context())
	a.supervisors.Set("notifier", a.notif.Supervisor)

	if err := a.registerJobs(*a.plan.Load()); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	a.routerOn = true
	a.sup.Go("router", func(c context.Context) error {
		defer close(a.routerDone)
		return a.router.Run(c, a.updates)
	})
	a.supervisors.Set("router", a.router.Supervisor)

	a.health.Start(a.sup.Context())
	a.supervisors.Set("health", a.health.Supervisor)

	a.publishMenus(a.sup.Context(), a.access.Owners())

	// Lifecycle events at debug level; components subscribe on their own.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if every := systemd.WatchdogInterval(); every > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			systemd.Watchdog(c, every, func() bool { return a.sup.Err() == nil })
		})
	}
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify READY not sent", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify READY sent")
		_, _ = systemd.Status("polling, tz " + a.location().String())
	}

	a.log.Info("app started", logx.String("tz", a.location().String()))
	return nil
}

func (a *App) publishMenus(ctx context.Context, owners []int64) {
	mctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := a.router.PublishMenus(mctx, owners); err != nil {
		a.log.Warn("command menus not published", logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Warn("sd_notify STOPPING not sent", logx.Err(err))
	}

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// The scheduler goes first and waits for an in-flight dispatch tick.
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("router", 4*time.Second, func(c context.Context) error {
		if !a.routerOn {
			return nil
		}
		select {
		case <-a.routerDone:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("health", 1*time.Second, func(c context.Context) error { a.health.Stop(c); return nil })
	step("storage", 1*time.Second, func(context.Context) error { return a.db.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, event log, watchdog).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}
