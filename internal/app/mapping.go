package app

import (
	"fmt"
	"strings"
	"time"

	"remindbot/internal/access"
	"remindbot/internal/advisory"
	"remindbot/internal/config"
	"remindbot/internal/digest"
	"remindbot/internal/dispatch"
	"remindbot/internal/domain"
	"remindbot/internal/monitor"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/health"
	"remindbot/internal/planner"
	"remindbot/internal/slot"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

const defaultJobTimeout = 2 * time.Minute

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapAdapterConfig(cfg *config.Config) (adapter.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, adapter.DefaultPollTimeout)
	if err != nil {
		return adapter.Config{}, err
	}
	req, err := config.ParseDurationField("telegram.request_timeout", cfg.Telegram.RequestTimeout)
	if err != nil {
		return adapter.Config{}, err
	}
	return adapter.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    poll,
		RequestTimeout: req,
		APIURL:         cfg.Telegram.APIURL,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		driver = "sqlite"
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = storage.DefaultPath
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationOrDefault("scheduler.job_timeout", cfg.Scheduler.JobTimeout, defaultJobTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Timezone:       domainTimezone(cfg),
		DefaultTimeout: timeout,
	}, nil
}

// domainTimezone is the zone name every wall-clock rule runs in.
func domainTimezone(cfg *config.Config) string {
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		return tz
	}
	return domain.DefaultServerTimezone
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.DefaultConfig()
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
		return out, fmt.Errorf("notifier: counts must be >= 0")
	}
	out.Enabled = n.Enabled
	if n.Workers > 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize > 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec > 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax > 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries > 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}
	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return out, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow); err != nil {
		return out, err
	}
	return out, nil
}

func mapAccessOptions(cfg *config.Config) (access.Options, error) {
	ttl, err := config.ParseDurationOrDefault("access.cache_ttl", cfg.Access.CacheTTL, access.DefaultCacheTTL)
	if err != nil {
		return access.Options{}, err
	}
	size := cfg.Access.CacheSize
	if size <= 0 {
		size = access.DefaultCacheSize
	}
	return access.Options{
		Owners:    append([]int64(nil), cfg.Telegram.OwnerUserIDs...),
		Allowlist: append([]int64(nil), cfg.Access.AllowedUserIDs...),
		CacheSize: size,
		CacheTTL:  ttl,
	}, nil
}

func mapPlannerConfig(cfg *config.Config) (planner.Config, error) {
	p := cfg.Planner
	timeout, err := config.ParseDurationOrDefault("planner.timeout", p.Timeout, planner.DefaultTimeout)
	if err != nil {
		return planner.Config{}, err
	}
	base, err := config.ParseDurationOrDefault("planner.retry_base", p.RetryBase, planner.DefaultRetryBase)
	if err != nil {
		return planner.Config{}, err
	}
	return planner.Config{
		Provider:    p.Provider,
		APIKey:      p.APIKey,
		BaseURL:     p.BaseURL,
		Model:       p.Model,
		Temperature: p.Temperature,
		Timeout:     timeout,
		MaxAttempts: p.MaxAttempts,
		RetryBase:   base,
		RatePerMin:  p.RatePerMin,
		MaxTasks:    p.MaxTasks,
	}, nil
}

// jobPlan is the resolved schedule of every periodic job.
type jobPlan struct {
	dispatchEvery time.Duration
	dispatch      dispatch.Options

	slotSpacing   time.Duration
	strictSymbols bool

	advisoryOn      bool
	advisoryEvery   time.Duration
	advisoryHorizon time.Duration

	digestOn bool
	digestAt string

	monitorOn    bool
	monitorEvery time.Duration
	monitor      monitor.Options
	logPath      string
	maxLines     int
	maxLineLen   int
}

func mapJobPlan(cfg *config.Config) (jobPlan, error) {
	r := cfg.Reminders
	m := cfg.Monitor
	p := jobPlan{
		strictSymbols: r.Reschedule.StrictSymbols,
		advisoryOn:    r.Advisory.Enabled,
		digestOn:      r.Digest.Enabled,
		digestAt:      strings.TrimSpace(r.Digest.At),
		monitorOn:     m.Enabled,
		logPath:       strings.TrimSpace(m.LogPath),
		maxLines:      m.MaxLines,
		maxLineLen:    m.MaxLineLen,
	}
	if p.digestAt == "" {
		p.digestAt = digest.DefaultAt
	}
	p.monitor.TruncateOnClean = m.TruncateOnClean == nil || *m.TruncateOnClean

	durs := []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"reminders.dispatch_interval", r.DispatchInterval, dispatch.DefaultInterval, &p.dispatchEvery},
		{"reminders.send_timeout", r.SendTimeout, dispatch.DefaultSendTimeout, &p.dispatch.SendTimeout},
		{"reminders.slot_spacing", r.SlotSpacing, slot.DefaultSpacing, &p.slotSpacing},
		{"reminders.advisory.interval", r.Advisory.Interval, advisory.DefaultInterval, &p.advisoryEvery},
		{"reminders.advisory.horizon", r.Advisory.Horizon, advisory.DefaultHorizon, &p.advisoryHorizon},
		{"monitor.interval", m.Interval, monitor.DefaultInterval, &p.monitorEvery},
		{"monitor.lag_threshold", m.LagThreshold, monitor.DefaultLagThreshold, &p.monitor.LagThreshold},
	}
	for _, d := range durs {
		v, err := config.ParseDurationOrDefault(d.path, d.raw, d.def)
		if err != nil {
			return jobPlan{}, err
		}
		*d.dst = v
	}
	return p, nil
}

func mapHealthConfig(cfg *config.Config) health.Config {
	addr := strings.TrimSpace(cfg.HTTP.Addr)
	if addr == "" {
		addr = health.DefaultAddr
	}
	return health.Config{Enabled: cfg.HTTP.Enabled, Addr: addr, Pprof: cfg.HTTP.Pprof}
}

// validateRuntime rejects a config the running app could not apply.
func validateRuntime(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapAdapterConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAccessOptions(cfg); err != nil {
		return err
	}
	if _, err := mapPlannerConfig(cfg); err != nil {
		return err
	}
	_, err := mapJobPlan(cfg)
	return err
}
