package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate performs static checks that do not need any running service.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required (or BOT_TOKEN)"))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
	default:
		add(fmt.Errorf("storage.driver: unsupported %q", cfg.Storage.Driver))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Planner.Provider)) {
	case "", "deepseek", "openai", "gemini":
	default:
		add(fmt.Errorf("planner.provider: unsupported %q", cfg.Planner.Provider))
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" && !strings.EqualFold(tz, "Local") {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if at := strings.TrimSpace(cfg.Reminders.Digest.At); at != "" {
		if _, err := time.Parse("15:04", at); err != nil {
			add(fmt.Errorf("reminders.digest.at: want HH:MM, got %q", at))
		}
	}

	durations := map[string]string{
		"telegram.poll_timeout":       cfg.Telegram.PollTimeout,
		"telegram.request_timeout":    cfg.Telegram.RequestTimeout,
		"storage.busy_timeout":        cfg.Storage.BusyTimeout,
		"scheduler.job_timeout":       cfg.Scheduler.JobTimeout,
		"access.cache_ttl":            cfg.Access.CacheTTL,
		"planner.timeout":             cfg.Planner.Timeout,
		"planner.retry_base":          cfg.Planner.RetryBase,
		"reminders.dispatch_interval": cfg.Reminders.DispatchInterval,
		"reminders.send_timeout":      cfg.Reminders.SendTimeout,
		"reminders.slot_spacing":      cfg.Reminders.SlotSpacing,
		"reminders.advisory.interval": cfg.Reminders.Advisory.Interval,
		"reminders.advisory.horizon":  cfg.Reminders.Advisory.Horizon,
		"monitor.interval":            cfg.Monitor.Interval,
		"monitor.lag_threshold":       cfg.Monitor.LagThreshold,
	}
	if n := cfg.Notifier; n != nil {
		durations["notifier.retry_base"] = n.RetryBase
		durations["notifier.retry_max_delay"] = n.RetryMaxDelay
		durations["notifier.dedup_window"] = n.DedupWindow
	}
	for path, raw := range durations {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	return errors.Join(errs...)
}
