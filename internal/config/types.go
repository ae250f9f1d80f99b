package config

// Config is the whole bot configuration as read from config.json / config.yaml.
//
// All durations are Go duration strings (e.g. "500ms", "30s", "5m").
// Secrets (bot token, LLM key) are normally supplied through the environment;
// see EnvOverrides.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Notifier controls the operator alert pipeline.
	// If the whole section is omitted, the notifier defaults to enabled=true.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	Access    AccessConfig    `json:"access"`
	Planner   PlannerConfig   `json:"planner"`
	Reminders RemindersConfig `json:"reminders"`
	Monitor   MonitorConfig   `json:"monitor"`
	HTTP      HTTPConfig      `json:"http"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is an optional operator group chat that receives alerts and
	// warn+ log lines in addition to the owners.
	GroupLog int64 `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// RequestTimeout bounds each Bot API HTTP call. Default: poll_timeout + 20s.
	RequestTimeout string `json:"request_timeout,omitempty"`
	// APIURL targets a self-hosted Bot API server.
	APIURL string `json:"api_url,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the SQLite database.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the cron runner that drives the periodic jobs.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone is the server time zone used by job schedules and by every
	// wall-clock predicate (tag windows, evening/weekend search, digest).
	Timezone string `json:"timezone,omitempty"`
	// JobTimeout bounds a single job run. "0s" disables it.
	JobTimeout string `json:"job_timeout,omitempty"`
}

// NotifierConfig controls the async operator notification pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// AccessConfig controls who may use the bot and the permission cache.
type AccessConfig struct {
	AllowedUserIDs []int64 `json:"allowed_user_ids,omitempty"`
	CacheSize      int     `json:"cache_size,omitempty"`
	CacheTTL       string  `json:"cache_ttl,omitempty"`
}

// PlannerConfig selects and tunes the language-model backend.
//
// Provider is one of "deepseek", "openai" (OpenAI-compatible chat completions)
// or "gemini".
type PlannerConfig struct {
	Provider    string  `json:"provider"`
	APIKey      string  `json:"api_key,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Timeout     string  `json:"timeout,omitempty"`
	MaxAttempts int     `json:"max_attempts,omitempty"`
	RetryBase   string  `json:"retry_base,omitempty"`
	RatePerMin  int     `json:"rate_per_min,omitempty"`
	MaxTasks    int     `json:"max_tasks,omitempty"`
}

type RemindersConfig struct {
	DispatchInterval string           `json:"dispatch_interval,omitempty"`
	SendTimeout      string           `json:"send_timeout,omitempty"`
	SlotSpacing      string           `json:"slot_spacing,omitempty"`
	Reschedule       RescheduleConfig `json:"reschedule"`
	Advisory         AdvisoryConfig   `json:"advisory"`
	Digest           DigestConfig     `json:"digest"`
}

type RescheduleConfig struct {
	// StrictSymbols rejects unknown reschedule symbols instead of falling
	// back to 30 minutes.
	StrictSymbols bool `json:"strict_symbols"`
}

type AdvisoryConfig struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval,omitempty"`
	Horizon  string `json:"horizon,omitempty"`
}

type DigestConfig struct {
	Enabled bool `json:"enabled"`
	// At is HH:MM server time.
	At string `json:"at,omitempty"`
}

type MonitorConfig struct {
	Enabled      bool   `json:"enabled"`
	Interval     string `json:"interval,omitempty"`
	LagThreshold string `json:"lag_threshold,omitempty"`
	// LogPath overrides the scanned file; defaults to logging.file.path.
	LogPath    string `json:"log_path,omitempty"`
	MaxLines   int    `json:"max_lines,omitempty"`
	MaxLineLen int    `json:"max_line_len,omitempty"`
	// TruncateOnClean empties the log after a scan that found nothing.
	// Nil means true.
	TruncateOnClean *bool `json:"truncate_on_clean,omitempty"`
}

// HTTPConfig controls the optional health endpoint.
//
// Prefer binding to localhost (e.g. "127.0.0.1:8089").
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	// Pprof exposes /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}
