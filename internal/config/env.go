package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/caarlos0/env/v10"
)

// EnvOverrides are deployment settings read from the process environment.
// Non-empty values win over the config file so secrets never have to live in it.
type EnvOverrides struct {
	BotToken       string  `env:"BOT_TOKEN"`
	AdminIDs       []int64 `env:"ADMIN_ID" envSeparator:","`
	AllowedUsers   []int64 `env:"ALLOWED_USERS" envSeparator:","`
	LLMProvider    string  `env:"LLM_PROVIDER"`
	LLMAPIKey      string  `env:"LLM_API_KEY"`
	LLMModel       string  `env:"LLM_MODEL"`
	LLMBaseURL     string  `env:"LLM_BASE_URL"`
	DBPath         string  `env:"DB_PATH"`
	LogFile        string  `env:"LOG_FILE"`
	ServerTimezone string  `env:"SERVER_TIMEZONE"`
}

// LoadEnv reads EnvOverrides from the real environment.
func LoadEnv() (EnvOverrides, error) {
	var e EnvOverrides
	if err := env.Parse(&e); err != nil {
		return EnvOverrides{}, fmt.Errorf("env: %w", err)
	}
	return e, nil
}

// LoadEnvFrom reads EnvOverrides from the given key/value map.
func LoadEnvFrom(vars map[string]string) (EnvOverrides, error) {
	var e EnvOverrides
	if err := env.ParseWithOptions(&e, env.Options{Environment: vars}); err != nil {
		return EnvOverrides{}, fmt.Errorf("env: %w", err)
	}
	return e, nil
}

// Apply merges the overrides into cfg in place.
func (e EnvOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, e.BotToken)
	set(&cfg.Planner.Provider, e.LLMProvider)
	set(&cfg.Planner.APIKey, e.LLMAPIKey)
	set(&cfg.Planner.Model, e.LLMModel)
	set(&cfg.Planner.BaseURL, e.LLMBaseURL)
	set(&cfg.Storage.Path, e.DBPath)
	set(&cfg.Scheduler.Timezone, e.ServerTimezone)
	if strings.TrimSpace(e.LogFile) != "" {
		cfg.Logging.File.Enabled = true
		cfg.Logging.File.Path = strings.TrimSpace(e.LogFile)
	}
	cfg.Telegram.OwnerUserIDs = mergeIDs(cfg.Telegram.OwnerUserIDs, e.AdminIDs)
	cfg.Access.AllowedUserIDs = mergeIDs(cfg.Access.AllowedUserIDs, e.AllowedUsers)
}

func mergeIDs(base, extra []int64) []int64 {
	out := append([]int64(nil), base...)
	for _, id := range extra {
		if id != 0 && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
