// Package planner turns free-text requests into dated reminder candidates
// with a language model, and writes short advisories for upcoming reminders.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ProviderDeepSeek = "deepseek"
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"

	DefaultDeepSeekURL   = "https://api.deepseek.com/v1"
	DefaultDeepSeekModel = "deepseek-chat"
	DefaultOpenAIURL     = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultGeminiModel   = "gemini-2.0-flash"

	DefaultTimeout     = 60 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryBase   = 2 * time.Second
	DefaultRatePerMin  = 30
	DefaultMaxTasks    = 30
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("planner: language model is not configured")

// Client is one chat-completion round trip.
type Client interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxAttempts int
	RetryBase   time.Duration
	RatePerMin  int
	MaxTasks    int
}

func (c Config) withDefaults() Config {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderDeepSeek
	}
	switch c.Provider {
	case ProviderDeepSeek:
		if c.BaseURL == "" {
			c.BaseURL = DefaultDeepSeekURL
		}
		if c.Model == "" {
			c.Model = DefaultDeepSeekModel
		}
	case ProviderOpenAI:
		if c.BaseURL == "" {
			c.BaseURL = DefaultOpenAIURL
		}
		if c.Model == "" {
			c.Model = DefaultOpenAIModel
		}
	case ProviderGemini:
		if c.Model == "" {
			c.Model = DefaultGeminiModel
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RatePerMin <= 0 {
		c.RatePerMin = DefaultRatePerMin
	}
	if c.MaxTasks <= 0 {
		c.MaxTasks = DefaultMaxTasks
	}
	return c
}

// NewClient builds the provider client cfg selects.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	switch cfg.Provider {
	case ProviderDeepSeek, ProviderOpenAI:
		return NewOpenAI(cfg.Provider, cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Temperature, nil), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg.APIKey, cfg.Model, cfg.Temperature)
	default:
		return nil, fmt.Errorf("planner: unknown provider %q", cfg.Provider)
	}
}
