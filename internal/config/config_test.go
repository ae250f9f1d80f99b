package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  poll_timeout: 10s
logging:
  level: info
  file:
    enabled: true
    path: ./remindbot.log
storage:
  driver: sqlite
  path: ./remindbot.db
scheduler:
  enabled: true
  timezone: UTC
planner:
  provider: deepseek
reminders:
  dispatch_interval: 30s
  reschedule:
    strict_symbols: true
  digest:
    enabled: true
    at: "07:00"
monitor:
  enabled: true
  interval: 30m
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_YAML(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, []int64{42}, cfg.Telegram.OwnerUserIDs)
	assert.True(t, cfg.Reminders.Reschedule.StrictSymbols)
	assert.Equal(t, "07:00", cfg.Reminders.Digest.At)
	assert.Same(t, cfg, m.Get())
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(writeFile(t, "config.json", `{"telegram":{"token":"x"},"plugins":{}}`))
	_, err := m.Parse()
	require.Error(t, err)
}

func TestParse_RejectsTrailingData(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(writeFile(t, "config.json", `{"telegram":{"token":"x"}}{"x":1}`))
	_, err := m.Parse()
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()

	e, err := LoadEnvFrom(map[string]string{
		"BOT_TOKEN":       "env-token",
		"ADMIN_ID":        "42,7",
		"ALLOWED_USERS":   "100",
		"LLM_API_KEY":     "sk-1",
		"LOG_FILE":        "/var/log/bot.log",
		"SERVER_TIMEZONE": "UTC",
	})
	require.NoError(t, err)

	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	m.SetEnv(e)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, []int64{42, 7}, cfg.Telegram.OwnerUserIDs)
	assert.Equal(t, []int64{100}, cfg.Access.AllowedUserIDs)
	assert.Equal(t, "sk-1", cfg.Planner.APIKey)
	assert.Equal(t, "/var/log/bot.log", cfg.Logging.File.Path)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, true},
		{"bad driver", func(c *Config) { c.Storage.Driver = "file" }, true},
		{"bad provider", func(c *Config) { c.Planner.Provider = "llama" }, true},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Base" }, true},
		{"bad digest time", func(c *Config) { c.Reminders.Digest.At = "7am" }, true},
		{"bad duration", func(c *Config) { c.Monitor.LagThreshold = "five minutes" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				Telegram: TelegramConfig{Token: "t"},
				Storage:  StorageConfig{Driver: "sqlite"},
			}
			tc.mutate(cfg)
			err := Validate(cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestPublish_DropsOldest(t *testing.T) {
	t.Parallel()

	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-ch:
		assert.Same(t, second, got)
	case <-time.After(time.Second):
		t.Fatal("no config delivered")
	}

	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Planner: PlannerConfig{Provider: "deepseek", APIKey: "a"}}
	newCfg := &Config{
		Planner: PlannerConfig{Provider: "deepseek", APIKey: "b"},
		Monitor: MonitorConfig{Enabled: true},
	}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"monitor", "planner"}, changed)

	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, changed)
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = ParseDurationOrDefault("x", "5m", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	_, err = ParseDurationOrDefault("x", "-1s", time.Second)
	require.Error(t, err)
}
