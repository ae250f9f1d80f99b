package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "remindbot/internal/transport"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewWriter_FieldsAndWith(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "dispatch"))
	log.Info("tick", Int("due", 3))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["comp"] != "dispatch" || m["message"] != "tick" || m["due"] != float64(3) {
		t.Fatalf("record = %v", m)
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero Logger should report IsZero")
	}
	l.Error("nothing happens")
}

func TestService_FileSinkAndTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, nil)
	defer svc.Close()

	if got := svc.LogPath(); got != path {
		t.Fatalf("LogPath() = %q, want %q", got, path)
	}

	log.Warn("send failed", String("chat", "42"))
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), "send failed") {
		t.Fatalf("log file = %q, want message", string(b))
	}

	if err := svc.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Size() != 0 {
		t.Fatalf("size after Truncate = %d, want 0", st.Size())
	}

	log.Error("after truncate")
	b, _ = os.ReadFile(path)
	if !strings.HasPrefix(string(b), "{") || !strings.Contains(string(b), "after truncate") {
		t.Fatalf("log file after truncate = %q", string(b))
	}
}

func TestFormatRecord(t *testing.T) {
	t.Parallel()

	got := formatRecord([]byte(`{"level":"warn","comp":"dispatch","message":"lag","zeta":1,"alpha":"x","time":"t"}`))
	want := "⚠️ WARN · dispatch\nlag\nalpha: x\nzeta: 1"
	if got != want {
		t.Fatalf("formatRecord = %q, want %q", got, want)
	}
	if got := formatRecord([]byte("  plain text\n")); got != "plain text" {
		t.Fatalf("non-json = %q", got)
	}
	got = formatRecord([]byte(`{"level":"error","message":"boom","stack":"main.go:1"}`))
	if !strings.HasSuffix(got, "\nstack:\nmain.go:1") {
		t.Fatalf("stack = %q", got)
	}
}

type chatRecorder struct {
	kit.Adapter
	mu   sync.Mutex
	sent []string
}

func (r *chatRecorder) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (r *chatRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestService_ChatSinkHonorsMinLevel(t *testing.T) {
	rec := &chatRecorder{}
	svc, log := New(Config{Level: "debug", Telegram: TelegramConfig{MinLevel: "warn", RatePerSec: 100}}, rec)
	defer svc.Close()
	svc.SetTelegramTarget(-100, 0)
	svc.Apply(Config{Level: "debug", Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100}})

	log.Info("quiet")
	log.Warn("loud")

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.sent) != 1 || !strings.Contains(rec.sent[0], "loud") {
		t.Fatalf("sent = %q", rec.sent)
	}
}

func TestClip(t *testing.T) {
	t.Parallel()

	if got := clip("abcdefghijklmnop", 12); got != "abcdefghi..." {
		t.Fatalf("clip = %q", got)
	}
	if got := clip("short", 12); got != "short" {
		t.Fatalf("clip = %q", got)
	}
}
