package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "remindbot/internal/transport"
)

const (
	chatQueueSize   = 256
	chatSendTimeout = 10 * time.Second
	chatMaxLen      = 3500
	chatMaxValueLen = 600
	chatMaxStackLen = 900
)

// chatSink forwards records at or above a minimum level to the operator
// chat. Writes never block: when the queue is full or the rate limit is
// hit the record is dropped.
type chatSink struct {
	sender kit.Adapter
	queue  chan chatItem

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type chatItem struct {
	to   kit.ChatTarget
	text string
}

func newChatSink(sender kit.Adapter, threadID int) *chatSink {
	return &chatSink{
		sender:   sender,
		queue:    make(chan chatItem, chatQueueSize),
		threadID: threadID,
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (c *chatSink) setTarget(chatID int64, threadID int) {
	c.mu.Lock()
	c.chatID = chatID
	if threadID != 0 {
		c.threadID = threadID
	}
	c.mu.Unlock()
}

func (c *chatSink) hasTarget() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID != 0
}

func (c *chatSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.ThreadID != 0 {
		c.threadID = cfg.ThreadID
	}
	c.mu.Unlock()
}

// start launches the sender goroutine once.
func (c *chatSink) start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *chatSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-c.queue:
			if c.sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			_, _ = c.sender.SendText(sctx, it.to, it.text, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	to := kit.ChatTarget{ChatID: c.chatID, ThreadID: c.threadID}
	lim, minLevel := c.limiter, c.minLevel
	c.mu.Unlock()

	if to.ChatID == 0 || c.sender == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	text := formatRecord(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case c.queue <- chatItem{to: to, text: text}:
	default:
	}
	return len(p), nil
}

var levelBadges = map[string]string{
	"trace": "🔍",
	"debug": "🔍",
	"info":  "ℹ️",
	"warn":  "⚠️",
	"error": "❗",
	"fatal": "💥",
	"panic": "💥",
}

// formatRecord renders one JSON record for the chat: a header with level
// and component, the message, then the remaining fields sorted by key.
// Non-JSON input is passed through trimmed.
func formatRecord(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return clip(raw, chatMaxLen)
	}

	level, _ := rec["level"].(string)
	comp, _ := rec["comp"].(string)
	msg, _ := rec["message"].(string)

	var b strings.Builder
	if badge, ok := levelBadges[level]; ok {
		b.WriteString(badge + " ")
	}
	b.WriteString(strings.ToUpper(level))
	if comp != "" {
		b.WriteString(" · " + comp)
	}
	b.WriteString("\n" + msg)

	keys := make([]string, 0, len(rec))
	for k := range rec {
		switch k {
		case "time", "level", "message", "comp", "stack":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, clip(fmt.Sprint(rec[k]), chatMaxValueLen))
	}
	if st, ok := rec["stack"].(string); ok && st != "" {
		b.WriteString("\nstack:\n" + clip(st, chatMaxStackLen))
	}
	return clip(b.String(), chatMaxLen)
}

// clip cuts s to at most n bytes, marking the cut with "...".
func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
