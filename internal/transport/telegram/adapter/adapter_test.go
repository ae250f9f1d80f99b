package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	t.Run("short text is untouched", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []string{"hello"}, splitText("hello", 10, ""))
	})

	t.Run("prefers newline boundaries", func(t *testing.T) {
		t.Parallel()
		s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
		got := splitText(s, 10, "")
		assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, got)
	})

	t.Run("hard cut without newlines", func(t *testing.T) {
		t.Parallel()
		got := splitText(strings.Repeat("x", 25), 10, "")
		require.Len(t, got, 3)
		assert.Equal(t, 10, len(got[0]))
		assert.Equal(t, 5, len(got[2]))
	})

	t.Run("counts runes not bytes", func(t *testing.T) {
		t.Parallel()
		got := splitText(strings.Repeat("ж", 8), 10, "")
		assert.Equal(t, []string{strings.Repeat("ж", 8)}, got)
	})

	t.Run("html tag is not split", func(t *testing.T) {
		t.Parallel()
		s := "abcdefgh<b>bo</b>"
		got := splitText(s, 10, "HTML")
		require.NotEmpty(t, got)
		assert.Equal(t, "abcdefgh", got[0])
		assert.Equal(t, s, strings.Join(got, ""))
	})
}

func TestMenuCommands(t *testing.T) {
	t.Parallel()

	list, sum := menuCommands([]kit.BotCommand{
		{Command: "start", Description: "Start"},
		{Command: ""},
		{Command: "tags"},
	})
	assert.Equal(t, []tele.Command{
		{Text: "start", Description: "Start"},
		{Text: "tags", Description: "tags"},
	}, list)

	_, same := menuCommands([]kit.BotCommand{{Command: "start", Description: "Start"}, {Command: "tags"}})
	assert.Equal(t, sum, same)

	_, other := menuCommands([]kit.BotCommand{{Command: "start", Description: "Begin"}})
	assert.NotEqual(t, sum, other)
}

func TestSenderOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, kit.Sender{}, senderOf(nil))
	assert.Equal(t,
		kit.Sender{ID: 7, Username: "ann", FullName: "Ann Lee"},
		senderOf(&tele.User{ID: 7, Username: "ann", FirstName: "Ann", LastName: "Lee"}))
	assert.Equal(t, "Bob", senderOf(&tele.User{ID: 8, FirstName: "Bob"}).FullName)
}

const okMessage = `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":5,"type":"private"}}}`

func newServedAdapter(t *testing.T, h http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	a, err := New(Config{Token: "123:abc", APIURL: srv.URL, Offline: true}, logx.Nop())
	require.NoError(t, err)
	return a
}

func TestNew_RequestTimeout(t *testing.T) {
	t.Parallel()

	a, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultPollTimeout+requestSlack, a.cfg.RequestTimeout)

	a, err = New(Config{Token: "123:abc", Offline: true, PollTimeout: 30 * time.Second, RequestTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, 35*time.Second, a.cfg.RequestTimeout)
}

func TestSendText_BotAPI(t *testing.T) {
	t.Parallel()

	a := newServedAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okMessage))
	})

	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 5}, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, kit.MessageRef{ChatID: 5, MessageID: 1}, ref)
}

func TestSendText_StopsAtDeadline(t *testing.T) {
	t.Parallel()

	a := newServedAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okMessage))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: 5}, "hi", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}
