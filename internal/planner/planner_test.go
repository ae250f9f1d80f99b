package planner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/domain"
	logx "remindbot/pkg/logx"
)

var msk = time.FixedZone("MSK", 3*60*60)

type scripted struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	systems []string
	users   []string
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Complete(_ context.Context, system, user string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.systems = append(s.systems, system)
	s.users = append(s.users, user)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return s.replies[len(s.replies)-1], nil
}

func testConfig() Config {
	return Config{MaxAttempts: 3, RetryBase: time.Millisecond, RatePerMin: 60000, Timeout: time.Second}
}

func newTestPlanner(c Client) *Planner {
	p := New(c, testConfig(), msk, logx.Nop())
	p.now = func() time.Time { return time.Date(2025, 3, 10, 8, 0, 0, 0, msk) }
	p.caller.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func workTags() []domain.Tag {
	return []domain.Tag{
		{Name: "Work", Window: domain.Window{Start: domain.TimeOfDay(9 * 60), End: domain.TimeOfDay(18 * 60)}},
		domain.DefaultTag(1),
	}
}

func TestDecodeTasks(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want []rawTask
		bad  int
	}{
		{
			name: "tasks list",
			in:   `{"tasks":[{"tag":"Work","text":"report","time":"2025/03/10, 10:00"}]}`,
			want: []rawTask{{Tag: "Work", Text: "report", Time: "2025/03/10, 10:00"}},
		},
		{
			name: "fenced",
			in:   "```json\n{\"tasks\":[{\"tag\":\"Work\",\"text\":\"a\"}]}\n```",
			want: []rawTask{{Tag: "Work", Text: "a"}},
		},
		{
			name: "keyed by tag",
			in:   `{"Work":[{"text":"a"},{"text":"b"}],"default":[{"text":"c"}]}`,
			want: []rawTask{{Tag: "Work", Text: "a"}, {Tag: "Work", Text: "b"}, {Tag: "default", Text: "c"}},
		},
		{
			name: "malformed entries counted",
			in:   `{"tasks":[{"text":"ok"},[1,2],{"text":{"nested":true}}]}`,
			want: []rawTask{{Text: "ok"}},
			bad:  2,
		},
		{
			name: "single quotes",
			in:   `{'tasks': [{'tag': 'Work', 'text': 'call'}]}`,
			want: []rawTask{{Tag: "Work", Text: "call"}},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, bad, err := decodeTasks(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.bad, bad)
		})
	}
}

func TestDecodeTasks_Invalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "sorry, I can't", `{"tasks": "none"}`} {
		_, _, err := decodeTasks(in)
		require.ErrorIs(t, err, domain.ErrValidation, in)
	}
}

func TestPlan_TwoStages(t *testing.T) {
	t.Parallel()

	c := &scripted{replies: []string{
		`{"tasks":[{"tag":"work","text":"send report"},{"tag":"gym","text":"run"},{"tag":"Work","text":"  "}]}`,
		`{"tasks":[` +
			`{"tag":"Work","text":"send report","time":"2025/03/10, 10:00"},` +
			`{"tag":"default","text":"run","time":""},` +
			`{"tag":"Work","text":"bad","time":"tomorrow"}]}`,
	}}
	p := newTestPlanner(c)

	got, st, err := p.Plan(context.Background(), workTags(), "send report\nrun")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Work", got[0].Tag)
	assert.True(t, got[0].Due.Equal(time.Date(2025, 3, 10, 10, 0, 0, 0, msk)))
	assert.Equal(t, domain.DefaultTagName, got[1].Tag)
	assert.True(t, got[1].Due.IsZero())
	assert.Equal(t, 2, st.Rejected)

	require.Equal(t, 2, c.calls)
	assert.Equal(t, "send report;run", c.users[0])
	assert.Contains(t, c.systems[0], "Work, default")
	assert.Contains(t, c.systems[1], "Work (09:00-18:00)")
	assert.Contains(t, c.systems[1], "2025/03/10, 08:00")

	var in planInput
	require.NoError(t, json.Unmarshal([]byte(c.users[1]), &in))
	assert.Equal(t, "send report;run", in.UserQuery)
	assert.Equal(t, []planTask{{Tag: "Work", Text: "send report"}, {Tag: "default", Text: "run"}}, in.ExtractedTasks)
}

func TestExtract_CapsTasks(t *testing.T) {
	t.Parallel()

	items := make([]string, 0, 35)
	for i := 0; i < 35; i++ {
		items = append(items, `{"text":"water plants"}`)
	}
	c := &scripted{replies: []string{`{"tasks":[` + strings.Join(items, ",") + `]}`}}
	got, st, err := newTestPlanner(c).ExtractTasks(context.Background(), []string{"default"}, "x")
	require.NoError(t, err)
	assert.Len(t, got, DefaultMaxTasks)
	assert.Equal(t, 5, st.Dropped)
}

func TestCaller_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	c := &scripted{
		errs:    []error{errors.New("connection reset"), nil},
		replies: []string{"", "not json at all: [", `{"tasks":[{"text":"a"}]}`},
	}
	got, _, err := newTestPlanner(c).ExtractTasks(context.Background(), nil, "a")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 3, c.calls)
}

func TestCaller_Exhausted(t *testing.T) {
	t.Parallel()

	c := &scripted{errs: []error{errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d")}}
	_, _, err := newTestPlanner(c).ExtractTasks(context.Background(), nil, "a")
	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.True(t, IsUpstream(err))
	assert.Equal(t, 3, c.calls)
}

func TestCaller_PermanentStatusStops(t *testing.T) {
	t.Parallel()

	c := &scripted{errs: []error{&StatusError{Code: http.StatusUnauthorized}}}
	_, _, err := newTestPlanner(c).ExtractTasks(context.Background(), nil, "a")
	require.ErrorIs(t, err, domain.ErrUpstream)
	assert.Equal(t, 1, c.calls)
}

func TestAdvise(t *testing.T) {
	t.Parallel()

	c := &scripted{replies: []string{`{"has_advisory": true, "advisory": " Stretch first.\nDrink water. "}`}}
	advice, ok, err := newTestPlanner(c).Advise(context.Background(), "run 5k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Stretch first.\nDrink water.", advice)

	c = &scripted{replies: []string{`{"has_advisory": false, "advisory": ""}`}}
	_, ok, err = newTestPlanner(c).Advise(context.Background(), "blink")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnconfigured(t *testing.T) {
	t.Parallel()

	p := New(nil, Config{}, nil, logx.Nop())
	assert.False(t, p.Ready())
	_, _, err := p.Plan(context.Background(), nil, "x")
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewClient(context.Background(), Config{Provider: "deepseek"})
	require.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewClient(context.Background(), Config{Provider: "llama", APIKey: "k"})
	require.Error(t, err)
}

func TestOpenAI_Complete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "deepseek-chat", req.Model)
		assert.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"tasks\":[]}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), Config{Provider: "deepseek", APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	require.NoError(t, err)
	out, err := c.Complete(context.Background(), "sys", "hi")
	require.NoError(t, err)
	assert.Equal(t, `{"tasks":[]}`, out)
}

func TestOpenAI_StatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAI("openai", srv.URL, "k", "m", 0, srv.Client())
	_, err := c.Complete(context.Background(), "s", "u")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.True(t, se.Temporary())
}
