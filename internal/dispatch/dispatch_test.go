package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/domain"
	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

type fakeStore struct {
	mu        sync.Mutex
	due       []domain.Reminder
	users     map[int64]domain.User
	completed map[int64]int
	userCalls int
	listErr   error
}

func (f *fakeStore) ListDue(_ context.Context, _ time.Time) ([]domain.Reminder, error) {
	return f.due, f.listErr
}

func (f *fakeStore) GetUser(_ context.Context, id int64) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	u, ok := f.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) MarkCompleted(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed == nil {
		f.completed = map[int64]int{}
	}
	f.completed[id]++
	return nil
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []Delivery
	fail  map[int64]bool
	block bool
}

func (f *fakeSender) Deliver(ctx context.Context, d Delivery) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.fail[d.ReminderID] {
		return errors.New("telegram: bad gateway")
	}
	f.mu.Lock()
	f.sent = append(f.sent, d)
	f.mu.Unlock()
	return nil
}

type fakeAlerter struct {
	mu   sync.Mutex
	seen []*domain.Anomaly
}

func (f *fakeAlerter) Alert(_ context.Context, a *domain.Anomaly) error {
	f.mu.Lock()
	f.seen = append(f.seen, a)
	f.mu.Unlock()
	return nil
}

var now = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func newTest(st *fakeStore, snd *fakeSender, al *fakeAlerter, bus eventbus.Bus) *Dispatcher {
	d := New(st, snd, al, bus, logx.Nop(), time.UTC, Options{SendTimeout: 50 * time.Millisecond})
	d.now = func() time.Time { return now }
	return d
}

func TestTick_DeliversDueAtNow(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		due:   []domain.Reminder{{ID: 1, UserID: 10, Text: "stretch", Due: now}},
		users: map[int64]domain.User{10: {ID: 10}},
	}
	snd := &fakeSender{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	rep, err := newTest(st, snd, &fakeAlerter{}, bus).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Due)
	assert.Equal(t, 1, rep.Delivered)
	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, 1, st.completed[1])

	require.Len(t, snd.sent, 1)
	assert.Equal(t, int64(10), snd.sent[0].ChatID)
	assert.Equal(t, "⏰ Reminder: stretch", snd.sent[0].Text)
	assert.Len(t, snd.sent[0].Actions, 3)

	ev := <-events
	assert.Equal(t, eventbus.ReminderDelivered, ev.Type)
	ev = <-events
	assert.Equal(t, eventbus.DispatchTick, ev.Type)
}

func TestTick_SkipsFutureAndOrphaned(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		due: []domain.Reminder{
			{ID: 1, UserID: 10, Due: now.Add(time.Minute)},
			{ID: 2, UserID: 99, Due: now.Add(-time.Minute)},
			{ID: 3, UserID: 99, Due: now.Add(-time.Minute)},
			{ID: 4, UserID: 10, Due: now.Add(-time.Minute)},
		},
		users: map[int64]domain.User{10: {ID: 10}},
	}
	snd := &fakeSender{}
	al := &fakeAlerter{}

	rep, err := newTest(st, snd, al, nil).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Skipped)
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, map[int64]int{4: 1}, st.completed)
	// one lookup per distinct user
	assert.Equal(t, 2, st.userCalls)

	require.Len(t, al.seen, 3)
	assert.Equal(t, domain.AnomalyFutureDue, al.seen[0].Kind)
	assert.Equal(t, domain.AnomalyOrphanedUser, al.seen[1].Kind)
	assert.Equal(t, int64(2), al.seen[1].ReminderID)
}

func TestTick_FailedSendStaysOpen(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		due: []domain.Reminder{
			{ID: 1, UserID: 10, Due: now},
			{ID: 2, UserID: 10, Due: now},
		},
		users: map[int64]domain.User{10: {ID: 10}},
	}
	snd := &fakeSender{fail: map[int64]bool{1: true}}

	rep, err := newTest(st, snd, &fakeAlerter{}, nil).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, map[int64]int{2: 1}, st.completed)
}

func TestTick_SendTimeout(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		due:   []domain.Reminder{{ID: 1, UserID: 10, Due: now}},
		users: map[int64]domain.User{10: {ID: 10}},
	}
	d := newTest(st, &fakeSender{block: true}, &fakeAlerter{}, nil)

	rep, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Empty(t, st.completed)
	assert.Equal(t, rep, d.LastReport())
}

func TestTick_ListError(t *testing.T) {
	t.Parallel()

	st := &fakeStore{listErr: errors.New("db locked")}
	rep, err := newTest(st, &fakeSender{}, &fakeAlerter{}, nil).Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, "db locked", rep.Err)
}

func TestComposeText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "⏰ Reminder: pay rent", ComposeText(domain.Reminder{Text: "pay rent"}))
	assert.Equal(t, "⏰ Reminder: pay rent\n\n---\nUse the banking app.",
		ComposeText(domain.Reminder{Text: "pay rent", Advisory: "Use the banking app."}))
	assert.Equal(t, "⏰ Reminder: x", ComposeText(domain.Reminder{Text: "x", Advisory: "  "}))
}
