package reschedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/domain"
	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

var msk = time.FixedZone("MSK", 3*60*60)

func mskTime(y int, mo time.Month, d, h, m int) time.Time {
	return time.Date(y, mo, d, h, m, 0, 0, msk)
}

func TestComputeDelta_Fixed(t *testing.T) {
	t.Parallel()

	now := mskTime(2024, 1, 10, 12, 0)
	cases := map[Symbol]time.Duration{
		Hour:    time.Hour,
		EightH:  8 * time.Hour,
		Day:     24 * time.Hour,
		TwoDays: 48 * time.Hour,
		Week:    168 * time.Hour,
		Month:   31 * 24 * time.Hour,
		Quarter: 93 * 24 * time.Hour,
	}
	for sym, want := range cases {
		got, err := ComputeDelta(now, msk, sym, true)
		require.NoError(t, err, sym)
		assert.Equal(t, want, got, sym)
	}
}

func TestComputeDelta_Evening(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		now  time.Time
		want time.Duration
		due  string
	}{
		{"after evening started", mskTime(2024, 1, 10, 20, 30), 30 * time.Minute, "21:00"},
		{"morning", mskTime(2024, 1, 10, 10, 15), 10*time.Hour + 30*time.Minute, "20:45"},
		{"just before", mskTime(2024, 1, 10, 19, 29), time.Hour + 30*time.Minute, "20:59"},
		{"half past seven", mskTime(2024, 1, 10, 19, 30), 30 * time.Minute, "20:00"},
		{"late night", mskTime(2024, 1, 10, 23, 50), 30*time.Minute + 20*time.Hour, "20:20"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ComputeDelta(tc.now, msk, Evening, false)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.due, tc.now.Add(got).In(msk).Format("15:04"))
		})
	}
}

func TestComputeDelta_EveningUsesServerZone(t *testing.T) {
	t.Parallel()

	// 17:30 UTC is 20:30 in Moscow.
	now := time.Date(2024, 1, 10, 17, 30, 0, 0, time.UTC)
	got, err := ComputeDelta(now, msk, Evening, false)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, got)
}

func TestComputeDelta_Weekends(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		now  time.Time
		want time.Duration
		day  time.Weekday
	}{
		{"wednesday", mskTime(2024, 1, 10, 9, 0), 72 * time.Hour, time.Saturday},
		{"friday", mskTime(2024, 1, 12, 9, 0), 24 * time.Hour, time.Saturday},
		{"saturday", mskTime(2024, 1, 13, 9, 0), 24 * time.Hour, time.Sunday},
		{"sunday", mskTime(2024, 1, 14, 9, 0), 6 * 24 * time.Hour, time.Saturday},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ComputeDelta(tc.now, msk, Weekends, false)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.day, tc.now.Add(got).In(msk).Weekday())
		})
	}
}

func TestComputeDelta_Unknown(t *testing.T) {
	t.Parallel()

	now := mskTime(2024, 1, 10, 9, 0)
	got, err := ComputeDelta(now, msk, Symbol("fortnight"), false)
	require.NoError(t, err)
	assert.Equal(t, DefaultDelta, got)

	_, err = ComputeDelta(now, msk, Symbol("fortnight"), true)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestParseSymbol(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Weekends, ParseSymbol("weekend"))
	assert.Equal(t, EightH, ParseSymbol(" 8HOURS "))
	assert.False(t, ParseSymbol("x").Known())
	for _, row := range Layout {
		for _, s := range row {
			assert.True(t, s.Known(), s)
			assert.NotEqual(t, string(s), s.Label())
		}
	}
}

type memStore struct {
	rems map[int64]domain.Reminder
	fail error
}

func (m *memStore) GetReminder(_ context.Context, id int64) (domain.Reminder, error) {
	r, ok := m.rems[id]
	if !ok {
		return domain.Reminder{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *memStore) Reschedule(_ context.Context, id int64, due time.Time) error {
	if m.fail != nil {
		return m.fail
	}
	r, ok := m.rems[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Due = due
	r.Completed = false
	m.rems[id] = r
	return nil
}

func TestEngine_Reschedule(t *testing.T) {
	t.Parallel()

	now := mskTime(2024, 1, 10, 20, 30)
	st := &memStore{rems: map[int64]domain.Reminder{
		7: {ID: 7, UserID: 42, Text: "call mom", Due: now.Add(-time.Hour), Completed: true},
	}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	e := New(st, bus, logx.Nop(), msk)
	e.now = func() time.Time { return now }

	rem, err := e.Reschedule(context.Background(), 7, Evening)
	require.NoError(t, err)
	assert.False(t, rem.Completed)
	assert.True(t, rem.Due.Equal(now.Add(30*time.Minute)))
	assert.False(t, st.rems[7].Completed)
	assert.True(t, st.rems[7].Due.Equal(now.Add(30*time.Minute)))

	ev := <-events
	assert.Equal(t, eventbus.ReminderRescheduled, ev.Type)
	assert.Equal(t, eventbus.ReminderEvent{ReminderID: 7, UserID: 42, Symbol: "evening"}, ev.Data)
}

func TestEngine_RescheduleErrors(t *testing.T) {
	t.Parallel()

	now := mskTime(2024, 1, 10, 9, 0)
	st := &memStore{rems: map[int64]domain.Reminder{1: {ID: 1, UserID: 2}}}
	e := New(st, nil, logx.Nop(), msk)
	e.now = func() time.Time { return now }

	_, err := e.Reschedule(context.Background(), 99, Hour)
	require.ErrorIs(t, err, domain.ErrNotFound)

	e.SetStrict(true)
	_, err = e.Reschedule(context.Background(), 1, Symbol("bogus"))
	require.ErrorIs(t, err, domain.ErrValidation)

	e.SetStrict(false)
	rem, err := e.Reschedule(context.Background(), 1, Symbol("bogus"))
	require.NoError(t, err)
	assert.True(t, rem.Due.Equal(now.Add(DefaultDelta)))

	boom := errors.New("disk full")
	st.fail = boom
	_, err = e.Reschedule(context.Background(), 1, Day)
	require.ErrorIs(t, err, boom)
}
