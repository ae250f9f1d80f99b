package dispatch

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/domain"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// slowSender ignores ctx like a transport whose HTTP call cannot be canceled.
type slowSender struct {
	delay time.Duration
	sends atomic.Int32
}

func (s *slowSender) Deliver(_ context.Context, _ Delivery) error {
	time.Sleep(s.delay)
	s.sends.Add(1)
	return nil
}

func TestTick_CompletesAfterJobDeadline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, _, err = db.EnsureUser(ctx, domain.User{ID: 10, FullName: "Ann"})
	require.NoError(t, err)
	id, err := db.CreateReminder(ctx, 10, "water plants", domain.DefaultTagName, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	snd := &slowSender{delay: 80 * time.Millisecond}
	d := New(db, snd, &fakeAlerter{}, nil, logx.Nop(), time.UTC, Options{SendTimeout: time.Second})

	jobCtx, cancel := context.WithTimeout(ctx, 40*time.Millisecond)
	rep, err := d.Tick(jobCtx)
	cancel()
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Delivered)
	assert.Zero(t, rep.Failed)

	r, err := db.GetReminder(ctx, id)
	require.NoError(t, err)
	assert.True(t, r.Completed)

	rep, err = d.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Due)
	assert.Equal(t, int32(1), snd.sends.Load())
}
