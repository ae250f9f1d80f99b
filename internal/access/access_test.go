package access

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/domain"
	logx "remindbot/pkg/logx"
)

type memStore struct {
	mu     sync.Mutex
	users  map[int64]domain.User
	ensure atomic.Int32
	delay  time.Duration
}

func (m *memStore) EnsureUser(_ context.Context, u domain.User) (domain.User, bool, error) {
	m.ensure.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if got, ok := m.users[u.ID]; ok {
		return got, false, nil
	}
	m.users[u.ID] = u
	return u, true, nil
}

func (m *memStore) GetUser(_ context.Context, id int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (m *memStore) SetUserAllowed(_ context.Context, id int64, allowed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Allowed = allowed
	m.users[id] = u
	return nil
}

func TestCheck_Decisions(t *testing.T) {
	t.Parallel()

	st := &memStore{users: map[int64]domain.User{
		30: {ID: 30, Allowed: true},
		40: {ID: 40, Admin: true},
	}}
	c := New(st, logx.Nop(), Options{Owners: []int64{1}, Allowlist: []int64{20}})
	ctx := context.Background()

	cases := []struct {
		id             int64
		allowed, admin bool
	}{
		{1, true, true},
		{20, true, false},
		{30, true, false},
		{40, false, true},
		{50, false, false},
	}
	for _, tc := range cases {
		d, err := c.Check(ctx, domain.User{ID: tc.id})
		require.NoError(t, err)
		assert.Equal(t, tc.allowed, d.Allowed, tc.id)
		assert.Equal(t, tc.admin, d.Admin, tc.id)
	}
	_, err := st.GetUser(ctx, 50)
	require.NoError(t, err, "unknown users are registered")
	assert.True(t, c.IsOwner(1))
}

func TestCheck_CachesAndInvalidates(t *testing.T) {
	t.Parallel()

	st := &memStore{users: map[int64]domain.User{}}
	c := New(st, logx.Nop(), Options{CacheTTL: time.Minute})
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	d, err := c.Check(ctx, domain.User{ID: 7})
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	_, err = c.Check(ctx, domain.User{ID: 7})
	require.NoError(t, err)
	assert.Equal(t, int32(1), st.ensure.Load())

	require.NoError(t, c.SetAllowed(ctx, 7, true))
	d, err = c.Check(ctx, domain.User{ID: 7})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int32(2), st.ensure.Load())

	now = now.Add(2 * time.Minute)
	_, err = c.Check(ctx, domain.User{ID: 7})
	require.NoError(t, err)
	assert.Equal(t, int32(3), st.ensure.Load(), "expired entry is reloaded")

	require.ErrorIs(t, c.SetAllowed(ctx, 99, true), domain.ErrNotFound)
}

func TestCheck_Bounded(t *testing.T) {
	t.Parallel()

	st := &memStore{users: map[int64]domain.User{}}
	c := New(st, logx.Nop(), Options{CacheSize: 3})
	for i := int64(1); i <= 10; i++ {
		_, err := c.Check(context.Background(), domain.User{ID: i})
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, c.Len(), 3)
}

func TestCheck_Singleflight(t *testing.T) {
	t.Parallel()

	st := &memStore{users: map[int64]domain.User{}, delay: 50 * time.Millisecond}
	c := New(st, logx.Nop(), Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Check(context.Background(), domain.User{ID: 5})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, st.ensure.Load(), int32(8))
}

// gatedStore holds the first EnsureUser after it read the row, until release
// is closed.
type gatedStore struct {
	*memStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) EnsureUser(ctx context.Context, u domain.User) (domain.User, bool, error) {
	got, created, err := g.memStore.EnsureUser(ctx, u)
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return got, created, err
}

func TestSetAllowed_DuringLookupIsNotCachedStale(t *testing.T) {
	t.Parallel()

	st := &gatedStore{
		memStore: &memStore{users: map[int64]domain.User{7: {ID: 7}}},
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	c := New(st, logx.Nop(), Options{})
	ctx := context.Background()

	done := make(chan Decision, 1)
	go func() {
		d, _ := c.Check(ctx, domain.User{ID: 7})
		done <- d
	}()
	<-st.entered
	require.NoError(t, c.SetAllowed(ctx, 7, true))
	close(st.release)

	stale := <-done
	assert.False(t, stale.Allowed)
	assert.Zero(t, c.Len())

	d, err := c.Check(ctx, domain.User{ID: 7})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, c.Len())
}
