// Package access decides who may use the bot. Users are registered on first
// contact; the allow decision is cached per user with a TTL and dropped on
// every permission change.
package access

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"remindbot/internal/domain"
	logx "remindbot/pkg/logx"
)

const (
	DefaultCacheSize = 512
	DefaultCacheTTL  = 5 * time.Minute
)

type Store interface {
	EnsureUser(ctx context.Context, u domain.User) (domain.User, bool, error)
	GetUser(ctx context.Context, id int64) (domain.User, error)
	SetUserAllowed(ctx context.Context, id int64, allowed bool) error
}

// Decision is the cached verdict for one user.
type Decision struct {
	User    domain.User
	Allowed bool
	Admin   bool
}

type Options struct {
	Owners    []int64
	Allowlist []int64
	CacheSize int
	CacheTTL  time.Duration
}

type entry struct {
	d       Decision
	expires time.Time
}

type Checker struct {
	store Store
	log   logx.Logger
	sf    singleflight.Group
	now   func() time.Time

	mu      sync.Mutex
	entries map[int64]entry
	opt     Options
	// epoch advances on every invalidation. A lookup that started in an
	// older epoch does not fill the cache.
	epoch uint64
}

func New(store Store, log logx.Logger, opt Options) *Checker {
	c := &Checker{
		store:   store,
		log:     log.With(logx.String("comp", "access")),
		now:     time.Now,
		entries: map[int64]entry{},
	}
	c.Apply(opt)
	return c
}

// Apply replaces owners, allowlist and cache bounds, and empties the cache.
func (c *Checker) Apply(opt Options) {
	if opt.CacheSize <= 0 {
		opt.CacheSize = DefaultCacheSize
	}
	if opt.CacheTTL <= 0 {
		opt.CacheTTL = DefaultCacheTTL
	}
	opt.Owners = slices.Clone(opt.Owners)
	opt.Allowlist = slices.Clone(opt.Allowlist)
	c.mu.Lock()
	c.opt = opt
	c.entries = map[int64]entry{}
	c.epoch++
	c.mu.Unlock()
}

func (c *Checker) Owners() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.opt.Owners)
}

// IsOwner reports whether id is a configured bot owner.
func (c *Checker) IsOwner(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.opt.Owners, id)
}

// Check registers u on first sight and returns the access decision.
// Concurrent misses for the same user share one store round trip.
func (c *Checker) Check(ctx context.Context, u domain.User) (Decision, error) {
	if d, ok := c.cached(u.ID); ok {
		return d, nil
	}
	v, err, _ := c.sf.Do(strconv.FormatInt(u.ID, 10), func() (any, error) {
		c.mu.Lock()
		epoch := c.epoch
		c.mu.Unlock()
		stored, created, err := c.store.EnsureUser(ctx, u)
		if err != nil {
			return Decision{}, err
		}
		if created {
			c.log.Info("user registered", logx.Int64("user_id", stored.ID), logx.String("name", stored.DisplayName()))
		}
		d := c.decide(stored)
		c.put(d, epoch)
		return d, nil
	})
	if err != nil {
		return Decision{}, err
	}
	return v.(Decision), nil
}

// SetAllowed persists the permission and drops the cached decision.
func (c *Checker) SetAllowed(ctx context.Context, id int64, allowed bool) error {
	if err := c.store.SetUserAllowed(ctx, id, allowed); err != nil {
		return err
	}
	c.Invalidate(id)
	return nil
}

// Invalidate drops the cached decision. Lookups already in flight still
// answer their callers but no longer fill the cache, and later calls start
// a fresh lookup.
func (c *Checker) Invalidate(id int64) {
	c.mu.Lock()
	delete(c.entries, id)
	c.epoch++
	c.mu.Unlock()
	c.sf.Forget(strconv.FormatInt(id, 10))
}

func (c *Checker) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Checker) decide(u domain.User) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner := slices.Contains(c.opt.Owners, u.ID)
	return Decision{
		User:    u,
		Admin:   owner || u.Admin,
		Allowed: owner || u.Allowed || slices.Contains(c.opt.Allowlist, u.ID),
	}
}

func (c *Checker) cached(id int64) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return Decision{}, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, id)
		return Decision{}, false
	}
	return e.d, true
}

func (c *Checker) put(d Decision, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return
	}
	now := c.now()
	if len(c.entries) >= c.opt.CacheSize {
		c.evictLocked(now)
	}
	c.entries[d.User.ID] = entry{d: d, expires: now.Add(c.opt.CacheTTL)}
}

// evictLocked drops expired entries, then the one closest to expiry if the
// cache is still full.
func (c *Checker) evictLocked(now time.Time) {
	var (
		oldestID int64
		oldest   time.Time
	)
	for id, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, id)
			continue
		}
		if oldest.IsZero() || e.expires.Before(oldest) {
			oldestID, oldest = id, e.expires
		}
	}
	if len(c.entries) >= c.opt.CacheSize && !oldest.IsZero() {
		delete(c.entries, oldestID)
	}
}
