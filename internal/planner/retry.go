package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/domain"
	logx "remindbot/pkg/logx"
)

// caller runs one logical request with a rate limit, a per-attempt timeout
// and exponential backoff between attempts. decode is part of the attempt:
// an unparsable completion is retried like a transport error.
type caller struct {
	client   Client
	limiter  *rate.Limiter
	timeout  time.Duration
	attempts int
	base     time.Duration
	log      logx.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func newCaller(client Client, cfg Config, log logx.Logger) *caller {
	every := time.Minute / time.Duration(cfg.RatePerMin)
	return &caller{
		client:   client,
		limiter:  rate.NewLimiter(rate.Every(every), 1),
		timeout:  cfg.Timeout,
		attempts: cfg.MaxAttempts,
		base:     cfg.RetryBase,
		log:      log,
		sleep:    sleepCtx,
	}
}

type temporary interface{ Temporary() bool }

func (c *caller) do(ctx context.Context, op, system, user string, decode func(string) error) error {
	var last error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			d := c.base << (attempt - 2)
			if err := c.sleep(ctx, d); err != nil {
				return err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		actx, cancel := context.WithTimeout(ctx, c.timeout)
		out, err := c.client.Complete(actx, system, user)
		cancel()
		if err == nil {
			err = decode(out)
		}
		if err == nil {
			c.log.Debug("llm call",
				logx.String("op", op),
				logx.Int("attempt", attempt),
				logx.Duration("took", time.Since(start)),
			)
			return nil
		}
		last = err
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var t temporary
		if errors.As(err, &t) && !t.Temporary() {
			break
		}
		c.log.Warn("llm attempt failed",
			logx.String("op", op),
			logx.String("client", c.client.Name()),
			logx.Int("attempt", attempt),
			logx.Err(err),
		)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrUpstream, op, last)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
