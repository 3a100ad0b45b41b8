// Package retry bounds the startup dials against brokers, the database and the
// chain node. The settlement path never retries.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

type Class int

const (
	Retryable Class = iota
	Fatal
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration

	// Classify defaults to treating every error except context cancellation
	// as retryable.
	Classify func(error) Class

	OnRetry func(attempt int, wait time.Duration, err error)
}

// Startup is the policy used for dependency dials at boot: about half a
// minute of capped exponential backoff.
func Startup(log *zap.Logger, dependency string) Policy {
	return Policy{
		MaxAttempts: 8,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Jitter:      100 * time.Millisecond,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			log.Warn("dependency not ready, retrying",
				zap.String("dependency", dependency),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		},
	}
}

func defaultClassify(err error) Class {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal
	}
	return Retryable
}

// backoff is BaseDelay doubled per attempt, capped at MaxDelay, plus jitter.
func (p Policy) backoff(attempt int) time.Duration {
	wait := p.MaxDelay
	if shift := attempt - 1; shift < 32 {
		if d := p.BaseDelay << shift; d > 0 && d < p.MaxDelay {
			wait = d
		}
	}
	if p.Jitter > 0 {
		wait += rand.N(p.Jitter)
	}
	return wait
}

// Do runs fn until it succeeds, returns a Fatal error, or MaxAttempts is
// spent. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	classify := p.Classify
	if classify == nil {
		classify = defaultClassify
	}

	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return errors.Join(cerr, err)
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if classify(err) == Fatal || attempt >= p.MaxAttempts {
			return err
		}

		wait := p.backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(ctx.Err(), err)
		case <-t.C:
		}
	}
}

// Value is Do for calls that produce a result.
func Value[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
