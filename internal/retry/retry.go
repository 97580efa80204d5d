// Package retry runs an operation with exponential backoff between failed attempts.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/jgivc/recfetch/internal/common"
)

const (
	DefaultBase = time.Second
	DefaultMax  = 30 * time.Second
)

type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy allows MaxRetries retries after the first attempt.
type Policy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
	Sleep      SleepFunc
	// NetworkBackoff is the shortest wait after a network error.
	// Zero means common.DefaultNetworkBackoff.
	NetworkBackoff time.Duration
	// OnRetry is called before each sleep. attempt starts at 1.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func NewPolicy(maxRetries int) Policy {
	return Policy{MaxRetries: maxRetries}
}

// Delay returns min(Max, Base*2^attempt) for a zero-based attempt number.
func (p Policy) Delay(attempt int) time.Duration {
	base, max := p.Base, p.Max
	if base <= 0 {
		base = DefaultBase
	}
	if max <= 0 {
		max = DefaultMax
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}

	if d > max {
		return max
	}

	return d
}

// backoff is Delay(attempt), raised to the provider's Retry-After for rate limited
// errors and to NetworkBackoff for network errors.
func (p Policy) backoff(attempt int, err error) time.Duration {
	delay := p.Delay(attempt)

	if after, ok := common.RetryAfter(err); ok && after > delay {
		delay = after
	}

	if errors.Is(err, common.ErrNetworkError) {
		floor := p.NetworkBackoff
		if floor <= 0 {
			floor = common.DefaultNetworkBackoff
		}
		if delay < floor {
			delay = floor
		}
	}

	return delay
}

// Do calls op until it succeeds, fails with a non-retryable error, or MaxRetries
// retries have been spent. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.MaxRetries <= 0 {
		return common.Validation("max retries must be positive, got %d", p.MaxRetries)
	}

	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt := 0; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}

		if !common.IsRetryable(err) || attempt >= p.MaxRetries {
			return err
		}

		if ctx.Err() != nil {
			return err
		}

		delay := p.backoff(attempt, err)

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}

		if sErr := sleep(ctx, delay); sErr != nil {
			return err
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
