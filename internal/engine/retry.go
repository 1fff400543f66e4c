package engine

import (
	"context"
	"log/slog"
	"time"
)

// Retry policy defaults. Attempts counts the first try, so 3 means one try
// plus two retries.
const (
	DefaultRetryAttempts   = 3
	DefaultRetryBackoff    = 100 * time.Millisecond
	DefaultRetryMultiplier = 2.0
)

// RetryPolicy bounds how transient IO failures are retried. Deterministic
// failures (parse, validation, generation) are never retried regardless of
// the policy; see Retryable.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	Multiplier float64
}

// DefaultRetryPolicy returns the stock 3 attempts / 100ms / x2 policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   DefaultRetryAttempts,
		Backoff:    DefaultRetryBackoff,
		Multiplier: DefaultRetryMultiplier,
	}
}

// normalized fills zero fields with defaults so a partially specified policy
// behaves sensibly.
func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultRetryAttempts
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultRetryBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultRetryMultiplier
	}
	return p
}

// run executes fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The context aborts the backoff sleep, not fn
// itself; fn stages are short enough that this is the responsive place to
// check.
func (p RetryPolicy) run(ctx context.Context, logger *slog.Logger, stage string, fn func() error) error {
	p = p.normalized()
	delay := p.Backoff
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !Retryable(err) || attempt >= p.Attempts {
			return err
		}
		logger.Warn("retrying after io error",
			"stage", stage,
			"attempt", attempt,
			"backoff", delay,
			"error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
}
