package provider

import (
	"context"
	"log"
	"math/rand"
	"time"
)

// RetryPolicy bounds remote call retries: at most MaxAttempts tries with
// exponential backoff plus jitter, retrying only errors Retryable reports as
// transient.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the platform defaults.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}

// Do runs fn under the policy. The reference is the local transaction
// reference used as correlation id in logs.
func (p RetryPolicy) Do(ctx context.Context, reference, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !Retryable(err) || attempt == attempts {
			return err
		}
		delay := base << uint(attempt-1)
		delay += time.Duration(rand.Int63n(int64(delay) / 2))
		log.Printf("level=warn component=provider_retry op=%s reference=%s attempt=%d delay=%s err=%v", op, reference, attempt, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
