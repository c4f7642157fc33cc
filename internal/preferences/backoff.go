package preferences

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds the fire-and-forget re-persist of repaired records.
// Repair writes are best effort; a policy that gives up quickly keeps a flaky
// backend from pinning goroutines.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRepairRetryPolicy retries a repair write three times with a linear
// 500ms, 1s, 1.5s spacing.
var DefaultRepairRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
}

// Run executes op under the policy, retrying on error until the attempt
// budget is spent or ctx is cancelled.
func (p RetryPolicy) Run(ctx context.Context, op func() error) error {
	b := &linearBackOff{base: p.BaseDelay}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(p.MaxAttempts)))
	return err
}

// linearBackOff waits base, 2*base, 3*base between attempts.
type linearBackOff struct {
	base time.Duration
	step int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.step++
	return time.Duration(l.step) * l.base
}

func (l *linearBackOff) Reset() { l.step = 0 }
