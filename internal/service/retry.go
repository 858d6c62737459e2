package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"pggatekeeper/internal/domain"
)

// RetryPolicy bounds the retry budget for transient engine and ledger
// failures. Only UnavailableError is retried; everything else is permanent.
type RetryPolicy struct {
	Attempts uint64
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultRetryPolicy matches the configuration defaults.
var DefaultRetryPolicy = RetryPolicy{
	Attempts: 3,
	Interval: 500 * time.Millisecond,
	Timeout:  10 * time.Second,
}

// run invokes op with a per-call timeout, retrying transient failures up to
// the attempt budget.
func (p RetryPolicy) run(ctx context.Context, op func(ctx context.Context) error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), p.Attempts), ctx)
	return backoff.Retry(func() error {
		opCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()
		err := op(opCtx)
		if err == nil {
			return nil
		}
		var unavailable *domain.UnavailableError
		if errors.As(err, &unavailable) {
			return err
		}
		return backoff.Permanent(err)
	}, bo)
}
