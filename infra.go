package goSentinel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goSentinel/session"
	"github.com/cenkalti/backoff/v4"
)

// isInfra reports whether err is a transport or storage failure worth
// retrying. Domain answers such as "not found" are not.
func isInfra(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, session.ErrRedisUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// callStore runs op with the configured per-attempt timeout. Infra failures
// are retried with exponential backoff up to Store.MaxRetries times and then
// surface wrapped in ErrStoreUnavailable. Other errors are returned as is.
func callStore[T any](ctx context.Context, e *Engine, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.config.Store.RetryBackoff
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = 50 * time.Millisecond
	}
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, e.config.Store.MaxRetries), ctx)

	var out T
	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.config.Store.Timeout)
		defer cancel()

		v, err := op(callCtx)
		if err == nil {
			out = v
			return nil
		}
		if !isInfra(err) {
			return backoff.Permanent(err)
		}
		e.metricInc(MetricStoreError)
		return err
	}

	if err := backoff.Retry(attempt, policy); err != nil {
		if isInfra(err) {
			e.metricInc(MetricStoreUnavailable)
			e.logger.Error("store call failed", "error", err)
			if errors.Is(err, ErrStoreUnavailable) {
				return zero, err
			}
			return zero, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return zero, err
	}
	return out, nil
}

// callStoreErr is callStore for operations without a result.
func callStoreErr(ctx context.Context, e *Engine, op func(context.Context) error) error {
	_, err := callStore(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
