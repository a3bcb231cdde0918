package external

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "pinabook/internal/errors"
	"pinabook/internal/logger"
	"pinabook/internal/metrics"
)

// RetryPolicy bounds the calls made to one collaborator.
type RetryPolicy struct {
	Attempts        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Timeout applies to each attempt.
	Timeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:        3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Timeout:         10 * time.Second,
	}
}

// errRejected marks a response that retrying cannot fix.
var errRejected = errors.New("request rejected")

// Retry runs op under the policy. Exhausted retries surface as
// CollaboratorUnavailable naming the collaborator.
func Retry[T any](ctx context.Context, collaborator string, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}

	result, err := backoff.Retry(ctx, func() (T, error) {
		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		v, err := op(attemptCtx)
		if err != nil && errors.Is(err, errRejected) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WithContext(ctx).Warn("Collaborator call failed, retrying",
				"collaborator", collaborator,
				"retry_in", next,
				"error", err)
		}))

	metrics.ObserveCollaborator(collaborator, err)
	if err != nil {
		var zero T
		return zero, apperrors.CollaboratorUnavailable(collaborator, fmt.Errorf("%s call failed: %w", collaborator, err))
	}
	return result, nil
}
