package orchestrator

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	domainerrors "github.com/farmsense/hub/internal/domain/errors"
)

// BackoffPolicy is the orchestrator's retry shape for domainerrors.Transient
// failures (mirror link down, a storage call that returned Transient),
// grounded on the teacher's RetryExecutor: exponential delay with a cap and
// jitter, but bounded by MaxAttempts per cycle tick rather than retried
// forever, per §7's "capped per cycle" rule.
type BackoffPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultBackoffPolicy mirrors the teacher's DefaultRetryPolicy defaults.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

func (p BackoffPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	jitter := d * 0.1 * (2*rand.Float64() - 1)
	return time.Duration(d + jitter)
}

// Retry runs fn, retrying while it returns a Transient domain error, up to
// MaxAttempts additional attempts. A non-Transient error, or ctx expiry,
// aborts immediately per §7's "Cancelled" propagation.
func (p BackoffPolicy) Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domainerrors.New(domainerrors.Cancelled, "backoff interrupted", ctx.Err())
			case <-time.After(p.delay(attempt)):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var de *domainerrors.DomainError
		if !errors.As(err, &de) || de.Kind != domainerrors.Transient {
			return err
		}
	}
	return lastErr
}
