package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// RetryPolicy controls how many times and how fast a call is retried.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64

	// Jitter is the fraction of the delay randomly added or removed (0 = none).
	Jitter float64

	RetryOn []types.ErrorKind
}

// DefaultRetryPolicy returns the standard policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2,
		Jitter:          0.1,
		RetryOn: []types.ErrorKind{
			types.ErrorKindTimeout,
			types.ErrorKindNetwork,
			types.ErrorKindRateLimit,
		},
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.ExponentialBase <= 0 {
		p.ExponentialBase = d.ExponentialBase
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.RetryOn == nil {
		p.RetryOn = d.RetryOn
	}
	return p
}

// Retryable reports whether kind may be retried. Validation errors never are.
func (p RetryPolicy) Retryable(kind types.ErrorKind) bool {
	if kind == types.ErrorKindValidation {
		return false
	}
	for _, k := range p.RetryOn {
		if k == kind {
			return true
		}
	}
	return false
}

// Delay returns the wait before the attempt following attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// wait blocks for d unless ctx ends or cancel closes first.
func wait(ctx context.Context, d time.Duration, cancel <-chan struct{}) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-cancel:
		return ErrCancelled
	}
}
