package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded exponential retry schedule
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// Next returns the delay to wait after the given zero-based attempt failed.
// ok is false once no attempts remain.
func (p Policy) Next(attempt int) (time.Duration, bool) {
	if attempt+1 >= p.MaxAttempts {
		return 0, false
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt))), true
}

// Permanent wraps err so that Do stops retrying and returns err unchanged.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Notify is called after a failed attempt that will be retried.
type Notify func(err error, attempt int, wait time.Duration)

type policyBackOff struct {
	policy  Policy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	d, ok := b.policy.Next(b.attempt)
	b.attempt++
	if !ok {
		return backoff.Stop
	}
	return d
}

func (b *policyBackOff) Reset() { b.attempt = 0 }

// Do runs fn until it succeeds, returns a permanent error, the policy is
// exhausted or ctx is done. fn receives the zero-based attempt number.
func Do(ctx context.Context, p Policy, fn func(attempt int) error, notify Notify) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	attempt := 0
	op := func() error {
		err := fn(attempt)
		if err != nil {
			attempt++
		}
		return err
	}

	var bon backoff.Notify
	if notify != nil {
		bon = func(err error, wait time.Duration) {
			notify(err, attempt, wait)
		}
	}

	return backoff.RetryNotify(op, backoff.WithContext(&policyBackOff{policy: p}, ctx), bon)
}
