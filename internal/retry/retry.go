// Package retry runs broker calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy controls how often and how patiently an operation is retried.
type Policy struct {
	Attempts int           // total tries, including the first
	Base     time.Duration // wait after the first failure
	Factor   float64
	Max      time.Duration
}

// Default is three tries waiting 1s then 2s.
func Default() Policy {
	return Policy{Attempts: 3, Base: time.Second, Factor: 2, Max: 10 * time.Second}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	wait := p.Base
	if wait <= 0 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 2
	}
	for i := 1; i < attempt; i++ {
		wait = time.Duration(float64(wait) * factor)
		if p.Max > 0 && wait >= p.Max {
			return p.Max
		}
	}
	return wait
}

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err}
}

type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Do calls fn until it succeeds, returns a permanent error, the attempts
// run out, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		var perm *permanent
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == attempts {
			break
		}

		t := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return err
}

// Value is Do for calls that return a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
