// Package retry bounds external calls with a per-attempt timeout and capped
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	// Timeout bounds each attempt; zero leaves the caller's deadline alone.
	Timeout time.Duration
	Jitter  bool
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Do runs fn until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}
		err = call(ctx, p.Timeout, fn)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		if attempt == attempts {
			break
		}
		if sleepErr := Sleep(ctx, p.wait(attempt)); sleepErr != nil {
			return err
		}
	}
	return err
}

// wait is the backoff before the next attempt, with up to 50% jitter added
// and the result still capped at Max.
func (p Policy) wait(attempt int) time.Duration {
	d := Backoff(attempt, p.Base, p.Max)
	if p.Jitter && d > 1 {
		d += time.Duration(rand.Int63n(int64(d / 2)))
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

func call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}

// Backoff returns min(base * 2^(n-1), max) for the n-th consecutive failure.
func Backoff(n int, base, max time.Duration) time.Duration {
	if base <= 0 || n <= 0 {
		return 0
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
		if d <= 0 {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
