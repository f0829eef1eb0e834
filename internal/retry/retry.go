// Package retry runs a fallible call a bounded number of times with a fixed
// delay between attempts.
package retry

import (
	"errors"
	"fmt"
	"time"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy bounds a retried call.
type Policy struct {
	Attempts int           // total tries, at least 1
	Backoff  time.Duration // fixed delay between tries
	Sleep    func(time.Duration)
}

// Default mirrors the common oracle setting: 10 tries, 5s apart.
func Default() Policy {
	return Policy{Attempts: 10, Backoff: 5 * time.Second}
}

// Once is a single attempt with no delay.
func Once() Policy {
	return Policy{Attempts: 1}
}

// WithAttempts returns a copy of p with a different attempt count.
func (p Policy) WithAttempts(n int) Policy {
	p.Attempts = n
	return p
}

func (p Policy) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Do calls fn until it succeeds or the attempts run out. The attempt number
// passed to fn starts at 1.
func Do[T any](p Policy, fn func(attempt int) (T, error)) (T, error) {
	attempts := max(p.Attempts, 1)
	var lastErr error
	for i := 1; i <= attempts; i++ {
		v, err := fn(i)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if i < attempts {
			p.sleep(p.Backoff)
		}
	}
	var zero T
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

// OrFallback is Do that hands back fallback alongside the error once the
// attempts run out.
func OrFallback[T any](p Policy, fallback T, fn func(attempt int) (T, error)) (T, error) {
	v, err := Do(p, fn)
	if err != nil {
		return fallback, err
	}
	return v, nil
}
