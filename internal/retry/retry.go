// Package retry runs remote calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// StatusCoder is implemented by errors that know the HTTP status of the failed call.
type StatusCoder interface {
	HTTPStatus() int
}

// Policy controls how often and how long Do waits between attempts.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration

	// Sleep waits for d or until ctx is done. Defaults to a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
	// Logf receives one line per retry. Defaults to log.Printf.
	Logf func(format string, args ...any)
}

// DefaultPolicy returns three attempts starting at a one second delay.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Sleep == nil {
		p.Sleep = sleepWithContext
	}
	if p.Logf == nil {
		p.Logf = log.Printf
	}
	return p
}

// Delay returns the wait after the given 1-based attempt: BaseDelay * 2^(attempt-1).
func (p Policy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// Do calls op until it succeeds, fails with a caller error, or runs out of attempts.
// A cancelled ctx stops further attempts.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p := policy.normalized()

	var zero T
	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if !Retryable(err) || attempt >= p.MaxRetries {
			return zero, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, err
		}

		delay := p.Delay(attempt)
		p.Logf("[retry] attempt %d/%d failed, retrying in %s: %v", attempt, p.MaxRetries, delay, err)

		if err := p.Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// Retryable reports whether another attempt could succeed. Bad requests and
// authentication failures are final, as is caller cancellation.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	switch StatusOf(err) {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return false
	}
	return true
}

// StatusOf returns the HTTP status carried by err, or 0 when unknown.
func StatusOf(err error) int {
	var coder StatusCoder
	if errors.As(err, &coder) {
		return coder.HTTPStatus()
	}
	return 0
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
