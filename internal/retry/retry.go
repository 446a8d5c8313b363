// Package retry runs operations with bounded attempts and linear backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned once every attempt has failed.
var ErrExhausted = errors.New("maximum retries reached")

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
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

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Linear returns the wrapped
// error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Linear describes "Attempts tries, sleeping Step x attempt after each failed
// one". The sleep also follows the final failure, matching the fixed
// 10s/20s/30s schedule the bot has always used.
type Linear struct {
	Attempts int
	Step     time.Duration
	Sleep    SleepFunc
	// OnRetry is called after a failed attempt, before sleeping.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Do runs fn until it succeeds, returns a Permanent error, the context is
// cancelled or the attempts are used up.
func (l Linear) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := l.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := l.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		lastErr = err

		wait := l.Step * time.Duration(attempt)
		if l.OnRetry != nil {
			l.OnRetry(attempt, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return fmt.Errorf("retry interrupted: %w", err)
		}
	}
	return fmt.Errorf("%w (%d attempts): %w", ErrExhausted, attempts, lastErr)
}
