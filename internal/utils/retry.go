package utils

import (
	"context"
	"errors"
	"net"
	"os"
	"time"
)

// DefaultDelays is the pause schedule between attempts: 1s, 3s, then 5s for every later one.
var DefaultDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// WithRetry runs fn up to attempts times. Only errors marked with Retriable
// or network-level failures are retried. The wait between attempts follows
// delays, repeating its last element, and is cut short by ctx.
func WithRetry(ctx context.Context, attempts int, delays []time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !isRetriable(err) || i == attempts-1 {
			return err
		}

		t := time.NewTimer(delayFor(delays, i))
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return err
}

func delayFor(delays []time.Duration, i int) time.Duration {
	if len(delays) == 0 {
		return 0
	}
	if i >= len(delays) {
		return delays[len(delays)-1]
	}
	return delays[i]
}

type retriableError struct{ err error }

func (e retriableError) Error() string { return e.err.Error() }
func (e retriableError) Unwrap() error { return e.err }

// Retriable marks err as transient for WithRetry.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return retriableError{err: err}
}

func isRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var re retriableError
	if errors.As(err, &re) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	return os.IsTimeout(err)
}
