// Package resilience wraps remote store calls with bounded retries,
// per-attempt timeouts and in-flight request de-duplication. The remote
// spreadsheet API is slow, rate-limited and occasionally flaky; nothing here
// changes outcomes, it only decides how hard to try.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/api/googleapi"
)

// Policy bounds how a remote operation is executed.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay is the backoff before the first retry; it doubles per retry.
	BaseDelay time.Duration
	// Timeout bounds each individual attempt. Zero means no per-attempt cap.
	Timeout time.Duration
}

// DefaultPolicy matches the store's observed behavior: three tries, one
// second of initial backoff, thirty seconds per attempt.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Timeout: 30 * time.Second}
}

// Retrier executes operations under a Policy.
type Retrier struct {
	Policy Policy
	Logger *log.Logger

	// sleep is replaceable in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier returns a Retrier for the given policy.
func NewRetrier(p Policy, logger *log.Logger) *Retrier {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Retrier{
		Policy: p,
		Logger: logger.With("component", "retry"),
		sleep:  sleepCtx,
	}
}

// Do runs fn until it succeeds, fails terminally, or attempts run out.
// Each attempt gets its own deadline; only retryable failures are retried,
// with exponential backoff between attempts. The last error is surfaced
// when retries are exhausted.
func (r *Retrier) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < r.Policy.MaxAttempts; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if r.Policy.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.Policy.Timeout)
		}
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !Retryable(err) {
			return err
		}
		if attempt+1 >= r.Policy.MaxAttempts {
			break
		}

		delay := r.Policy.BaseDelay << attempt
		r.Logger.Debug("retrying operation", "op", name, "attempt", attempt+1, "delay", delay, "error", err)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", name, r.Policy.MaxAttempts, lastErr)
}

// Retryable classifies an error. Rate limiting (429), server-side failures
// (5xx), timeouts and transport errors are worth retrying; cancellation and
// any other client-side rejection are terminal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 429 || gerr.Code >= 500
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	// Anything else reaching the retrier came out of the transport stack.
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
