package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
)

// observingRetrier records backoff delays instead of sleeping.
func observingRetrier(p Policy) (*Retrier, *[]time.Duration) {
	r := NewRetrier(p, nil)
	delays := &[]time.Duration{}
	r.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return r, delays
}

func TestDoSucceedsOnThirdAttempt(t *testing.T) {
	r, delays := observingRetrier(Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond})

	calls := 0
	err := r.Do(context.Background(), "readRows", func(context.Context) error {
		calls++
		if calls < 3 {
			return &googleapi.Error{Code: 503, Message: "backend error"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if len(*delays) != 2 {
		t.Fatalf("expected exactly 2 backoff delays, got %d", len(*delays))
	}
	if (*delays)[0] != 100*time.Millisecond || (*delays)[1] != 200*time.Millisecond {
		t.Errorf("expected exponential delays 100ms, 200ms; got %v", *delays)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	r, delays := observingRetrier(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond})

	wire := &googleapi.Error{Code: 429, Message: "rate limit"}
	calls := 0
	err := r.Do(context.Background(), "readRows", func(context.Context) error {
		calls++
		return wire
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if !errors.Is(err, wire) {
		t.Errorf("expected the last error to be surfaced, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if len(*delays) != 2 {
		t.Errorf("expected 2 delays, got %d", len(*delays))
	}
}

func TestDoTerminalErrorNotRetried(t *testing.T) {
	r, delays := observingRetrier(Policy{MaxAttempts: 5, BaseDelay: time.Millisecond})

	calls := 0
	err := r.Do(context.Background(), "createSheet", func(context.Context) error {
		calls++
		return &googleapi.Error{Code: 403, Message: "forbidden"}
	})
	if err == nil {
		t.Fatal("expected the terminal error back")
	}
	if calls != 1 {
		t.Errorf("terminal error retried: %d attempts", calls)
	}
	if len(*delays) != 0 {
		t.Errorf("expected no backoff for a terminal error, got %v", *delays)
	}
}

func TestDoStopsWhenCallerCancels(t *testing.T) {
	r, _ := observingRetrier(Policy{MaxAttempts: 5, BaseDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Do(ctx, "readRows", func(context.Context) error {
		calls++
		cancel()
		return fmt.Errorf("connection reset")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt after cancellation, got %d", calls)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", &googleapi.Error{Code: 429}, true},
		{"server error", &googleapi.Error{Code: 500}, true},
		{"bad gateway", &googleapi.Error{Code: 502}, true},
		{"bad request", &googleapi.Error{Code: 400}, false},
		{"not found", &googleapi.Error{Code: 404}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"transport", fmt.Errorf("connection reset by peer"), true},
		{"wrapped api error", fmt.Errorf("read: %w", &googleapi.Error{Code: 503}), true},
		{"nil", nil, false},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Errorf("Retryable(%s) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestDeduperSharesInFlightResult(t *testing.T) {
	d := NewDeduper()

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func() (interface{}, error) {
		calls.Add(1)
		<-release
		return "result", nil
	}

	const waiters = 4
	var wg sync.WaitGroup
	results := make([]interface{}, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := d.Do("active:jane", fn)
			if err != nil {
				t.Errorf("Do failed: %v", err)
			}
			results[i] = v
		}(i)
	}

	// Give the goroutines time to pile onto the same key, then release.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("expected one underlying call, got %d", got)
	}
	for i, v := range results {
		if v != "result" {
			t.Errorf("waiter %d got %v", i, v)
		}
	}
}

func TestDeduperKeyDropsAfterSettle(t *testing.T) {
	d := NewDeduper()

	calls := 0
	fn := func() (interface{}, error) {
		calls++
		return calls, nil
	}
	if v, _, _ := d.Do("k", fn); v != 1 {
		t.Fatalf("first call returned %v", v)
	}
	if v, _, _ := d.Do("k", fn); v != 2 {
		t.Errorf("settled key should not be reused, got %v", v)
	}
}

func TestDeduperForget(t *testing.T) {
	d := NewDeduper()
	// Forget on an absent key must be a no-op.
	d.Forget("missing")
}
