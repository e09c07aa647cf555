package retry_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"acp-broker/internal/retry"
)

var start = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

func TestPolicy_DoRetriesWithBackoff(t *testing.T) {
	clock := retry.NewFakeClock(start)
	p := retry.Policy{MaxAttempts: 4, InitialBackoff: time.Second, MaxBackoff: 3 * time.Second, Multiplier: 2, Clock: clock}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 4 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if got := clock.Sleeps(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected sleeps %v, got %v", want, got)
	}
}

func TestPolicy_DoExhausted(t *testing.T) {
	p := retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, Clock: retry.NewFakeClock(start)}
	boom := errors.New("boom")

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestPolicy_DoStopsOnPermanent(t *testing.T) {
	p := retry.Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond, Clock: retry.NewFakeClock(start)}
	bad := errors.New("bad request")

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return retry.Permanent(bad)
	})
	if !errors.Is(err, bad) || calls != 1 {
		t.Fatalf("expected single call with bad request, got calls=%d err=%v", calls, err)
	}
}

func TestPolicy_DoZeroAttemptsCallsOnce(t *testing.T) {
	clock := retry.NewFakeClock(start)
	p := retry.Policy{InitialBackoff: time.Second, Clock: clock}

	calls := 0
	_ = p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("boom")
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if len(clock.Sleeps()) != 0 {
		t.Fatalf("expected no sleeps, got %v", clock.Sleeps())
	}
}

func TestPolicy_DoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{MaxAttempts: 5, InitialBackoff: time.Second, Clock: retry.NewFakeClock(start)}

	calls := 0
	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestPermanent(t *testing.T) {
	if retry.Permanent(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	if !retry.IsPermanent(retry.Permanent(errors.New("bad"))) {
		t.Fatalf("expected permanent")
	}
	if retry.IsPermanent(errors.New("bad")) {
		t.Fatalf("expected plain error to be retryable")
	}
}

func TestPoll_TimesOut(t *testing.T) {
	clock := retry.NewFakeClock(start)
	calls := 0
	err := retry.Poll(context.Background(), clock, 10*time.Second, 3*time.Second, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, retry.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	// t=0,3,6,9,10
	if calls != 5 {
		t.Fatalf("expected 5 polls, got %d", calls)
	}
	if got := clock.Now().Sub(start); got != 10*time.Second {
		t.Fatalf("expected 10s elapsed, got %v", got)
	}
}

func TestPoll_SucceedsEarly(t *testing.T) {
	clock := retry.NewFakeClock(start)
	calls := 0
	err := retry.Poll(context.Background(), clock, time.Minute, time.Second, func(ctx context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 polls, got %d", calls)
	}
}
