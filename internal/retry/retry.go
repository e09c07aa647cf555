// Package retry holds the bounded retry and polling policies used by the
// agents. Time is injected through Clock so tests never sleep.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var ErrTimeout = errors.New("retry: timed out")

type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Clock          Clock
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
	}
}

func (p Policy) clock() Clock {
	if p.Clock == nil {
		return RealClock
	}
	return p.Clock
}

// backOff builds the schedule for one Do call: exponential, no jitter, no
// elapsed-time cap, MaxAttempts-1 retries, stopped by ctx.
func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialBackoff
	exp.MaxInterval = p.MaxBackoff
	if exp.MaxInterval <= 0 {
		exp.MaxInterval = time.Duration(math.MaxInt64)
	}
	exp.Multiplier = mult
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Clock = p.clock()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// clockTimer feeds backoff's retry loop from a Clock, so a FakeClock drives
// the waits between attempts.
type clockTimer struct {
	ctx   context.Context
	clock Clock
	c     chan time.Time
}

func newClockTimer(ctx context.Context, clock Clock) *clockTimer {
	return &clockTimer{ctx: ctx, clock: clock, c: make(chan time.Time, 1)}
}

func (t *clockTimer) Start(d time.Duration) {
	// on a cancelled ctx nothing is sent; the retry loop returns ctx.Err()
	if err := t.clock.Sleep(t.ctx, d); err == nil {
		t.c <- t.clock.Now()
	}
}

func (t *clockTimer) Stop() {}

func (t *clockTimer) C() <-chan time.Time { return t.c }

// Do calls fn until it succeeds, returns a Permanent error, the attempts run
// out or ctx is done. The last error is returned (unwrapped from Permanent);
// attempt counts from 1.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempt := 0
	op := func() error {
		attempt++
		return fn(ctx, attempt)
	}
	return backoff.RetryNotifyWithTimer(op, p.backOff(ctx), nil, newClockTimer(ctx, p.clock()))
}

// Poll evaluates cond every interval until it reports true, errors, or
// timeout elapses (ErrTimeout).
func Poll(ctx context.Context, clock Clock, timeout, interval time.Duration, cond func(ctx context.Context) (bool, error)) error {
	if clock == nil {
		clock = RealClock
	}
	deadline := clock.Now().Add(timeout)
	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		remain := deadline.Sub(clock.Now())
		if remain <= 0 {
			return ErrTimeout
		}
		wait := interval
		if wait > remain {
			wait = remain
		}
		if err := clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}
