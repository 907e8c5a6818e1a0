package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff_Capped(t *testing.T) {
	base := time.Second
	max := 10 * time.Second
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := Backoff(i+1, base, max); got != w {
			t.Fatalf("n=%d got=%v want=%v", i+1, got, w)
		}
	}
	if got := Backoff(200, base, max); got != max {
		t.Fatalf("large n got=%v want=%v", got, max)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, Base: time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d want=3", calls)
	}
}

func TestDo_StopsOnPermanent(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5, Base: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err=%v want=%v", err, sentinel)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want=1", calls)
	}
}

func TestDo_PerAttemptTimeout(t *testing.T) {
	err := Do(context.Background(), Policy{Attempts: 2, Base: time.Millisecond, Timeout: 5 * time.Millisecond}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
}

func TestWait_JitterStaysUnderMax(t *testing.T) {
	p := Policy{Base: 10 * time.Millisecond, Max: 40 * time.Millisecond, Jitter: true}
	for attempt := 1; attempt <= 6; attempt++ {
		for i := 0; i < 200; i++ {
			if d := p.wait(attempt); d > p.Max {
				t.Fatalf("attempt %d wait=%s exceeds max=%s", attempt, d, p.Max)
			}
		}
	}
	if d := p.wait(1); d < p.Base {
		t.Fatalf("wait=%s below base=%s", d, p.Base)
	}
}
