package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errDown    = errors.New("connection refused")
	errMissing = errors.New("key missing")
)

func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("kv", CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: 10 * time.Second})
	cb.now = func() time.Time { return now }

	fail := func() error { return errDown }
	for i := 0; i < 3; i++ {
		if err := cb.Execute(fail); !errors.Is(err, errDown) {
			t.Fatalf("call %d error = %v, want the call's error", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("State() = %s after threshold, want open", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open breaker: error = %v, called = %v", err, called)
	}

	now = now.Add(10 * time.Second)
	if err := cb.Execute(fail); !errors.Is(err, errDown) {
		t.Fatalf("probe error = %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("State() = %s after failed probe, want open", cb.State())
	}

	now = now.Add(10 * time.Second)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("successful probe error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %s after successful probe, want closed", cb.State())
	}
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	cb := NewCircuitBreaker("kv", CircuitBreakerConfig{
		FailureThreshold: 2,
		IsFailure:        func(err error) bool { return !errors.Is(err, errMissing) },
	})
	for i := 0; i < 5; i++ {
		if err := cb.Execute(func() error { return errMissing }); !errors.Is(err, errMissing) {
			t.Fatalf("error = %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %s, missing keys must not trip the breaker", cb.State())
	}
}

func TestRetry(t *testing.T) {
	fast := RetryConfig{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), "load", fast, func(context.Context) error {
			calls++
			if calls < 3 {
				return errDown
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Errorf("err = %v, calls = %d, want nil after 3", err, calls)
		}
	})
	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), "load", fast, func(context.Context) error { calls++; return errDown })
		if !errors.Is(err, errDown) || calls != 4 {
			t.Errorf("err = %v, calls = %d, want errDown after 4", err, calls)
		}
	})
	t.Run("permanent error", func(t *testing.T) {
		cfg := fast
		cfg.Retryable = func(err error) bool { return !errors.Is(err, errMissing) }
		calls := 0
		err := Retry(context.Background(), "load", cfg, func(context.Context) error { calls++; return errMissing })
		if !errors.Is(err, errMissing) || calls != 1 {
			t.Errorf("err = %v, calls = %d, want errMissing after 1", err, calls)
		}
	})
	t.Run("context cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cfg := fast
		cfg.InitialDelay = time.Hour
		cfg.MaxDelay = time.Hour
		calls := 0
		err := Retry(ctx, "load", cfg, func(context.Context) error {
			calls++
			cancel()
			return errDown
		})
		if !errors.Is(err, context.Canceled) || calls != 1 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})
}

func TestComputeDelayBounded(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, JitterFraction: 0.1}
	for attempt := 1; attempt <= 10; attempt++ {
		d := computeDelay(attempt, cfg)
		if d <= 0 || d > time.Second {
			t.Errorf("attempt %d delay = %s, want within (0, 1s]", attempt, d)
		}
	}
}
