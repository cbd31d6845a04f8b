package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func() error {
		attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("throttled")
		}
		return nil
	}, WithInitialDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("permission denied")
	attempts := 0
	err := Do(context.Background(), func() error {
		attempts++
		return fatal
	},
		WithInitialDelay(time.Millisecond),
		WithRetryable(func(err error) bool { return !errors.Is(err, fatal) }),
	)
	if !errors.Is(err, fatal) {
		t.Fatalf("expected the fatal error unwrapped, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	boom := errors.New("boom")
	err := Do(context.Background(), func() error {
		attempts++
		return boom
	}, WithMaxAttempts(3), WithInitialDelay(time.Millisecond))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped original error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, func() error {
		attempts++
		return errors.New("transient")
	}, WithInitialDelay(time.Hour))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected cancellation before second attempt, got %d attempts", attempts)
	}
}

func TestDoCapsDelay(t *testing.T) {
	start := time.Now()
	err := Do(context.Background(), func() error {
		return errors.New("transient")
	},
		WithMaxAttempts(4),
		WithInitialDelay(time.Millisecond),
		WithMaxDelay(2*time.Millisecond),
	)
	if err == nil {
		t.Fatal("expected an error after exhaustion")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("delays not capped, took %v", elapsed)
	}
}
