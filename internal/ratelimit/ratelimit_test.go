package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterAllow(t *testing.T) {
	l := New(Config{Limit: 2, WindowSize: 50 * time.Millisecond, CleanupInterval: time.Second}, nil)
	defer l.Stop()

	if ok, remaining, _ := l.Allow("k"); !ok || remaining != 1 {
		t.Fatalf("first call: ok=%v remaining=%d", ok, remaining)
	}
	if ok, remaining, _ := l.Allow("k"); !ok || remaining != 0 {
		t.Fatalf("second call: ok=%v remaining=%d", ok, remaining)
	}
	if ok, _, _ := l.Allow("k"); ok {
		t.Fatal("third call should be rejected")
	}

	time.Sleep(60 * time.Millisecond)
	if ok, _, _ := l.Allow("k"); !ok {
		t.Fatal("call after window reset should be allowed")
	}
}

func TestLimiterWaitRespectsContext(t *testing.T) {
	l := New(Config{Limit: 1, WindowSize: time.Hour, CleanupInterval: time.Hour}, nil)
	defer l.Stop()

	l.Allow("k")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "k"); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestThrottlerRetriesThenSucceeds(t *testing.T) {
	th := NewThrottler(ThrottlerConfig{
		RatePerSecond: 1000,
		Burst:         10,
		BaseDelay:     time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		MaxRetries:    3,
	})

	attempts := 0
	err := th.Do(context.Background(), func(error) bool { return true }, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestThrottlerGivesUpOnNonRetryable(t *testing.T) {
	th := NewThrottler(DefaultThrottlerConfig())
	wantErr := errors.New("fatal")
	attempts := 0
	err := th.Do(context.Background(), func(error) bool { return false }, func(ctx context.Context) error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}
