// Package ratelimit provides the two rate-limiting shapes the scan engine
// needs: a fixed-window counter for per-provider request budgets, and a
// Throttler that wraps a token bucket with exponential back-off for
// upstream IoC providers that return 429s.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures the fixed-window Limiter.
type Config struct {
	Limit           int
	WindowSize      time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns a reasonable single-tier default.
func DefaultConfig() Config {
	return Config{
		Limit:           60,
		WindowSize:      time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

type windowEntry struct {
	count     int
	windowEnd time.Time
}

// Limiter is a fixed-window counter keyed by an arbitrary identifier (an
// IoC provider name, a host, a package ecosystem). A key's window opens
// at its first request and lasts WindowSize; at most Limit requests are
// admitted per window, and the count resets when the window ends. The
// window does not slide, so a burst straddling a reset can admit up to
// 2*Limit requests within one WindowSize.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	entries map[string]*windowEntry
	logger  *slog.Logger
	done    chan struct{}
	once    sync.Once
}

// New creates a Limiter and starts its background cleanup loop.
func New(cfg Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		cfg:     cfg,
		entries: make(map[string]*windowEntry),
		logger:  logger.With("component", "ratelimit"),
		done:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Stop terminates the cleanup goroutine. Safe to call multiple times.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.done) })
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for key, e := range l.entries {
		if now.After(e.windowEnd) {
			delete(l.entries, key)
		}
	}
}

// Allow reports whether key may proceed under the current window, and how
// many requests remain before the window resets.
func (l *Limiter) Allow(key string) (allowed bool, remaining int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, exists := l.entries[key]
	if !exists || now.After(entry.windowEnd) {
		entry = &windowEntry{count: 1, windowEnd: now.Add(l.cfg.WindowSize)}
		l.entries[key] = entry
		return true, l.cfg.Limit - 1, entry.windowEnd
	}

	if entry.count >= l.cfg.Limit {
		return false, 0, entry.windowEnd
	}

	entry.count++
	return true, l.cfg.Limit - entry.count, entry.windowEnd
}

// Wait blocks until key is allowed to proceed or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, _, resetAt := l.Allow(key)
		if allowed {
			return nil
		}
		wait := time.Until(resetAt)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// ThrottlerConfig configures exponential back-off on top of a token bucket.
type ThrottlerConfig struct {
	RatePerSecond float64
	Burst         int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxRetries    int
}

// DefaultThrottlerConfig mirrors common IoC-provider budgets.
func DefaultThrottlerConfig() ThrottlerConfig {
	return ThrottlerConfig{
		RatePerSecond: 5,
		Burst:         10,
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		MaxRetries:    5,
	}
}

// Throttler composes a token-bucket limiter with exponential back-off,
// used by IoC providers to self-pace requests and recover from 429s
// without the caller needing retry logic of its own.
type Throttler struct {
	cfg     ThrottlerConfig
	limiter *rate.Limiter
}

// NewThrottler creates a Throttler from cfg.
func NewThrottler(cfg ThrottlerConfig) *Throttler {
	return &Throttler{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

// Do runs fn, waiting on the token bucket first and retrying with
// exponential back-off when fn returns a retryable error (as reported by
// isRetryable). It gives up after cfg.MaxRetries retries, that is
// cfg.MaxRetries+1 attempts in all.
func (t *Throttler) Do(ctx context.Context, isRetryable func(error) bool, fn func(ctx context.Context) error) error {
	delay := t.cfg.BaseDelay
	var lastErr error
	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return err
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		delay *= 2
		if delay > t.cfg.MaxDelay {
			delay = t.cfg.MaxDelay
		}
	}
	return lastErr
}
