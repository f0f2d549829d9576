// Package retry runs an operation again on transient failure with capped
// exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

type Config struct {
	// MaxRetries counts retries after the first attempt; 0 means a single try.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// BackoffFactor defaults to 2.
	BackoffFactor float64
	// Jitter stretches each wait by up to its own length.
	Jitter bool
	// Sleep waits between attempts; nil uses a timer. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2,
		Jitter:         true,
	}
}

type IsRetryableFunc func(error) bool

// OnRetryFunc observes each retry before its wait; attempt starts at 1.
type OnRetryFunc func(attempt int, err error, wait time.Duration)

func (c Config) withDefaults() Config {
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.Sleep == nil {
		c.Sleep = Sleep
	}
	return c
}

// Do calls fn until it succeeds, returns a non-retryable error, or the retry
// budget is spent.
func Do[T any](ctx context.Context, cfg Config, isRetryable IsRetryableFunc, onRetry OnRetryFunc, fn func() (T, error)) (T, error) {
	var zero T
	cfg = cfg.withDefaults()
	backoff := Backoff{Initial: cfg.InitialBackoff, Max: cfg.MaxBackoff, Factor: cfg.BackoffFactor}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff.Next()
			if cfg.Jitter && wait > 0 {
				wait += time.Duration(rand.Int63n(int64(wait)))
			}
			if onRetry != nil {
				onRetry(attempt, lastErr, wait)
			}
			if err := cfg.Sleep(ctx, wait); err != nil {
				return zero, fmt.Errorf("retry interrupted: %w (last error: %v)", err, lastErr)
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("gave up after %d retries: %w", cfg.MaxRetries, lastErr)
}

func DoVoid(ctx context.Context, cfg Config, isRetryable IsRetryableFunc, onRetry OnRetryFunc, fn func() error) error {
	_, err := Do(ctx, cfg, isRetryable, onRetry, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Backoff yields Initial, Initial*Factor, ... capped at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64

	cur time.Duration
}

func (b *Backoff) Next() time.Duration {
	if b.cur <= 0 {
		b.cur = b.Initial
		return b.cur
	}
	factor := b.Factor
	if factor <= 0 {
		factor = 2
	}
	next := time.Duration(float64(b.cur) * factor)
	if b.Max > 0 && next > b.Max {
		next = b.Max
	}
	b.cur = next
	return b.cur
}

func (b *Backoff) Reset() { b.cur = 0 }

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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
