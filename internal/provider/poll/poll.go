// Package poll waits out provider-side jobs with exponential backoff and
// jitter so a burst of submissions does not hammer a provider in lockstep.
package poll

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

var (
	ErrDeadlineExceeded = errors.New("poll_deadline_exceeded")
	ErrAttemptsExceeded = errors.New("poll_attempts_exceeded")
)

type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the fraction of the interval randomized each wait, in
	// [0, 1]. 0.2 means the actual wait lands within ±20%.
	Jitter      float64
	MaxAttempts int
	Deadline    time.Duration
}

func DefaultConfig() Config {
	return Config{
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      1.6,
		Jitter:          0.2,
		MaxAttempts:     60,
		Deadline:        10 * time.Minute,
	}
}

func (c Config) normalized() Config {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 2 * time.Second
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = 1.6
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = 0.2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 60
	}
	if c.Deadline <= 0 {
		c.Deadline = 10 * time.Minute
	}
	return c
}

// Until calls fn until it reports done, returns an error, or the budget
// runs out. The first call happens after one interval, not immediately;
// callers typically checked the job once before entering the loop.
func Until(ctx context.Context, cfg Config, fn func(ctx context.Context) (done bool, err error)) error {
	cfg = cfg.normalized()

	ctx, cancel := context.WithTimeout(ctx, cfg.Deadline)
	defer cancel()

	interval := cfg.InitialInterval
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		timer := time.NewTimer(withJitter(interval, cfg.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrDeadlineExceeded
			}
			return ctx.Err()
		case <-timer.C:
		}

		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		interval = time.Duration(float64(interval) * cfg.Multiplier)
		if interval > cfg.MaxInterval {
			interval = cfg.MaxInterval
		}
	}
	return ErrAttemptsExceeded
}

func withJitter(interval time.Duration, jitter float64) time.Duration {
	if jitter == 0 {
		return interval
	}
	delta := jitter * float64(interval)
	// Uniform in [interval-delta, interval+delta).
	return time.Duration(float64(interval) - delta + 2*delta*rand.Float64())
}
