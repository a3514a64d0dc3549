// Package backoff computes capped exponential retry delays.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 30s
	Jitter  float64       // fraction of the delay randomly removed, 0..1
}

func (c *Config) bounds() (time.Duration, time.Duration) {
	initial := 100 * time.Millisecond
	maxDelay := 30 * time.Second
	if c != nil {
		if c.Initial > 0 {
			initial = c.Initial
		}
		if c.Max > 0 {
			maxDelay = c.Max
		}
	}
	if initial > maxDelay {
		initial = maxDelay
	}
	return initial, maxDelay
}

// Exponential returns the delay before retry number attempt.
// Attempt 1 returns Initial, attempt 2 returns 2*Initial, and so on up to Max.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial, maxDelay := cfg.bounds()
	if attempt < 1 {
		return initial
	}
	delay := float64(initial) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(delay)
}

// Jittered is Exponential with up to cfg.Jitter of the delay removed at
// random, so callers that failed together do not retry together.
func Jittered(attempt int, cfg *Config) time.Duration {
	delay := Exponential(attempt, cfg)
	if cfg == nil || cfg.Jitter <= 0 {
		return delay
	}
	fraction := math.Min(cfg.Jitter, 1)
	return delay - time.Duration(rand.Float64()*fraction*float64(delay))
}
