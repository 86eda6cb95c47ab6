package session

import (
	"context"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based). With
// jitter the delay is drawn from [d/2, d) and never exceeds MaxDelay.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	multiplier := max(cfg.Multiplier, 1.0)
	delay := cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(delay) * multiplier)
		if next < delay || (cfg.MaxDelay > 0 && next >= cfg.MaxDelay) {
			delay = cfg.MaxDelay
			break
		}
		delay = next
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter && delay > 1 {
		half := delay / 2
		if rng == nil {
			return half
		}
		return half + time.Duration(rng.Int63n(int64(delay-half)))
	}
	return delay
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
