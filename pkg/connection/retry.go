package connection

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/driftnote/driftnote/pkg/logger"
)

// Retryer decides how long to wait before the next attempt.
// attempt is 0 for the first retry.
type Retryer interface {
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
}

// ExponentialBackoffRetryer grows the delay by Multiplier per attempt,
// capped at MaxDelay, with optional +/- JitterFactor jitter.
type ExponentialBackoffRetryer struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxRetries of 0 retries forever.
	MaxRetries   int
	JitterFactor float64
}

func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.JitterFactor > 0 {
		//nolint:gosec // jitter is not security sensitive
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}

type FixedDelayRetryer struct {
	Delay      time.Duration
	MaxRetries int
}

func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{Delay: delay, MaxRetries: maxRetries}
}

func (r *FixedDelayRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

// Retry runs op until it succeeds, the retryer gives up, or ctx ends.
// The last error is returned when giving up.
func Retry(ctx context.Context, r Retryer, log logger.Logger, op func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		delay, ok := r.NextDelay(attempt, err)
		if !ok {
			return err
		}
		log.Warn("attempt failed, retrying", "attempt", attempt+1, "delay", delay.String(), "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
