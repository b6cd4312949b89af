package reconnect

import (
	"context"
	"time"
)

// Schedule defines the backoff durations for successive reconnect attempts.
var Schedule = []time.Duration{
	time.Second, time.Second, time.Second,
	5 * time.Second, 5 * time.Second, 5 * time.Second,
	15 * time.Second, 15 * time.Second, 15 * time.Second,
}

// Delay returns the backoff duration for the given attempt.
// Attempts beyond the length of the schedule default to 30 seconds.
func Delay(attempt int) time.Duration {
	if attempt < len(Schedule) {
		return Schedule[attempt]
	}
	return 30 * time.Second
}

// Run invokes fn and, when it fails and retry is true, tries again following
// the backoff schedule until fn succeeds or ctx is done.
func Run(ctx context.Context, retry bool, fn func(context.Context) error) error {
	return run(ctx, retry, Delay, fn)
}

func run(ctx context.Context, retry bool, delay func(int) time.Duration, fn func(context.Context) error) error {
	attempt := 0
	for {
		err := fn(ctx)
		if err == nil || !retry {
			return err
		}
		d := delay(attempt)
		attempt++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}
