// Package reconnect holds the client backoff schedule.
package reconnect

import (
	"context"
	"time"
)

// Schedule is the wait before each successive attempt.
var Schedule = []time.Duration{
	time.Second, time.Second, time.Second,
	5 * time.Second, 5 * time.Second, 5 * time.Second,
	15 * time.Second, 15 * time.Second, 15 * time.Second,
}

// Max is used once Schedule is exhausted.
const Max = 30 * time.Second

// Delay returns the wait before attempt (zero based).
func Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt < len(Schedule) {
		return Schedule[attempt]
	}
	return Max
}

// Retry calls fn until it succeeds, ctx ends, or attempts calls failed.
// attempts <= 0 retries until ctx ends. wait is used to sleep between
// attempts; nil means a real timer.
func Retry(ctx context.Context, attempts int, wait func(context.Context, time.Duration) error, fn func(context.Context) error) error {
	if wait == nil {
		wait = sleep
	}
	var err error
	for i := 0; attempts <= 0 || i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempts > 0 && i == attempts-1 {
			break
		}
		if werr := wait(ctx, Delay(i)); werr != nil {
			return werr
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
