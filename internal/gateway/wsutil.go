package gateway

import (
	"context"
	"time"
)

// send delivers payload on ch unless ctx ends first.
func send[T any](ctx context.Context, ch chan<- T, payload T) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case ch <- payload:
		return true
	case <-ctx.Done():
		return false
	}
}

// heartbeat calls fn every interval until ctx ends or fn fails.
func heartbeat(ctx context.Context, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 || fn == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
