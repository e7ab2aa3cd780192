package upload

import (
	"context"
	"time"
)

// Sleeper waits between retry attempts. The wait is cancellable through the
// context so a deadline does not have to ride out a blocking sleep.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper is the production Sleeper.
type TimerSleeper struct{}

// Sleep waits for d or until the context is cancelled.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
