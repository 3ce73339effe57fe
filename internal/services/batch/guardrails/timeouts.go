// Package guardrails holds cross cutting safety helpers for batch runs
package guardrails

import (
	"context"
	"time"
)

// Timeouts is an optional budget bundle for one orchestration pass.
// Zero values mean no extra timeout at that level
type Timeouts struct {
	// Upload caps staging of a single image
	Upload time.Duration

	// Submit caps job creation including the addressability settle
	Submit time.Duration

	// Fetch caps listing and downloading the result files of one job
	Fetch time.Duration
}

// ForUpload returns a sub context for one image upload bounded by Upload and any remaining parent budget
func ForUpload(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Upload)
}

// ForSubmit returns a sub context for job creation
func ForSubmit(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Submit)
}

// ForFetch returns a sub context for result retrieval
func ForFetch(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Fetch)
}

// Remaining returns the time until the deadline on ctx or zero when none is set or already expired
func Remaining(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		d := time.Until(dl)
		if d > 0 {
			return d
		}
	}
	return 0
}

// withChildTimeout chooses the tighter of the requested duration and any parent remainder.
// Never extends the parent deadline
func withChildTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	if rem := Remaining(parent); rem > 0 && rem < d {
		return context.WithTimeout(parent, rem)
	}
	return context.WithTimeout(parent, d)
}
