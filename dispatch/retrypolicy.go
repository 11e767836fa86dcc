package dispatch

import (
	"context"
	"time"

	"github.com/s-p-n/spn-sqlite/backoff"
	"github.com/s-p-n/spn-sqlite/worker"
)

// RetryPolicy bounds the dispatcher's automatic retry of jobs that fail with
// SQLite lock contention. A contended job is retried on the same handle it
// was routed to (or the same Lease), after a Backoff pause, up to
// MaxAttempts attempts in total; it is not put back into the dispatcher's
// queue, and once MaxAttempts is used up the contention error is returned.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     backoff.Backoff
}

// DefaultRetryPolicy retries up to 8 times with the package-default
// exponential-with-jitter backoff (2ms..250ms), tuned for SQLite lock
// contention rather than a network reconnect.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 8,
	Backoff:     backoff.DefaultBackoff,
}

// run executes attempt, retrying while it keeps failing with
// SQLite lock contention, up to p.MaxAttempts total attempts.
func (p RetryPolicy) run(ctx context.Context, attempt func() worker.Outcome) worker.Outcome {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var out worker.Outcome
	for n := uint64(1); ; n++ {
		out = attempt()
		if out.Err == nil || !worker.IsLockContention(out.Err) {
			return out
		}
		if int(n) >= maxAttempts {
			return out
		}

		select {
		case <-time.After(p.Backoff(n)):
		case <-ctx.Done():
			return out
		}
	}
}
