package dispatch

import (
	"context"

	"github.com/s-p-n/spn-sqlite/handle"
	"github.com/s-p-n/spn-sqlite/worker"
)

// Lease is a Handle reserved for the exclusive use of one transaction for
// its duration (spec.md §9's transaction/multi-worker open question,
// resolved per option (a)). Every job run through a Lease gets the same
// bounded SQLite lock-contention retry a job submitted through Submit would
// get from execute(): a leased BEGIN IMMEDIATE racing another handle's
// writer for the same file is retried here exactly like a queued job is,
// instead of surfacing "database is locked" to the transaction on the very
// first attempt.
type Lease struct {
	inner  *handle.Lease
	policy RetryPolicy
}

// Run executes job against the leased handle, retrying per l's RetryPolicy
// while the attempt keeps failing with SQLite lock contention.
func (l *Lease) Run(ctx context.Context, job worker.Job) worker.Outcome {
	return l.policy.run(ctx, func() worker.Outcome {
		o, err := l.inner.Run(ctx, job)
		if err != nil {
			return worker.Outcome{ID: job.ID, Err: err}
		}
		return o
	})
}

// Release returns the leased handle to its Dispatcher. Safe to call more
// than once.
func (l *Lease) Release() {
	l.inner.Release()
}
