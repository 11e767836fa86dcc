// Package dispatch implements the dispatcher (C4): FIFO job routing across a
// fixed pool of worker handles, with bounded contention retry and a graceful
// shutdown sequence.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/s-p-n/spn-sqlite/handle"
	"github.com/s-p-n/spn-sqlite/logging"
	"github.com/s-p-n/spn-sqlite/periodic"
	"github.com/s-p-n/spn-sqlite/worker"
)

// entry is one queued or in-flight job plus the channel its result is
// delivered on. It never leaves this package.
type entry struct {
	job   worker.Job
	reply chan outcome
}

type outcome struct {
	result any
	err    error
}

// Dispatcher owns a command-loop goroutine: the only code ever allowed to
// touch handles, queue, nextJobID and closed. Every external interaction —
// Submit, a handle freeing up, Shutdown — is a closure sent over cmd, the
// direct Go equivalent of spec.md §9's "global bridge between message
// receiver and handler" design note, done as dependency injection through a
// channel instead of a package-level mutable binding.
type Dispatcher struct {
	// id tags every log line this Dispatcher emits, the way
	// database.DB.MarshalLogObject tags every teacher log line with the
	// database address — here there is no address to log, just N
	// interchangeable worker handles, so a random per-instance id fills the
	// same "which database/dispatcher is this" role when a process runs more
	// than one Dispatcher.
	id uuid.UUID

	handles     []*handle.Handle
	retryPolicy RetryPolicy
	maxQueue    int
	logger      *logging.Logger

	cmd     chan func()
	stopped chan struct{}

	// loop-owned state; touched only inside run().
	queue     []*entry
	nextJobID uint64
	closed    bool
	leased    map[*handle.Handle]bool

	// completed counts jobs that have finished (successfully or not) since
	// the Dispatcher was created; read by the periodic throughput logger
	// below, touched from whichever execute goroutine finishes a job, so it
	// is a plain atomic counter rather than loop-owned state.
	completed uint64

	statsLog periodic.Stopper

	wg sync.WaitGroup
}

// New creates a Dispatcher over the given handles and starts its command
// loop. maxQueue <= 0 means unbounded.
//
// A periodic throughput log is started alongside the command loop, the same
// role periodic.Start plays for DB.Log in the teacher library: instead of
// logging every single job at debug level, it reports "N jobs completed"
// once per logger's configured interval, so a long-running worker pool's
// activity is visible without flooding the log.
func New(handles []*handle.Handle, maxQueue int, retryPolicy RetryPolicy, logger *logging.Logger) *Dispatcher {
	d := &Dispatcher{
		id:          uuid.New(),
		handles:     handles,
		retryPolicy: retryPolicy,
		maxQueue:    maxQueue,
		logger:      logger.With("dispatch"),
		cmd:         make(chan func()),
		stopped:     make(chan struct{}),
		leased:      make(map[*handle.Handle]bool),
	}

	go d.run()

	if interval := logger.Interval(); interval > 0 {
		var lastCompleted uint64
		d.statsLog = periodic.Start(context.Background(), interval, func(periodic.Tick) {
			completed := atomic.LoadUint64(&d.completed)
			if n := completed - lastCompleted; n > 0 {
				d.logger.Debugw("dispatcher throughput", "dispatcher", d.id, "jobs_completed", n)
			}
			lastCompleted = completed
		})
	} else {
		d.statsLog = noopStopper{}
	}

	return d
}

type noopStopper struct{}

func (noopStopper) Stop() {}

// ID identifies this Dispatcher instance, stable for its lifetime. Included
// in log lines so a process running more than one Dispatcher can tell which
// one a given log entry came from.
func (d *Dispatcher) ID() uuid.UUID {
	return d.id
}

// run is the dispatcher's single command-loop goroutine.
func (d *Dispatcher) run() {
	for cmd := range d.cmd {
		cmd()
	}
}

// send delivers fn to the loop goroutine, or returns false if Shutdown has
// already finished or ctx is done.
func (d *Dispatcher) send(ctx context.Context, fn func()) bool {
	select {
	case d.cmd <- fn:
		return true
	case <-d.stopped:
		return false
	case <-ctx.Done():
		return false
	}
}

// Submit enqueues a job built from method/sql/values and blocks until it
// completes or ctx is done (spec.md §4.4).
func (d *Dispatcher) Submit(ctx context.Context, method worker.Method, sql string, values []any) (any, error) {
	reply := make(chan outcome, 1)

	delivered := d.send(ctx, func() {
		d.submitLocked(sql, method, values, reply)
	})
	if !delivered {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			return nil, ErrDispatcherClosed
		}
	}

	select {
	case o := <-reply:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// submitLocked runs on the loop goroutine: it assigns a job id, enqueues the
// entry and attempts to route it immediately.
func (d *Dispatcher) submitLocked(sqlText string, method worker.Method, values []any, reply chan outcome) {
	if d.closed {
		reply <- outcome{err: ErrDispatcherClosed}
		return
	}
	if d.maxQueue > 0 && len(d.queue) >= d.maxQueue {
		reply <- outcome{err: ErrQueueFull}
		return
	}

	id := d.nextJobID
	d.nextJobID++

	e := &entry{
		job:   worker.Job{ID: id, Method: method, SQL: sqlText, Values: values},
		reply: reply,
	}
	d.queue = append(d.queue, e)

	d.route()
}

// route runs on the loop goroutine: it hands queued entries to idle handles
// in FIFO order, for as many pairs as exist right now.
func (d *Dispatcher) route() {
	for len(d.queue) > 0 {
		h := d.findIdleHandle()
		if h == nil {
			return
		}

		e := d.queue[0]
		d.queue = d.queue[1:]

		d.wg.Add(1)
		go d.execute(h, e)
	}
}

func (d *Dispatcher) findIdleHandle() *handle.Handle {
	for _, h := range d.handles {
		if h.Idle() && !d.leased[h] {
			return h
		}
	}
	return nil
}

// execute runs outside the loop goroutine: it performs the (possibly
// retried) job against h and reports back, then asks the loop to route
// again now that h may be free.
func (d *Dispatcher) execute(h *handle.Handle, e *entry) {
	defer d.wg.Done()

	ctx := context.Background()
	out := d.retryPolicy.run(ctx, func() worker.Outcome {
		o, err := h.Run(ctx, e.job)
		if err != nil {
			return worker.Outcome{ID: e.job.ID, Err: err}
		}
		return o
	})

	atomic.AddUint64(&d.completed, 1)
	e.reply <- outcome{result: out.Result, err: out.Err}

	select {
	case d.cmd <- d.route:
	case <-d.stopped:
	}
}

// LeaseHandle pins a single idle handle for the duration of a transaction
// (spec.md §9's transaction/multi-worker open question, resolved per the
// recommended option (a)). The returned Lease must be released via
// Lease.Release once the transaction finishes. A size=1 dispatcher degrades
// to "the lease is always the only handle": LeaseHandle simply waits for it.
// Every job run through the returned Lease shares execute()'s contention
// RetryPolicy, so a leased BEGIN/COMMIT/etc. that races another handle's
// write on the same file is retried instead of failing outright.
func (d *Dispatcher) LeaseHandle(ctx context.Context) (*Lease, error) {
	for {
		type result struct {
			h   *handle.Handle
			err error
		}
		resCh := make(chan result, 1)

		delivered := d.send(ctx, func() {
			if d.closed {
				resCh <- result{err: ErrDispatcherClosed}
				return
			}

			h := d.findIdleHandle()
			if h == nil {
				resCh <- result{}
				return
			}

			d.leased[h] = true
			resCh <- result{h: h}
		})
		if !delivered {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				return nil, ErrDispatcherClosed
			}
		}

		res := <-resCh
		if res.err != nil {
			return nil, res.err
		}
		if res.h != nil {
			inner := handle.NewLease(res.h, func() {
				d.send(context.Background(), func() {
					delete(d.leased, res.h)
					d.route()
				})
			})
			return &Lease{inner: inner, policy: d.retryPolicy}, nil
		}

		// No idle, unleased handle right now: all handles are either
		// mid-job or leased elsewhere. Poll at contention-retry cadence
		// rather than queueing a dedicated waiter, trading a little latency
		// for not needing a second piece of loop-owned state.
		select {
		case <-time.After(2 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Shutdown implements spec.md §4.4's graceful shutdown: new submissions fail
// immediately, every still-queued entry is rejected, and each handle is
// terminated once idle. Calling Shutdown again after the first call is a
// no-op that returns nil.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	type drained struct {
		handles []*handle.Handle
		again   bool
	}
	resCh := make(chan drained, 1)

	delivered := d.send(ctx, func() {
		if d.closed {
			resCh <- drained{again: true}
			return
		}
		d.closed = true

		for _, e := range d.queue {
			e.reply <- outcome{err: ErrShuttingDown}
		}
		d.queue = nil

		resCh <- drained{handles: d.handles}
	})
	if !delivered {
		return ctx.Err()
	}

	select {
	case r := <-resCh:
		if r.again {
			return nil
		}
		d.wg.Wait()
		d.statsLog.Stop()

		// Handles terminate independently of one another (each owns its own
		// connection), so an errgroup drains them concurrently instead of
		// making a busy handle's drain time serialize shutdown of every
		// other, already-idle handle behind it.
		var g errgroup.Group
		for _, h := range r.handles {
			h := h
			g.Go(func() error {
				return h.Terminate()
			})
		}
		if err := g.Wait(); err != nil {
			d.logger.Warnw("error terminating worker handle", "dispatcher", d.id, logging.Error(err))
		}

		close(d.stopped)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
