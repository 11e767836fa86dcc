// Package spnsqlite is the application surface of an asynchronous,
// worker-pool-backed SQLite driver: it wires the SQL composer, worker
// runtime, worker handle and dispatcher together behind a small DB type.
package spnsqlite

import (
	"context"
	"runtime"

	"github.com/pkg/errors"

	"github.com/s-p-n/spn-sqlite/compose"
	"github.com/s-p-n/spn-sqlite/dispatch"
	"github.com/s-p-n/spn-sqlite/handle"
	"github.com/s-p-n/spn-sqlite/logging"
	"github.com/s-p-n/spn-sqlite/worker"
)

// DB is the handle an application holds: every query method suspends the
// caller until its reply arrives from whichever worker handles it, per
// spec.md §5.
type DB struct {
	dispatcher *Dispatcher

	// lease is set only on the *DB handed to a Transaction callback; it
	// pins every job issued through this DB to one connection, retrying on
	// SQLite lock contention the same way a Submit-routed job would.
	lease *dispatch.Lease

	// inTransaction mirrors spec.md §4.4's process-local flag: true only on
	// the *DB value passed into a Transaction callback.
	inTransaction bool
}

// Dispatcher is an alias so callers of this package never need to import
// the dispatch package directly to hold a reference to one.
type Dispatcher = dispatch.Dispatcher

// New opens filename with the configured driver and pragmas, starts the
// worker pool, and returns a DB ready to accept queries.
//
// Config.Workers left at zero applies spec.md §6's default: since this
// module wires only the pure-Go modernc.org/sqlite backend (see
// worker.Builtin — there is no cgo "native" driver in this module, so that
// branch of the rule never triggers), the default is runtime.NumCPU() for
// ":memory:" databases (each worker gets its own independent in-memory
// database) and 2 for file-backed ones.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (*DB, error) {
	driverName, err := worker.NormalizeName(cfg.Driver)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		switch {
		case cfg.Filename == ":memory:":
			workers = runtime.NumCPU()
		default:
			workers = 2
		}
	}

	handles := make([]*handle.Handle, 0, workers)
	for i := 0; i < workers; i++ {
		rt, err := worker.Open(ctx, driverName, cfg.Filename, cfg.Pragma, logger)
		if err != nil {
			for _, h := range handles {
				_ = h.Terminate()
			}
			return nil, errors.Wrapf(err, "can't start worker %d/%d", i+1, workers)
		}
		handles = append(handles, handle.New(rt, logger))
	}

	d := dispatch.New(handles, cfg.MaxQueue, dispatch.DefaultRetryPolicy, logger)

	return &DB{dispatcher: d}, nil
}

// InTransaction reports whether this DB value is the one handed to an
// in-progress Transaction callback.
func (db *DB) InTransaction() bool {
	return db.inTransaction
}

// submit routes method/sql/values through the lease (if this DB is inside a
// Transaction) or the dispatcher directly.
func (db *DB) submit(ctx context.Context, method worker.Method, sql string, values []any) (any, error) {
	if db.lease != nil {
		out := db.lease.Run(ctx, worker.Job{Method: method, SQL: sql, Values: values})
		return out.Result, out.Err
	}

	return db.dispatcher.Submit(ctx, method, sql, values)
}

// Exec executes the concatenation of fragments as a possibly multi-statement
// script. values must be empty (spec.md §4.1/§7).
func (db *DB) Exec(ctx context.Context, fragments []string, values []any) error {
	if len(values) != 0 {
		return errors.Wrap(ErrInvalidQuery, "exec takes no values")
	}

	sql, _ := compose.ComposeOne(joinFragments(fragments))
	_, err := db.submit(ctx, worker.MethodExec, sql, nil)
	return err
}

// Run composes fragments/values via compose.Compose and executes them,
// returning the affected-rows/last-insert-id pair.
func (db *DB) Run(ctx context.Context, fragments []string, values []any) (worker.RunResult, error) {
	sql, vals, err := compose.Compose(fragments, values)
	if err != nil {
		return worker.RunResult{}, err
	}

	res, err := db.submit(ctx, worker.MethodRun, sql, vals)
	if err != nil {
		return worker.RunResult{}, err
	}

	rr, _ := res.(worker.RunResult)
	return rr, nil
}

// Get composes fragments/values and returns the first matching row, or nil
// if there is none.
func (db *DB) Get(ctx context.Context, fragments []string, values []any) (worker.Row, error) {
	sql, vals, err := compose.Compose(fragments, values)
	if err != nil {
		return nil, err
	}

	res, err := db.submit(ctx, worker.MethodGet, sql, vals)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	row, _ := res.(worker.Row)
	return row, nil
}

// All composes fragments/values and returns every matching row.
func (db *DB) All(ctx context.Context, fragments []string, values []any) ([]worker.Row, error) {
	sql, vals, err := compose.Compose(fragments, values)
	if err != nil {
		return nil, err
	}

	res, err := db.submit(ctx, worker.MethodAll, sql, vals)
	if err != nil {
		return nil, err
	}

	rows, _ := res.([]worker.Row)
	return rows, nil
}

// Transaction leases a single handle for the duration of fn, invoking fn
// with a *DB pinned to that handle (InTransaction reports true on it) and
// committing or rolling back based on fn's return value, matching spec.md
// §4.4's "invoke userFn with the same object" contract.
//
// Per spec.md §4.4 and §1's non-goal (4), a Transaction call made from
// inside an already-running transaction never opens a nested BEGIN: it
// invokes fn directly against db itself, so every statement fn issues runs
// as direct execution inside the outer transaction.
func (db *DB) Transaction(ctx context.Context, fn func(tx *DB) error) error {
	if db.inTransaction {
		return fn(db)
	}

	lease, err := db.dispatcher.LeaseHandle(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	tx := &DB{dispatcher: db.dispatcher, lease: lease, inTransaction: true}

	runLease := func(method worker.Method) error {
		out := lease.Run(ctx, worker.Job{Method: method})
		return out.Err
	}

	if err := runLease(worker.MethodBegin); err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = runLease(worker.MethodRollback)
		return err
	}

	return runLease(worker.MethodCommit)
}

// Close performs spec.md §4.4's graceful shutdown: it stops accepting new
// submissions, fails every still-queued entry, and waits for busy handles
// to drain before terminating them.
func (db *DB) Close(ctx context.Context) error {
	return db.dispatcher.Shutdown(ctx)
}

func joinFragments(fragments []string) string {
	out := ""
	for _, f := range fragments {
		out += f
	}
	return out
}
