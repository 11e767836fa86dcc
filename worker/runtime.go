// Package worker implements the worker runtime (C2): one goroutine per
// instance, owning exactly one SQLite connection, executing jobs handed to
// it strictly in arrival order and replying exactly once per job.
package worker

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/pkg/errors"
	"github.com/s-p-n/spn-sqlite/backoff"
	"github.com/s-p-n/spn-sqlite/logging"
	"github.com/s-p-n/spn-sqlite/retry"
)

// backoffForOpen paces retry.WithBackoff's retries while opening a
// connection, using the same contention-scale bounds as dispatch's
// mid-job retry policy (backoff.DefaultBackoff) rather than a
// network-reconnect-scale one.
var backoffForOpen = backoff.DefaultBackoff

// request pairs a Job with the channel its Outcome must be sent on. It never
// leaves this package: external callers only ever see Runtime.Run.
type request struct {
	job   Job
	reply chan Outcome
}

// Runtime owns one *sqlx.DB pinned to exactly one physical connection and a
// single goroutine draining its jobs channel. The prepared-statement cache
// is a plain map because it is only ever touched from that one goroutine.
type Runtime struct {
	db     *sqlx.DB
	logger *logging.Logger

	jobs   chan request
	done   chan struct{}
	stmts  map[string]*sqlx.Stmt
}

// Open creates a Runtime against filename using the named driver (already
// normalized via NormalizeName) and pragma options, and starts its receive
// loop. The returned Runtime must eventually be closed with Close.
//
// Opening and pinging the connection is wrapped in retry.WithBackoff: a
// freshly created file can briefly collide with another process still
// holding SQLite's startup lock, the same "database is locked" contention
// the dispatcher retries mid-job, so the connector gets the same treatment
// the teacher library gives a fresh database/sql connector (see
// database/driver.go), just applied to opening instead of to a
// driver.Connector.
func Open(ctx context.Context, driverName, filename string, pragma PragmaOptions, logger *logging.Logger) (*Runtime, error) {
	var db *sqlx.DB

	open := func(ctx context.Context) error {
		var err error
		db, err = sqlx.Open(driverName, buildDSN(filename, pragma))
		if err != nil {
			return err
		}

		// Pin the pool to exactly one physical connection: database/sql then
		// serializes access to it for us, turning "at most one in-flight job
		// per connection" into a property of the connection itself rather
		// than just of this package's own bookkeeping.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			db = nil
			return err
		}
		return nil
	}

	err := retry.WithBackoff(
		ctx,
		open,
		retry.Retryable(IsLockContention),
		backoffForOpen,
		retry.Settings{Timeout: retry.DefaultTimeout},
	)
	if err != nil {
		return nil, errors.Wrap(err, "can't open sqlite database")
	}

	r := &Runtime{
		db:     db,
		logger: logger,
		jobs:   make(chan request),
		done:   make(chan struct{}),
		stmts:  make(map[string]*sqlx.Stmt),
	}

	go r.loop()

	return r, nil
}

// Run submits job to the runtime and blocks until its Outcome arrives or ctx
// is done. Per spec.md §5, cancelling ctx never cancels SQL already handed
// to the runtime; it only stops the caller from waiting on the reply.
func (r *Runtime) Run(ctx context.Context, job Job) Outcome {
	reply := make(chan Outcome, 1)

	select {
	case r.jobs <- request{job: job, reply: reply}:
	case <-ctx.Done():
		return Outcome{ID: job.ID, Err: ctx.Err()}
	case <-r.done:
		return Outcome{ID: job.ID, Err: errors.New("worker runtime closed")}
	}

	select {
	case outcome := <-reply:
		return outcome
	case <-ctx.Done():
		return Outcome{ID: job.ID, Err: ctx.Err()}
	}
}

// Close stops the receive loop and closes the underlying connection. Jobs
// already sent to Run but not yet picked up by the loop are abandoned by the
// caller's own ctx, not by Close; Close itself never interrupts a job
// currently executing against the connection.
func (r *Runtime) Close() error {
	close(r.done)

	for _, stmt := range r.stmts {
		_ = stmt.Close()
	}

	return r.db.Close()
}

// loop is the runtime's single goroutine. It drains jobs strictly one at a
// time, never dequeuing the next job before replying to the current one
// (spec.md §4.2's receive-loop invariant).
func (r *Runtime) loop() {
	for {
		select {
		case req := <-r.jobs:
			req.reply <- r.handle(context.Background(), req.job)
		case <-r.done:
			return
		}
	}
}

// handle executes job synchronously against the runtime's single connection
// and returns its Outcome. This is the exhaustive switch over Method that
// spec.md §4.2's method table describes. A job with non-empty Steps runs
// those steps in order inside one BEGIN IMMEDIATE/COMMIT bracket instead.
func (r *Runtime) handle(ctx context.Context, job Job) Outcome {
	if len(job.Steps) > 0 {
		if _, err := r.db.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
			return Outcome{ID: job.ID, Err: NewSQLiteError(err)}
		}
		for _, step := range job.Steps {
			if out := r.handle(ctx, step); out.Err != nil {
				_, _ = r.db.ExecContext(ctx, "ROLLBACK")
				return Outcome{ID: job.ID, Err: out.Err}
			}
		}
		if _, err := r.db.ExecContext(ctx, "COMMIT"); err != nil {
			return Outcome{ID: job.ID, Err: NewSQLiteError(err)}
		}
		return Outcome{ID: job.ID}
	}

	var result any
	var err error

	switch job.Method {
	case MethodExec:
		err = r.execScript(ctx, job.SQL)
	case MethodRun:
		result, err = r.run(ctx, job.SQL, job.Values)
	case MethodGet:
		result, err = r.get(ctx, job.SQL, job.Values)
	case MethodAll:
		result, err = r.all(ctx, job.SQL, job.Values)
	case MethodBegin:
		_, err = r.db.ExecContext(ctx, "BEGIN IMMEDIATE")
	case MethodCommit:
		_, err = r.db.ExecContext(ctx, "COMMIT")
	case MethodRollback:
		_, err = r.db.ExecContext(ctx, "ROLLBACK")
	default:
		err = errors.Errorf("unknown method %v", job.Method)
	}

	if err != nil {
		return Outcome{ID: job.ID, Err: NewSQLiteError(err)}
	}

	return Outcome{ID: job.ID, Result: result}
}

// execScript runs sql as a possibly multi-statement script, per spec.md
// §4.2. database/sql's ExecContext only ever sends one statement to the
// driver, so a script is split on ";" and each non-empty statement is run
// in turn; this bypasses the prepared-statement cache entirely, also per
// spec.md §4.2.
func (r *Runtime) execScript(ctx context.Context, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// prepared returns a cached prepared statement for sql, preparing and
// caching it on first use. Entries live for the runtime's lifetime.
func (r *Runtime) prepared(ctx context.Context, sql string) (*sqlx.Stmt, error) {
	if stmt, ok := r.stmts[sql]; ok {
		return stmt, nil
	}

	stmt, err := r.db.PreparexContext(ctx, sql)
	if err != nil {
		return nil, err
	}

	r.stmts[sql] = stmt
	return stmt, nil
}

func (r *Runtime) run(ctx context.Context, query string, values []any) (RunResult, error) {
	stmt, err := r.prepared(ctx, query)
	if err != nil {
		return RunResult{}, err
	}

	res, err := stmt.ExecContext(ctx, values...)
	if err != nil {
		return RunResult{}, err
	}

	changes, err := res.RowsAffected()
	if err != nil {
		return RunResult{}, err
	}

	lastID, err := res.LastInsertId()
	if err != nil {
		return RunResult{}, err
	}

	return RunResult{Changes: changes, LastInsertRowID: lastID}, nil
}

func (r *Runtime) get(ctx context.Context, query string, values []any) (Row, error) {
	stmt, err := r.prepared(ctx, query)
	if err != nil {
		return nil, err
	}

	row := make(Row)
	if err := stmt.QueryRowxContext(ctx, values...).MapScan(row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return row, nil
}

func (r *Runtime) all(ctx context.Context, query string, values []any) ([]Row, error) {
	stmt, err := r.prepared(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryxContext(ctx, values...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Row, 0)
	for rows.Next() {
		row := make(Row)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		result = append(result, row)
	}

	return result, rows.Err()
}
