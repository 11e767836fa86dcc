package dispatch

import "github.com/pkg/errors"

// ErrDispatcherClosed is returned by Submit once Shutdown has been called.
var ErrDispatcherClosed = errors.New("dispatcher is closed")

// ErrQueueFull is returned by Submit when the queue already holds MaxQueue
// entries.
var ErrQueueFull = errors.New("dispatcher queue is full")

// ErrShuttingDown is the error every still-queued entry is rejected with
// when Shutdown runs (spec.md §4.4 step 2).
var ErrShuttingDown = errors.New("dispatcher is shutting down")
