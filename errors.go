package spnsqlite

import (
	"github.com/pkg/errors"

	"github.com/s-p-n/spn-sqlite/compose"
)

var (
	errEmptyFilename    = errors.New("filename must not be empty")
	errNegativeWorkers  = errors.New("workers must not be negative")
	errNegativeMaxQueue = errors.New("max_queue must not be negative")
)

// ErrInvalidQuery is returned by Exec/Run/Get/All when the fragments/values
// given do not satisfy compose.Compose's arity invariant (spec.md §4.1,
// §7): for Exec, any non-empty values; for Run/Get/All, |values| must equal
// the number of placeholders implied by len(fragments)-1. It is an alias for
// compose.ErrInvalidQuery, not a second sentinel, so errors.Is sees the same
// value whether a caller's arity mismatch came from Exec's own check or from
// compose.Compose itself.
var ErrInvalidQuery = compose.ErrInvalidQuery
