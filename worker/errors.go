package worker

import "strings"

// SQLiteError carries a driver error across the boundary between a runtime's
// goroutine and whatever handle/dispatcher code eventually surfaces it to a
// caller, the way JobReply carries a serialized error instead of a live
// driver-specific value (spec.md §3, §7). It never embeds the original
// error's concrete type, only what a caller can act on.
type SQLiteError struct {
	// Message is the driver error text, verbatim.
	Message string

	// Code is the SQLite result code, when the driver exposes one. Zero if
	// unknown.
	Code int
}

func (e *SQLiteError) Error() string {
	return e.Message
}

// NewSQLiteError copies the given error's message (and result code, if the
// driver error exposes one) into a SQLiteError, discarding everything else.
func NewSQLiteError(err error) *SQLiteError {
	se := &SQLiteError{Message: err.Error()}

	var coder interface{ Code() int }
	if ok := asCoder(err, &coder); ok {
		se.Code = coder.Code()
	}

	return se
}

func asCoder(err error, target *interface{ Code() int }) bool {
	for err != nil {
		if c, ok := err.(interface{ Code() int }); ok {
			*target = c
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// lockContentionMessage is the exact substring SQLite uses for the error
// this system treats as retryable contention (spec.md §4.4/§7).
const lockContentionMessage = "database is locked"

// IsLockContention reports whether err represents SQLite lock contention,
// i.e. a failed BEGIN IMMEDIATE or a write that lost a race for the single
// writer lock. This is a string check rather than an errors.Is/As chain
// because modernc.org/sqlite surfaces contention as a plain error whose
// message is the sqlite3 library's own text; there is no distinguished
// sentinel or typed error to match against.
func IsLockContention(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), lockContentionMessage)
}
