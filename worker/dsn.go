package worker

import (
	"fmt"
	"strings"
)

// PragmaOptions configures the SQLite pragmas applied to a connection at
// open time, folded into the DSN as "_pragma=..." query parameters the way
// every modernc.org/sqlite-based DSN in the retrieval pack builds one.
type PragmaOptions struct {
	// BusyTimeout is the SQLite-level busy handler timeout, in milliseconds.
	// Left at 0 (disabled) by default: contention is this module's own
	// retry loop's job (spec.md §4.4), and a second, independent retry
	// mechanism inside libsqlite3 would fight it and make latency
	// unpredictable.
	BusyTimeout int `yaml:"busy_timeout" env:"BUSY_TIMEOUT" default:"0"`

	// JournalMode is the SQLite journal_mode pragma. Defaults to WAL for
	// file-backed databases; callers opening ":memory:" should leave this
	// empty, since a WAL journal file makes no sense without a backing file.
	JournalMode string `yaml:"journal_mode" env:"JOURNAL_MODE" default:"WAL"`

	// SyncMode is the SQLite synchronous pragma.
	SyncMode string `yaml:"sync_mode" env:"SYNC_MODE" default:"NORMAL"`

	// ForeignKeys enables FK enforcement. Required by spec.md §4.2; always
	// true in practice, kept as a field so it can be seen in the DSN.
	ForeignKeys bool `yaml:"foreign_keys" env:"FOREIGN_KEYS" default:"true"`

	// ExtraPragmas are appended verbatim as additional "_pragma=" DSN
	// parameters, each already in "name(value)" form.
	ExtraPragmas []string `yaml:"extra_pragmas" env:"EXTRA_PRAGMAS"`
}

// buildDSN composes the modernc.org/sqlite DSN for filename, folding p into
// "_pragma=" query parameters. filename may be ":memory:", in which case
// JournalMode is omitted regardless of p.JournalMode.
func buildDSN(filename string, p PragmaOptions) string {
	var pragmas []string

	if p.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("busy_timeout(%d)", p.BusyTimeout))
	}
	if filename != ":memory:" && p.JournalMode != "" {
		pragmas = append(pragmas, fmt.Sprintf("journal_mode(%s)", p.JournalMode))
	}
	if p.SyncMode != "" {
		pragmas = append(pragmas, fmt.Sprintf("synchronous(%s)", p.SyncMode))
	}
	pragmas = append(pragmas, fmt.Sprintf("foreign_keys(%d)", boolToInt(p.ForeignKeys)))
	pragmas = append(pragmas, p.ExtraPragmas...)

	if len(pragmas) == 0 {
		return fmt.Sprintf("file:%s", filename)
	}

	query := make([]string, len(pragmas))
	for i, prag := range pragmas {
		query[i] = "_pragma=" + prag
	}

	return fmt.Sprintf("file:%s?%s", filename, strings.Join(query, "&"))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
