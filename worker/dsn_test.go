package worker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildDSN_MemoryOmitsJournalMode(t *testing.T) {
	dsn := buildDSN(":memory:", PragmaOptions{JournalMode: "WAL", ForeignKeys: true})
	require.False(t, strings.Contains(dsn, "journal_mode"))
	require.True(t, strings.Contains(dsn, "foreign_keys(1)"))
}

func TestBuildDSN_FileIncludesPragmas(t *testing.T) {
	dsn := buildDSN("data.db", PragmaOptions{
		BusyTimeout: 500,
		JournalMode: "WAL",
		SyncMode:    "NORMAL",
		ForeignKeys: true,
		ExtraPragmas: []string{
			"temp_store(MEMORY)",
		},
	})

	require.True(t, strings.HasPrefix(dsn, "file:data.db?"))
	require.True(t, strings.Contains(dsn, "_pragma=busy_timeout(500)"))
	require.True(t, strings.Contains(dsn, "_pragma=journal_mode(WAL)"))
	require.True(t, strings.Contains(dsn, "_pragma=synchronous(NORMAL)"))
	require.True(t, strings.Contains(dsn, "_pragma=foreign_keys(1)"))
	require.True(t, strings.Contains(dsn, "_pragma=temp_store(MEMORY)"))
}

func TestBuildDSN_NoPragmasStillValid(t *testing.T) {
	dsn := buildDSN(":memory:", PragmaOptions{})
	require.Equal(t, "file::memory:?_pragma=foreign_keys(0)", dsn)
}
