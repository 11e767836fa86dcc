package worker

import (
	"strings"

	"github.com/pkg/errors"
)

// Builtin is the only database/sql driver name this package registers
// connections against: modernc.org/sqlite, a pure-Go SQLite implementation
// that needs no cgo toolchain at build time.
const Builtin = "sqlite"

// ErrUnknownDriver is returned by NormalizeName for any driver name that
// does not resolve to Builtin.
var ErrUnknownDriver = errors.New("unknown sqlite driver")

// NormalizeName maps a configured driver name onto the driver this package
// actually knows how to open. A trailing "sqlite3" is rewritten to "sqlite",
// mirroring the naming convention of better-sqlite3-style bindings versus a
// builtin sqlite module; any other name fails with ErrUnknownDriver.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)

	switch {
	case name == "sqlite", name == "sqlite3":
		return Builtin, nil
	case strings.HasSuffix(name, "sqlite3"):
		return Builtin, nil
	case strings.HasSuffix(name, "sqlite"):
		return Builtin, nil
	default:
		return "", errors.Wrapf(ErrUnknownDriver, "%q", name)
	}
}
