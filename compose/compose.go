// Package compose turns a sequence of literal SQL fragments and interleaved
// bindable values into a single parameterized statement.
//
// It is the only part of this module that ever looks at the shape of a
// query. It does not look inside the values themselves: those are carried
// out of band and bound positionally by the worker, which is what keeps
// fragment/value composition immune to SQL injection regardless of what the
// values contain.
package compose

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidQuery is returned when the number of fragments and values supplied
// to Compose are inconsistent with each other.
var ErrInvalidQuery = errors.New("invalid query")

// Compose joins fragments with "?" placeholders between them and returns the
// resulting SQL text alongside the values in the order they were given.
//
// len(fragments) must equal len(values)+1. Compose never inspects values; it
// only counts them.
func Compose(fragments []string, values []any) (string, []any, error) {
	if len(fragments) == 0 {
		return "", nil, errors.Wrap(ErrInvalidQuery, "fragments must not be empty")
	}

	if len(fragments)-1 != len(values) {
		return "", nil, errors.Wrapf(
			ErrInvalidQuery,
			"expected %d values for %d fragments, got %d",
			len(fragments)-1, len(fragments), len(values),
		)
	}

	if len(values) == 0 {
		return strings.Join(fragments, ""), []any{}, nil
	}

	var b strings.Builder
	b.WriteString(fragments[0])
	for _, f := range fragments[1:] {
		b.WriteByte('?')
		b.WriteString(f)
	}

	return b.String(), values, nil
}

// ComposeOne is the single-fragment fast path: a literal string with no
// placeholders and no values, returned verbatim.
func ComposeOne(sql string) (string, []any) {
	return sql, []any{}
}
