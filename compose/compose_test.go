package compose

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompose(t *testing.T) {
	t.Run("interleaves placeholders", func(t *testing.T) {
		sql, values, err := Compose([]string{"SELECT * FROM t WHERE a = ", " AND b = ", ""}, []any{1, "x"})
		require.NoError(t, err)
		require.Equal(t, "SELECT * FROM t WHERE a = ? AND b = ?", sql)
		require.Equal(t, []any{1, "x"}, values)
	})

	t.Run("fast path with no values", func(t *testing.T) {
		sql, values, err := Compose([]string{"SELECT 1"}, nil)
		require.NoError(t, err)
		require.Equal(t, "SELECT 1", sql)
		require.Equal(t, []any{}, values)
	})

	t.Run("round trip law", func(t *testing.T) {
		sql, values, err := Compose([]string{"X", ""}, []any{42})
		require.NoError(t, err)
		require.Equal(t, "X?", sql)
		require.Equal(t, []any{42}, values)
	})

	t.Run("empty fragments fail", func(t *testing.T) {
		_, _, err := Compose(nil, nil)
		require.ErrorIs(t, err, ErrInvalidQuery)
	})

	t.Run("arity mismatch fails", func(t *testing.T) {
		_, _, err := Compose([]string{"a", "b"}, []any{1, 2})
		require.ErrorIs(t, err, ErrInvalidQuery)
	})
}

func TestComposeOne(t *testing.T) {
	sql, values := ComposeOne("SELECT * FROM t")
	require.Equal(t, "SELECT * FROM t", sql)
	require.Empty(t, values)
}
