package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewExponentialWithJitter(t *testing.T) {
	b := NewExponentialWithJitter(2*time.Millisecond, 250*time.Millisecond)

	for attempt := uint64(0); attempt < 20; attempt++ {
		d := b(attempt)
		require.GreaterOrEqual(t, d, 2*time.Millisecond)
		require.LessOrEqual(t, d, 250*time.Millisecond)
	}
}

func TestNewExponentialWithJitter_PanicsOnInvalidRange(t *testing.T) {
	require.Panics(t, func() {
		NewExponentialWithJitter(time.Second, time.Millisecond)
	})
}

func TestDefaultBackoff(t *testing.T) {
	d := DefaultBackoff(1)
	require.GreaterOrEqual(t, d, 2*time.Millisecond)
	require.LessOrEqual(t, d, 250*time.Millisecond)
}
