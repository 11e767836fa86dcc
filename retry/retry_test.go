package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/s-p-n/spn-sqlite/backoff"
	"github.com/stretchr/testify/require"
)

var errLocked = errors.New("database is locked")

func isLocked(err error) bool {
	return errors.Is(err, errLocked)
}

func TestWithBackoff_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := WithBackoff(
		context.Background(),
		func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errLocked
			}
			return nil
		},
		Retryable(isLocked),
		backoff.NewExponentialWithJitter(time.Millisecond, 10*time.Millisecond),
		Settings{},
	)
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestWithBackoff_NonRetryableFailsImmediately(t *testing.T) {
	attempts := 0
	err := WithBackoff(
		context.Background(),
		func(context.Context) error {
			attempts++
			return errors.New("constraint violation")
		},
		Retryable(isLocked),
		backoff.NewExponentialWithJitter(time.Millisecond, 10*time.Millisecond),
		Settings{},
	)
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestWithBackoff_TimesOut(t *testing.T) {
	attempts := 0
	err := WithBackoff(
		context.Background(),
		func(context.Context) error {
			attempts++
			return errLocked
		},
		Retryable(isLocked),
		backoff.NewExponentialWithJitter(time.Millisecond, 5*time.Millisecond),
		Settings{Timeout: 20 * time.Millisecond},
	)
	require.Error(t, err)
	require.Greater(t, attempts, 0)
}

func TestWithBackoff_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithBackoff(
		ctx,
		func(context.Context) error { return errLocked },
		Retryable(isLocked),
		backoff.DefaultBackoff,
		Settings{},
	)
	require.ErrorIs(t, err, context.Canceled)
}
