package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRunWithTimeout(t *testing.T) {
	err := RunWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return errors.New("deadline never fired")
		}
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	err = RunWithTimeout(context.Background(), time.Second, func(_ context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestRecoverPanic(t *testing.T) {
	logger := zerolog.Nop()

	require.NotPanics(t, func() {
		defer RecoverPanic(&logger, "test operation")
		panic("boom")
	})
}

func TestWaitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Wait(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, Wait(context.Background(), 0))
}
