package serverapi

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBackoffPolicyNextInterval(t *testing.T) {
	p := BackoffPolicy{BaseInterval: time.Second, Ceiling: 16 * time.Second, RetryCount: 10}

	require.Equal(t, time.Second, p.NextInterval(0))
	require.Equal(t, 2*time.Second, p.NextInterval(1))
	require.Equal(t, 4*time.Second, p.NextInterval(2))
	require.Equal(t, 8*time.Second, p.NextInterval(3))
	require.Equal(t, 16*time.Second, p.NextInterval(4))
	require.Equal(t, 16*time.Second, p.NextInterval(20))
}

func TestPollerRunRetriesAndResets(t *testing.T) {
	var calls int32
	poller := &Poller{
		Policy: BackoffPolicy{BaseInterval: time.Millisecond, Ceiling: 5 * time.Millisecond, RetryCount: 5},
		Logger: zerolog.Nop(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	poller.Run(ctx, func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n%2 == 0 {
			return errors.New("simulated poll failure")
		}
		return nil
	})

	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	poller := &Poller{
		Policy: BackoffPolicy{BaseInterval: time.Millisecond, Ceiling: time.Millisecond, RetryCount: 1},
		Logger: zerolog.Nop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx, func(ctx context.Context) error { return nil })
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poller.Run did not return after context cancellation")
	}
}
