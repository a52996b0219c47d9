package deployment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPauseConfigEnabled(t *testing.T) {
	c := PauseConfig{BeforeCommitting: true}
	require.True(t, c.Enabled(PauseBeforeCommitting))
	require.False(t, c.Enabled(PauseBeforeInstalling))
	require.False(t, c.Enabled(PauseBeforeRebooting))
}

func TestPauseGateBlocksUntilResume(t *testing.T) {
	gate := NewPauseGate()
	done := make(chan error, 1)
	go func() {
		done <- gate.Wait(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Resume was called")
	case <-time.After(20 * time.Millisecond):
	}

	gate.Resume()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Resume")
	}

	// Resume is idempotent.
	gate.Resume()
}

func TestPauseGateRespectsContextCancellation(t *testing.T) {
	gate := NewPauseGate()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, gate.Wait(ctx), context.Canceled)
}
