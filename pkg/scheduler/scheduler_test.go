//go:build unix

package scheduler

import (
	"context"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func runLoop(t *testing.T) (*Loop, context.CancelFunc, *sync.WaitGroup) {
	t.Helper()
	l := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Run(ctx)
	}()
	return l, cancel, &wg
}

func TestLoopRunsPostedTasksInOrder(t *testing.T) {
	l, cancel, wg := runLoop(t)
	defer func() { cancel(); wg.Wait() }()

	var mu sync.Mutex
	var order []int
	var done sync.WaitGroup
	done.Add(3)

	for i := 0; i < 3; i++ {
		i := i
		l.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			done.Done()
		})
	}

	waitWithTimeout(t, &done, time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestLoopRecoversFromPanickingTask(t *testing.T) {
	l, cancel, wg := runLoop(t)
	defer func() { cancel(); wg.Wait() }()

	var done sync.WaitGroup
	done.Add(1)

	l.Post(func() { panic("boom") })
	l.Post(func() { done.Done() })

	waitWithTimeout(t, &done, time.Second)
}

func TestLoopStopReturnsRun(t *testing.T) {
	l := New(zerolog.Nop())
	stopped := make(chan struct{})
	go func() {
		l.Run(context.Background())
		close(stopped)
	}()

	l.Stop()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestLoopRunPanicsWhenAlreadyRunning(t *testing.T) {
	l, cancel, wg := runLoop(t)
	defer func() { cancel(); wg.Wait() }()

	require.Panics(t, func() { l.Run(context.Background()) })
}

func TestAsyncWaitFiresOnLoop(t *testing.T) {
	l, cancel, wg := runLoop(t)
	defer func() { cancel(); wg.Wait() }()

	fired := make(chan error, 1)
	l.AsyncWait(10*time.Millisecond, func(err error) { fired <- err })

	select {
	case err := <-fired:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestAsyncWaitCancelPreventsFire(t *testing.T) {
	l, cancel, wg := runLoop(t)
	defer func() { cancel(); wg.Wait() }()

	fired := make(chan error, 1)
	timer := l.AsyncWait(100*time.Millisecond, func(err error) { fired <- err })
	timer.Cancel()

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSignalHandlerDispatchesToLoop(t *testing.T) {
	l, cancel, wg := runLoop(t)
	defer func() { cancel(); wg.Wait() }()

	received := make(chan os.Signal, 1)
	h := l.NotifySignals(func(sig os.Signal) { received <- sig }, syscall.SIGUSR1)
	defer h.Close()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case sig := <-received:
		require.Equal(t, syscall.SIGUSR1, sig)
	case <-time.After(time.Second):
		t.Fatal("signal handler never dispatched")
	}
}

func waitWithTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for tasks to complete")
	}
}
