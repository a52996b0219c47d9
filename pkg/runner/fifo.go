//go:build unix

package runner

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/mendersoftware/mender-sub000/pkg/errkind"
)

// fifoOpenPollInterval is how often openFIFOForWrite retries a non-blocking
// open while waiting for the module to open its end for reading. This plays
// the role of SPEC_FULL.md §4.G's "async FIFO opener": opening a FIFO for
// write blocks the kernel until a reader attaches, so we poll with
// O_NONBLOCK instead of blocking the calling goroutine indefinitely.
const fifoOpenPollInterval = 20 * time.Millisecond

// makeFIFO creates a named pipe at path. No example repository or ecosystem
// library wraps mkfifo(2); this is unavoidable direct syscall use (see
// DESIGN.md).
func makeFIFO(path string) error {
	if err := syscall.Mkfifo(path, 0600); err != nil {
		return fmt.Errorf("%w: failed to create fifo %s: %v", errkind.ErrIO, path, err)
	}
	return nil
}

// errModuleExitedBeforeOpen is returned by openFIFOForWrite when the module
// process exits before ever opening its end of the pipe. The caller uses
// this to distinguish "module doesn't consume this stream" (fall back to
// files/<name>) from a genuine timeout or I/O failure.
var errModuleExitedBeforeOpen = fmt.Errorf("module exited before opening fifo")

// openFIFOForWrite opens path for writing without blocking the whole
// process on the open(2) call: it retries a non-blocking open until the
// reader attaches, the module process exits, or ctx is done. A reader that
// never attaches before ctx's deadline surfaces as errkind.ErrBrokenPipe,
// matching the runner's "broken-pipe after timeout" requirement; a reader
// that never attaches because the module already exited surfaces as
// errModuleExitedBeforeOpen so the caller can fall back to plain files.
func openFIFOForWrite(ctx context.Context, exited <-chan struct{}, path string) (*os.File, error) {
	for {
		fd, err := syscall.Open(path, syscall.O_WRONLY|syscall.O_NONBLOCK, 0)
		if err == nil {
			// Re-open blocking so subsequent writes behave normally (the
			// backpressure semantics the spec wants come from the writer
			// blocking on a full pipe, not from O_NONBLOCK).
			syscall.SetNonblock(fd, false)
			return os.NewFile(uintptr(fd), path), nil
		}
		if err != syscall.ENXIO {
			return nil, fmt.Errorf("%w: failed to open fifo %s: %v", errkind.ErrIO, path, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: timed out waiting for module to open %s", errkind.ErrBrokenPipe, path)
		case <-exited:
			return nil, errModuleExitedBeforeOpen
		case <-time.After(fifoOpenPollInterval):
		}
	}
}
