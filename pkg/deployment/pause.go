package deployment

import "context"

// PausePoint names a point in the deployment machine where the original
// standalone/daemon client can hold for manual operator confirmation
// (SPEC_FULL.md §3 supplemented feature, grounded on
// mender-update/standalone/standalone.cpp's pause states).
type PausePoint string

const (
	PauseBeforeInstalling PausePoint = "pause-before-installing"
	PauseBeforeCommitting PausePoint = "pause-before-committing"
	PauseBeforeRebooting  PausePoint = "pause-before-rebooting"
)

// PauseConfig is the boolean-per-pause-point policy knob: which points, if
// any, the machine should hold at before proceeding.
type PauseConfig struct {
	BeforeInstalling bool
	BeforeCommitting bool
	BeforeRebooting  bool
}

// Enabled reports whether the given pause point is armed.
func (c PauseConfig) Enabled(point PausePoint) bool {
	switch point {
	case PauseBeforeInstalling:
		return c.BeforeInstalling
	case PauseBeforeCommitting:
		return c.BeforeCommitting
	case PauseBeforeRebooting:
		return c.BeforeRebooting
	default:
		return false
	}
}

// statusToken maps a pause point onto the status value pushed to the server
// while the machine holds there (serverapi.Status values, mirrored here as
// plain strings to avoid an import cycle; the caller converts).
func (p PausePoint) statusToken() string {
	return string(p)
}

// PauseGate blocks the machine at a pause point until released, either by an
// operator (daemon mode, "resume" signalled some other way) or by the
// standalone CLI's own "resume" sub-command re-invoking the process with the
// hold already cleared. The daemon case is the one PauseGate itself serves:
// Resume is called from a separate goroutine (e.g. a signal handler or a
// future control API) while Wait blocks the machine loop.
type PauseGate struct {
	resume chan struct{}
}

// NewPauseGate returns a gate that has not yet been released.
func NewPauseGate() *PauseGate {
	return &PauseGate{resume: make(chan struct{})}
}

// Wait blocks until Resume is called or ctx is cancelled.
func (g *PauseGate) Wait(ctx context.Context) error {
	select {
	case <-g.resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume releases the gate. Safe to call more than once.
func (g *PauseGate) Resume() {
	select {
	case <-g.resume:
	default:
		close(g.resume)
	}
}
