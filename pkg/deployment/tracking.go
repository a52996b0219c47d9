package deployment

// TrackingState is one of the deployment-tracking sub-machine's states
// (SPEC_FULL.md §4.F "deployment tracking"). It runs in lockstep with the
// main machine and records whether the deployment, and any attempted
// rollback, ultimately failed.
type TrackingState int

const (
	TrackingIdle TrackingState = iota
	TrackingNoFailures
	TrackingFailure
	TrackingRollbackAttempted
	TrackingRollbackFailed
)

// Tracking is the companion sub-machine the main deployment machine consults
// when deciding what to persist (SaveProvides) and what status to report
// (SendFinalStatus).
type Tracking struct {
	state TrackingState
}

// NewTracking returns a tracking machine in its idle state.
func NewTracking() *Tracking {
	return &Tracking{state: TrackingIdle}
}

// DeploymentStarted transitions Idle -> NoFailures.
func (t *Tracking) DeploymentStarted() {
	t.state = TrackingNoFailures
}

// Failure transitions NoFailures -> Failure, or RollbackAttempted ->
// RollbackFailed. Called whenever an action returns a Failure event.
func (t *Tracking) Failure() {
	switch t.state {
	case TrackingRollbackAttempted:
		t.state = TrackingRollbackFailed
	default:
		t.state = TrackingFailure
	}
}

// RollbackStarted transitions Failure -> RollbackAttempted.
func (t *Tracking) RollbackStarted() {
	t.state = TrackingRollbackAttempted
}

// DeploymentEnded resets to Idle from any state.
func (t *Tracking) DeploymentEnded() {
	t.state = TrackingIdle
}

// Failed reports whether the deployment ever failed.
func (t *Tracking) Failed() bool {
	return t.state == TrackingFailure || t.state == TrackingRollbackAttempted || t.state == TrackingRollbackFailed
}

// RollbackFailed reports whether a rollback was attempted and itself failed.
func (t *Tracking) RollbackFailed() bool {
	return t.state == TrackingRollbackFailed
}

// State returns the current tracking state, mainly for logging and tests.
func (t *Tracking) State() TrackingState {
	return t.state
}
