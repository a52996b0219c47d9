// Package deployment implements the deployment state machine: the table of
// (state, event) -> (next-state, immediate|deferred) transitions described
// in SPEC_FULL.md §4.F, its companion tracking sub-machine, and the
// resume-on-restart dispatch.
package deployment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mendersoftware/mender-sub000/pkg/errkind"
	"github.com/mendersoftware/mender-sub000/pkg/metrics"
	"github.com/mendersoftware/mender-sub000/pkg/runner"
	"github.com/mendersoftware/mender-sub000/pkg/serverapi"
	"github.com/mendersoftware/mender-sub000/pkg/store"
)

// stateName is a node of the machine; only a subset carry a Phase save-token
// (see Phase in statedata.go).
type stateName string

const (
	stateIdle                 stateName = "Idle"
	statePollForDeployment    stateName = "PollForDeployment"
	stateDownload             stateName = "Download"
	stateArtifactInstall      stateName = "ArtifactInstall"
	stateCheckReboot          stateName = "CheckReboot"
	stateReboot               stateName = "Reboot"
	stateVerifyReboot         stateName = "VerifyReboot"
	stateBeforeCommit         stateName = "BeforeCommit"
	stateCommit               stateName = "Commit"
	stateAfterCommit          stateName = "AfterCommit"
	stateCheckRollback        stateName = "CheckRollback"
	stateRollback             stateName = "Rollback"
	stateRollbackReboot       stateName = "RollbackReboot"
	stateVerifyRollbackReboot stateName = "VerifyRollbackReboot"
	stateFailure              stateName = "Failure"
	stateSaveProvides         stateName = "SaveProvides"
	stateCleanup              stateName = "Cleanup"
	stateStateLoop            stateName = "StateLoop"
	stateSendFinalStatus      stateName = "SendFinalStatus"
	stateClearArtifactData    stateName = "ClearArtifactData"
	stateEndOfDeployment      stateName = "EndOfDeployment"
)

// Deps collects everything the machine needs from the rest of the system.
// Keeping them as narrow function/interface fields (rather than importing
// pkg/transport/pkg/resumer directly) keeps the machine itself a pure
// orchestrator of the table in SPEC_FULL.md §4.F; cmd/update-client wires
// the concrete implementations.
type Deps struct {
	Store    store.KVStore
	Runner   *runner.Runner
	Server   *serverapi.Client
	Tracking *Tracking
	Logs     *LogCollector
	Pause    PauseConfig
	Gate     *PauseGate
	WorkDir  string
	Logger   zerolog.Logger

	// ResolveModule returns the update-module binary path for a set of
	// payload types (they must all resolve to the same module).
	ResolveModule func(payloadTypes []string) (string, error)
	// FetchPayloads streams the artifact's payloads from the server
	// (§4.C resumable downloader) into []runner.PayloadFile readers.
	FetchPayloads func(ctx context.Context, sd *StateData) ([]runner.PayloadFile, error)
	// RebootSystem issues the platform reboot (e.g. "reboot" via
	// pkg/runner or a raw syscall); it is expected not to return on
	// success.
	RebootSystem func(ctx context.Context) error
}

// Machine drives a single deployment through the table in SPEC_FULL.md
// §4.F. It is not safe for concurrent use from more than one goroutine.
type Machine struct {
	deps Deps

	modulePath    string
	payloads      []runner.PayloadFile
	withFileSizes bool
}

// New builds a Machine from its dependencies.
func New(deps Deps) *Machine {
	return &Machine{deps: deps}
}

// handler is one state's action; it returns the next state to run, whether
// immediately or (conceptually) deferred -- in this single-goroutine port
// every transition runs immediately within Run's loop, since there is no
// cooperative scheduler boundary to cross (see SPEC_FULL.md Open Question 4).
type handler func(m *Machine, ctx context.Context, sd *StateData) (stateName, error)

var transitions = map[stateName]handler{
	statePollForDeployment:    (*Machine).handlePollForDeployment,
	stateDownload:             (*Machine).handleDownload,
	stateArtifactInstall:      (*Machine).handleArtifactInstall,
	stateCheckReboot:          (*Machine).handleCheckReboot,
	stateReboot:               (*Machine).handleReboot,
	stateVerifyReboot:         (*Machine).handleVerifyReboot,
	stateBeforeCommit:         (*Machine).handleBeforeCommit,
	stateCommit:               (*Machine).handleCommit,
	stateAfterCommit:          (*Machine).handleAfterCommit,
	stateCheckRollback:        (*Machine).handleCheckRollback,
	stateRollback:             (*Machine).handleRollback,
	stateRollbackReboot:       (*Machine).handleRollbackReboot,
	stateVerifyRollbackReboot: (*Machine).handleVerifyRollbackReboot,
	stateFailure:              (*Machine).handleFailure,
	stateSaveProvides:         (*Machine).handleSaveProvides,
	stateCleanup:              (*Machine).handleCleanup,
	stateStateLoop:            (*Machine).handleStateLoop,
	stateSendFinalStatus:      (*Machine).handleSendFinalStatus,
	stateClearArtifactData:    (*Machine).handleClearArtifactData,
}

// RunDeployment drives a freshly accepted deployment from PollForDeployment's
// successful branch (Download) through to Idle.
func (m *Machine) RunDeployment(ctx context.Context, sd *StateData) error {
	m.deps.Tracking.DeploymentStarted()
	m.deps.Logs.Reset()
	defer m.deps.Tracking.DeploymentEnded()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DeploymentDuration)
	return m.run(ctx, stateDownload, sd)
}

// Resume implements the startup dispatch table of SPEC_FULL.md §4.F: it
// loads any persisted StateData and, if present, resumes at the
// corresponding state instead of Idle.
func (m *Machine) Resume(ctx context.Context) error {
	raw, err := store.ReadStateData(m.deps.Store)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to read persisted state data: %w", err)
	}

	sd, err := UnmarshalStateData(raw)
	if err != nil {
		return err
	}

	next := resumeState(sd.Name)
	m.deps.Tracking.DeploymentStarted()
	defer m.deps.Tracking.DeploymentEnded()
	return m.run(ctx, next, sd)
}

// resumeState implements the table under "Resume logic" in SPEC_FULL.md
// §4.F.
func resumeState(name Phase) stateName {
	switch name {
	case PhaseDownload:
		return stateCleanup
	case PhaseArtifactReboot:
		return stateVerifyReboot
	case PhaseArtifactRollback:
		return stateRollback
	case PhaseArtifactRollbackReboot, PhaseArtifactVerifyRollbackReboot, PhaseVerifyRollbackReboot:
		return stateVerifyRollbackReboot
	case PhaseUpdateAfterFirstCommit:
		return stateAfterCommit
	case PhaseArtifactFailure:
		return stateFailure
	case PhaseCleanup:
		return stateCleanup
	default:
		return stateCheckRollback
	}
}

// run is the dispatch loop: it calls each state's handler in turn until
// reaching EndOfDeployment.
func (m *Machine) run(ctx context.Context, start stateName, sd *StateData) error {
	current := start
	for current != stateEndOfDeployment {
		h, ok := transitions[current]
		if !ok {
			return fmt.Errorf("%w: no handler registered for state %q", errkind.ErrProgrammingError, current)
		}
		next, err := h(m, ctx, sd)
		if err != nil {
			m.deps.Logger.Error().Err(err).Str("state", string(current)).Msg("deployment state failed")
		}
		current = next
	}
	return nil
}

// saveState persists sd with name=phase before running the rest of a
// save-state's action. Per SPEC_FULL.md §4.F: a write failure that the
// store reports as count-exceeded routes to StateLoop; any other write
// failure routes to Failure.
func (m *Machine) saveState(sd *StateData, phase Phase) (stateName, bool) {
	sd.Name = phase
	data, err := sd.Marshal()
	if err != nil {
		m.deps.Logger.Error().Err(err).Msg("failed to marshal state data")
		return stateFailure, false
	}
	if err := store.WriteStateData(m.deps.Store, data); err != nil {
		if store.IsCountExceeded(err) {
			metrics.StateLoopDetectedTotal.Inc()
			return stateStateLoop, false
		}
		return stateFailure, false
	}
	return "", true
}

func (m *Machine) handlePollForDeployment(ctx context.Context, sd *StateData) (stateName, error) {
	resp, err := m.deps.Server.PollNextDeployment(ctx, serverapi.NextDeploymentRequest{})
	if err != nil {
		return stateIdle, err
	}
	if resp.Empty {
		return stateIdle, nil
	}

	sd.UpdateInfo = UpdateInfo{
		ID: resp.ID,
		Artifact: Artifact{
			ArtifactName: resp.Artifact.ArtifactName,
		},
	}
	sd.UpdateInfo.Artifact.Source.URI = resp.Artifact.Source.URI
	return stateDownload, nil
}

func (m *Machine) handleDownload(ctx context.Context, sd *StateData) (stateName, error) {
	next, ok := m.saveState(sd, PhaseDownload)
	if !ok {
		return next, nil
	}
	_ = m.deps.Server.PushStatus(ctx, sd.UpdateInfo.ID, serverapi.StatusDownloading)

	modulePath, err := m.deps.ResolveModule(sd.UpdateInfo.Artifact.PayloadTypes)
	if err != nil {
		return stateCleanup, err
	}
	m.modulePath = modulePath

	// §4.D "Before downloading": ask the module whether it wants file
	// sizes on the Download FIFO protocol before fetching anything.
	withFileSizes := m.deps.Runner.ProvidePayloadFileSizes(ctx, modulePath, m.deps.WorkDir)

	payloads, err := m.deps.FetchPayloads(ctx, sd)
	if err != nil {
		return stateCleanup, err
	}
	m.payloads = payloads
	m.withFileSizes = withFileSizes

	if err := m.deps.Runner.Download(ctx, modulePath, m.deps.WorkDir, payloads, withFileSizes); err != nil {
		return stateCleanup, err
	}
	return stateArtifactInstall, nil
}

func (m *Machine) handleArtifactInstall(ctx context.Context, sd *StateData) (stateName, error) {
	if m.deps.Pause.Enabled(PauseBeforeInstalling) {
		_ = m.deps.Server.PushStatus(ctx, sd.UpdateInfo.ID, serverapi.StatusPauseBeforeInstalling)
		if m.deps.Gate != nil {
			if err := m.deps.Gate.Wait(ctx); err != nil {
				return stateCleanup, err
			}
		}
	}

	next, ok := m.saveState(sd, PhaseArtifactInstall)
	if !ok {
		return next, nil
	}
	_ = m.deps.Server.PushStatus(ctx, sd.UpdateInfo.ID, serverapi.StatusInstalling)

	if err := m.deps.Runner.Lifecycle(ctx, m.modulePath, "ArtifactInstall", m.deps.WorkDir); err != nil {
		return stateCheckRollback, err
	}
	return stateCheckReboot, nil
}

func (m *Machine) handleCheckReboot(ctx context.Context, sd *StateData) (stateName, error) {
	reboot, err := m.deps.Runner.NeedsArtifactReboot(ctx, m.modulePath, m.deps.WorkDir)
	if err != nil {
		return stateCheckRollback, err
	}
	sd.UpdateInfo.RebootRequested = append(sd.UpdateInfo.RebootRequested, reboot)
	if reboot == RebootNo {
		return stateBeforeCommit, nil
	}
	return stateReboot, nil
}

func (m *Machine) handleReboot(ctx context.Context, sd *StateData) (stateName, error) {
	if m.deps.Pause.Enabled(PauseBeforeRebooting) {
		_ = m.deps.Server.PushStatus(ctx, sd.UpdateInfo.ID, serverapi.StatusPauseBeforeRebooting)
		if m.deps.Gate != nil {
			if err := m.deps.Gate.Wait(ctx); err != nil {
				return stateCheckRollback, err
			}
		}
	}

	next, ok := m.saveState(sd, PhaseArtifactReboot)
	if !ok {
		return next, nil
	}
	_ = m.deps.Server.PushStatus(ctx, sd.UpdateInfo.ID, serverapi.StatusRebooting)

	if m.deps.RebootSystem != nil {
		if err := m.deps.RebootSystem(ctx); err != nil {
			return stateCheckRollback, err
		}
	}
	return stateVerifyReboot, nil
}

func (m *Machine) handleVerifyReboot(ctx context.Context, sd *StateData) (stateName, error) {
	next, ok := m.saveState(sd, PhaseArtifactVerifyReboot)
	if !ok {
		return next, nil
	}

	if err := m.deps.Runner.Lifecycle(ctx, m.modulePath, "ArtifactVerifyReboot", m.deps.WorkDir); err != nil {
		return stateCheckRollback, err
	}
	return stateBeforeCommit, nil
}

func (m *Machine) handleBeforeCommit(ctx context.Context, sd *StateData) (stateName, error) {
	if m.deps.Pause.Enabled(PauseBeforeCommitting) {
		_ = m.deps.Server.PushStatus(ctx, sd.UpdateInfo.ID, serverapi.StatusPauseBeforeCommitting)
		if m.deps.Gate != nil {
			if err := m.deps.Gate.Wait(ctx); err != nil {
				return stateCheckRollback, err
			}
		}
	}

	// §3 "Cached from update module": query once, before commit, so a
	// later failure can consult it without re-invoking the module.
	support, err := m.deps.Runner.SupportsRollback(ctx, m.modulePath, m.deps.WorkDir)
	if err != nil {
		return stateCheckRollback, err
	}
	sd.UpdateInfo.SupportsRollback = support
	return stateCommit, nil
}

func (m *Machine) handleCommit(ctx context.Context, sd *StateData) (stateName, error) {
	next, ok := m.saveState(sd, PhaseArtifactCommit)
	if !ok {
		return next, nil
	}
	_ = m.deps.Server.PushStatus(ctx, sd.UpdateInfo.ID, serverapi.StatusInstalling)

	if err := m.deps.Runner.Lifecycle(ctx, m.modulePath, "ArtifactCommit", m.deps.WorkDir); err != nil {
		return stateCheckRollback, err
	}
	return stateAfterCommit, nil
}

func (m *Machine) handleAfterCommit(ctx context.Context, sd *StateData) (stateName, error) {
	next, ok := m.saveState(sd, PhaseUpdateAfterFirstCommit)
	if !ok {
		return next, nil
	}

	if err := m.deps.Runner.Lifecycle(ctx, m.modulePath, "ArtifactCommit_Leave", m.deps.WorkDir); err != nil {
		return stateFailure, err
	}
	return stateSaveProvides, nil
}

func (m *Machine) handleCheckRollback(ctx context.Context, sd *StateData) (stateName, error) {
	m.deps.Tracking.Failure()

	support := sd.UpdateInfo.SupportsRollback
	if support == RollbackSupportUnknown {
		queried, err := m.deps.Runner.SupportsRollback(ctx, m.modulePath, m.deps.WorkDir)
		if err != nil {
			return stateFailure, err
		}
		support = queried
		sd.UpdateInfo.SupportsRollback = support
	}
	if support != RollbackSupported {
		return stateFailure, nil
	}
	m.deps.Tracking.RollbackStarted()
	return stateRollback, nil
}

func (m *Machine) handleRollback(ctx context.Context, sd *StateData) (stateName, error) {
	next, ok := m.saveState(sd, PhaseArtifactRollback)
	if !ok {
		return next, nil
	}

	if err := m.deps.Runner.Lifecycle(ctx, m.modulePath, "ArtifactRollback", m.deps.WorkDir); err != nil {
		m.deps.Tracking.Failure()
		return stateFailure, err
	}
	return stateRollbackReboot, nil
}

func (m *Machine) handleRollbackReboot(ctx context.Context, sd *StateData) (stateName, error) {
	next, ok := m.saveState(sd, PhaseArtifactRollbackReboot)
	if !ok {
		return next, nil
	}

	if m.deps.RebootSystem != nil {
		if err := m.deps.RebootSystem(ctx); err != nil {
			m.deps.Tracking.Failure()
			return stateFailure, err
		}
	}
	return stateVerifyRollbackReboot, nil
}

func (m *Machine) handleVerifyRollbackReboot(ctx context.Context, sd *StateData) (stateName, error) {
	next, ok := m.saveState(sd, PhaseVerifyRollbackReboot)
	if !ok {
		return next, nil
	}

	err := m.deps.Runner.Lifecycle(ctx, m.modulePath, "ArtifactVerifyRollbackReboot", m.deps.WorkDir)
	if err == nil {
		sd.UpdateInfo.AllRollbacksSuccessful = true
		return stateFailure, nil
	}
	m.deps.Tracking.Failure()
	return stateFailure, err
}

func (m *Machine) handleFailure(ctx context.Context, sd *StateData) (stateName, error) {
	next, ok := m.saveState(sd, PhaseArtifactFailure)
	if !ok {
		return next, nil
	}

	if err := m.deps.Runner.Lifecycle(ctx, m.modulePath, "ArtifactFailure", m.deps.WorkDir); err != nil {
		m.deps.Logger.Warn().Err(err).Msg("ArtifactFailure script reported an error")
	}
	return stateSaveProvides, nil
}

func (m *Machine) handleSaveProvides(ctx context.Context, sd *StateData) (stateName, error) {
	if m.deps.Tracking.RollbackFailed() {
		if err := store.MarkInconsistent(m.deps.Store); err != nil {
			m.deps.Logger.Error().Err(err).Msg("failed to mark artifact inconsistent")
		}
		return stateCleanup, nil
	}

	if m.deps.Tracking.Failed() {
		// The update did not take; leave the previously-committed
		// provides record untouched, only clear the in-flight state.
		if err := store.RemoveStateData(m.deps.Store); err != nil {
			m.deps.Logger.Error().Err(err).Msg("failed to clear state data after failed deployment")
		}
		return stateCleanup, nil
	}

	provides := sd.UpdateInfo.Artifact.TypeInfoProvides
	err := store.CommitProvides(
		m.deps.Store,
		sd.UpdateInfo.Artifact.ArtifactName,
		sd.UpdateInfo.Artifact.ArtifactGroup,
		provides,
		sd.UpdateInfo.Artifact.ClearsArtifactProvides,
	)
	if err != nil {
		m.deps.Logger.Error().Err(err).Msg("failed to commit provides")
	}
	return stateCleanup, nil
}

func (m *Machine) handleCleanup(ctx context.Context, sd *StateData) (stateName, error) {
	next, ok := m.saveState(sd, PhaseCleanup)
	if !ok {
		return next, nil
	}

	if m.modulePath != "" {
		if err := m.deps.Runner.Lifecycle(ctx, m.modulePath, "Cleanup", m.deps.WorkDir); err != nil {
			m.deps.Logger.Warn().Err(err).Msg("Cleanup script reported an error")
		}
	}
	return stateSendFinalStatus, nil
}

func (m *Machine) handleStateLoop(ctx context.Context, sd *StateData) (stateName, error) {
	if err := store.MarkInconsistent(m.deps.Store); err != nil {
		m.deps.Logger.Error().Err(err).Msg("failed to mark artifact inconsistent after state loop")
	}
	m.deps.Tracking.Failure()
	return stateCleanup, nil
}

func (m *Machine) handleSendFinalStatus(ctx context.Context, sd *StateData) (stateName, error) {
	status := serverapi.StatusSuccess
	if m.deps.Tracking.Failed() {
		status = serverapi.StatusFailure
	}
	metrics.DeploymentsTotal.WithLabelValues(string(status)).Inc()

	switch m.deps.Tracking.State() {
	case TrackingRollbackAttempted:
		metrics.RolledBackDeploymentsTotal.WithLabelValues("success").Inc()
	case TrackingRollbackFailed:
		metrics.RolledBackDeploymentsTotal.WithLabelValues("failure").Inc()
	}

	if err := m.deps.Server.PushStatus(ctx, sd.UpdateInfo.ID, status); err != nil {
		m.deps.Logger.Warn().Err(err).Msg("failed to push final status")
	}

	if status == serverapi.StatusFailure {
		if err := m.deps.Server.PushLog(ctx, sd.UpdateInfo.ID, m.deps.Logs.Lines()); err != nil {
			m.deps.Logger.Warn().Err(err).Msg("failed to push deployment log")
		}
	}
	return stateClearArtifactData, nil
}

func (m *Machine) handleClearArtifactData(ctx context.Context, sd *StateData) (stateName, error) {
	if err := store.RemoveStateData(m.deps.Store); err != nil {
		m.deps.Logger.Error().Err(err).Msg("failed to clear state data")
	}
	if err := store.ResetWriteCounter(m.deps.Store); err != nil {
		m.deps.Logger.Error().Err(err).Msg("failed to reset state data write counter")
	}
	return stateEndOfDeployment, nil
}
