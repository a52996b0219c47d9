// Package standalone implements the CLI-driven variant of the deployment
// machine: install/commit/rollback/resume invoked one at a time from
// separate process invocations, sharing the daemon's StateData layout so
// that, e.g., a crash between install and commit resumes correctly on the
// next invocation (SPEC_FULL.md §4.F "Standalone mode").
package standalone

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mendersoftware/mender-sub000/pkg/artifact"
	"github.com/mendersoftware/mender-sub000/pkg/deployment"
	"github.com/mendersoftware/mender-sub000/pkg/errkind"
	"github.com/mendersoftware/mender-sub000/pkg/runner"
	"github.com/mendersoftware/mender-sub000/pkg/store"
)

// Runner drives one standalone sub-command at a time against the shared
// on-disk state.
type Runner struct {
	Store      store.KVStore
	ModuleRun  *runner.Runner
	ResolveMod func(payloadTypes []string) (string, error)
	WorkDir    string
	Logger     zerolog.Logger
}

// Install downloads and installs an artifact, stopping after
// ArtifactInstall -- standalone mode never auto-commits or auto-reboots;
// the operator runs Commit (or Rollback) explicitly next.
func (r *Runner) Install(ctx context.Context, hdr artifact.Header, payloads []runner.PayloadFile) error {
	if _, err := store.ReadStateData(r.Store); err == nil {
		return fmt.Errorf("%w: a deployment is already in progress; run commit or rollback first", errkind.ErrProtocolError)
	}

	modulePath, err := r.ResolveMod(hdr.PayloadTypes())
	if err != nil {
		return err
	}
	withFileSizes := r.ModuleRun.ProvidePayloadFileSizes(ctx, modulePath, r.WorkDir)

	sd := &deployment.StateData{
		Version: deployment.StateDataVersion,
		Name:    deployment.PhaseDownload,
		UpdateInfo: deployment.UpdateInfo{
			Artifact: deployment.Artifact{
				ArtifactName:           hdr.ArtifactName(),
				ArtifactGroup:          hdr.ArtifactGroup(),
				PayloadTypes:           hdr.PayloadTypes(),
				TypeInfoProvides:       hdr.TypeInfoProvides(),
				ClearsArtifactProvides: hdr.ClearsArtifactProvides(),
			},
		},
	}
	if err := r.save(sd); err != nil {
		return err
	}

	if err := r.ModuleRun.Download(ctx, modulePath, r.WorkDir, payloads, withFileSizes); err != nil {
		return err
	}

	sd.Name = deployment.PhaseArtifactInstall
	if err := r.save(sd); err != nil {
		return err
	}
	if err := r.ModuleRun.Lifecycle(ctx, modulePath, "ArtifactInstall", r.WorkDir); err != nil {
		return fmt.Errorf("install failed, run rollback: %w", err)
	}
	return nil
}

// Commit runs ArtifactCommit and ArtifactCommit_Leave, then records the new
// Provides and clears StateData. The caller must have previously run
// Install (or be resuming one).
func (r *Runner) Commit(ctx context.Context) error {
	sd, err := r.load()
	if err != nil {
		return err
	}

	modulePath, err := r.ResolveMod(sd.UpdateInfo.Artifact.PayloadTypes)
	if err != nil {
		return err
	}

	sd.Name = deployment.PhaseArtifactCommit
	if err := r.save(sd); err != nil {
		return err
	}
	if err := r.ModuleRun.Lifecycle(ctx, modulePath, "ArtifactCommit", r.WorkDir); err != nil {
		return fmt.Errorf("commit failed, run rollback: %w", err)
	}

	sd.Name = deployment.PhaseUpdateAfterFirstCommit
	if err := r.save(sd); err != nil {
		return err
	}
	if err := r.ModuleRun.Lifecycle(ctx, modulePath, "ArtifactCommit_Leave", r.WorkDir); err != nil {
		return err
	}

	err = store.CommitProvides(
		r.Store,
		sd.UpdateInfo.Artifact.ArtifactName,
		sd.UpdateInfo.Artifact.ArtifactGroup,
		sd.UpdateInfo.Artifact.TypeInfoProvides,
		sd.UpdateInfo.Artifact.ClearsArtifactProvides,
	)
	if err != nil {
		return fmt.Errorf("failed to commit provides: %w", err)
	}
	return r.cleanup(ctx, modulePath)
}

// Rollback runs ArtifactRollback and then Cleanup, clearing StateData and
// leaving the Provides record untouched. If ArtifactRollback fails, the
// artifact is marked inconsistent and the error is returned. No rollback
// reboot is queried or run.
func (r *Runner) Rollback(ctx context.Context) error {
	sd, err := r.load()
	if err != nil {
		return err
	}

	modulePath, err := r.ResolveMod(sd.UpdateInfo.Artifact.PayloadTypes)
	if err != nil {
		return err
	}

	sd.Name = deployment.PhaseArtifactRollback
	if err := r.save(sd); err != nil {
		return err
	}
	if err := r.ModuleRun.Lifecycle(ctx, modulePath, "ArtifactRollback", r.WorkDir); err != nil {
		if mErr := store.MarkInconsistent(r.Store); mErr != nil {
			r.Logger.Warn().Err(mErr).Msg("failed to mark artifact inconsistent after failed rollback")
		}
		return err
	}
	return r.cleanup(ctx, modulePath)
}

// Resume re-dispatches a partially-completed standalone deployment based on
// its persisted phase: Download clears StateData, ArtifactInstall is refused
// (run commit or rollback), ArtifactCommit and UpdateAfterFirstCommit re-run
// Commit, and ArtifactRollback re-runs Rollback.
func (r *Runner) Resume(ctx context.Context) error {
	sd, err := r.load()
	if err != nil {
		return err
	}

	switch sd.Name {
	case deployment.PhaseDownload:
		return store.RemoveStateData(r.Store)
	case deployment.PhaseArtifactInstall:
		return fmt.Errorf("%w: install left off partway; run commit or rollback", errkind.ErrProtocolError)
	case deployment.PhaseArtifactCommit, deployment.PhaseUpdateAfterFirstCommit:
		return r.Commit(ctx)
	case deployment.PhaseArtifactRollback:
		return r.Rollback(ctx)
	default:
		return fmt.Errorf("%w: cannot resume from state %q", errkind.ErrProtocolError, sd.Name)
	}
}

func (r *Runner) cleanup(ctx context.Context, modulePath string) error {
	if err := r.ModuleRun.Lifecycle(ctx, modulePath, "Cleanup", r.WorkDir); err != nil {
		r.Logger.Warn().Err(err).Msg("Cleanup script reported an error")
	}
	return store.RemoveStateData(r.Store)
}

func (r *Runner) save(sd *deployment.StateData) error {
	data, err := sd.Marshal()
	if err != nil {
		return err
	}
	return store.WriteStateData(r.Store, data)
}

func (r *Runner) load() (*deployment.StateData, error) {
	raw, err := store.ReadStateData(r.Store)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, fmt.Errorf("%w: no deployment in progress", errkind.ErrProtocolError)
		}
		return nil, err
	}
	return deployment.UnmarshalStateData(raw)
}
