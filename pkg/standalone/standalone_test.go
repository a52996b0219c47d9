//go:build unix

package standalone

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mendersoftware/mender-sub000/pkg/artifact"
	"github.com/mendersoftware/mender-sub000/pkg/deployment"
	"github.com/mendersoftware/mender-sub000/pkg/runner"
	"github.com/mendersoftware/mender-sub000/pkg/store"
)

func writeModule(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "module.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func newTestRunner(t *testing.T, modulePath string) (*Runner, store.KVStore) {
	t.Helper()
	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "streams"), 0700))

	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return &Runner{
		Store:      s,
		ModuleRun:  runner.New(5*time.Second, zerolog.Nop()),
		ResolveMod: func(payloadTypes []string) (string, error) { return modulePath, nil },
		WorkDir:    workDir,
		Logger:     zerolog.Nop(),
	}, s
}

const okModuleScript = `
cmd=$1
workdir=$2
cd "$workdir" || exit 1
case "$cmd" in
  Download|DownloadWithFileSizes)
    read line < stream-next
    exit 0
    ;;
  *)
    exit 0
    ;;
esac
`

func TestInstallThenCommit(t *testing.T) {
	modulePath := writeModule(t, okModuleScript)
	r, s := newTestRunner(t, modulePath)

	hdr := &artifact.InMemoryHeader{Name: "release-v1", Types: []string{"rootfs-image"}}
	err := r.Install(context.Background(), hdr, nil)
	require.NoError(t, err)

	_, err = store.ReadStateData(s)
	require.NoError(t, err)

	require.NoError(t, r.Commit(context.Background()))

	_, err = store.ReadStateData(s)
	require.True(t, store.IsNotFound(err))

	provides, err := store.ReadProvides(s)
	require.NoError(t, err)
	require.Equal(t, "release-v1", provides.ArtifactName)
}

func TestInstallThenRollback(t *testing.T) {
	modulePath := writeModule(t, okModuleScript)
	r, s := newTestRunner(t, modulePath)

	hdr := &artifact.InMemoryHeader{Name: "release-v1", Types: []string{"rootfs-image"}}
	require.NoError(t, r.Install(context.Background(), hdr, nil))
	require.NoError(t, r.Rollback(context.Background()))

	_, err := store.ReadStateData(s)
	require.True(t, store.IsNotFound(err))
}

func TestCommitWithoutInstallFails(t *testing.T) {
	modulePath := writeModule(t, okModuleScript)
	r, _ := newTestRunner(t, modulePath)

	err := r.Commit(context.Background())
	require.Error(t, err)
}

func TestInstallTwiceFails(t *testing.T) {
	modulePath := writeModule(t, okModuleScript)
	r, _ := newTestRunner(t, modulePath)

	hdr := &artifact.InMemoryHeader{Name: "release-v1", Types: []string{"rootfs-image"}}
	require.NoError(t, r.Install(context.Background(), hdr, nil))
	err := r.Install(context.Background(), hdr, nil)
	require.Error(t, err)
}

func TestResumeFromDownloadClearsState(t *testing.T) {
	modulePath := writeModule(t, okModuleScript)
	r, s := newTestRunner(t, modulePath)

	// Simulate a crash mid-Download by writing the StateData directly
	// without completing the rest of Install.
	sd := &deployment.StateData{
		Version: deployment.StateDataVersion,
		Name:    deployment.PhaseDownload,
		UpdateInfo: deployment.UpdateInfo{
			Artifact: deployment.Artifact{ArtifactName: "release-v1", PayloadTypes: []string{"rootfs-image"}},
		},
	}
	require.NoError(t, r.save(sd))

	require.NoError(t, r.Resume(context.Background()))

	_, err := store.ReadStateData(s)
	require.True(t, store.IsNotFound(err))
}
