//go:build unix

package deployment

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mendersoftware/mender-sub000/pkg/runner"
	"github.com/mendersoftware/mender-sub000/pkg/serverapi"
	"github.com/mendersoftware/mender-sub000/pkg/store"
)

type fakeServerDoer struct{}

func (fakeServerDoer) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return &http.Response{StatusCode: http.StatusNoContent, Body: http.NoBody}, nil
}

func writeModuleScript(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "module.sh")
	body := `#!/bin/sh
cmd=$1
workdir=$2
cd "$workdir" || exit 1
case "$cmd" in
  Download|DownloadWithFileSizes)
    read line < stream-next
    exit 0
    ;;
  NeedsArtifactReboot)
    echo No
    exit 0
    ;;
  SupportsRollback)
    echo No
    exit 0
    ;;
  *)
    exit 0
    ;;
esac
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
	return path
}

func newTestMachine(t *testing.T) (*Machine, *store.BoltStore, string) {
	t.Helper()
	dataDir := t.TempDir()
	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "streams"), 0700))

	s, err := store.Open(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	modulePath := writeModuleScript(t, t.TempDir())

	deps := Deps{
		Store:    s,
		Runner:   runner.New(5*time.Second, zerolog.Nop()),
		Server:   serverapi.New("https://example.test", fakeServerDoer{}, zerolog.Nop()),
		Tracking: NewTracking(),
		Logs:     NewLogCollector(0),
		WorkDir:  workDir,
		Logger:   zerolog.Nop(),
		ResolveModule: func(payloadTypes []string) (string, error) {
			return modulePath, nil
		},
		FetchPayloads: func(ctx context.Context, sd *StateData) ([]runner.PayloadFile, error) {
			return nil, nil
		},
	}

	return New(deps), s, workDir
}

func TestRunDeploymentHappyPath(t *testing.T) {
	m, s, _ := newTestMachine(t)

	sd := &StateData{Version: StateDataVersion, UpdateInfo: UpdateInfo{ID: "dep-1"}}
	err := m.RunDeployment(context.Background(), sd)
	require.NoError(t, err)

	_, err = store.ReadStateData(s)
	require.True(t, store.IsNotFound(err))
}

func TestResumeFromDownloadGoesToCleanup(t *testing.T) {
	m, s, _ := newTestMachine(t)

	sd := &StateData{Version: StateDataVersion, Name: PhaseDownload, UpdateInfo: UpdateInfo{ID: "dep-2"}}
	data, err := sd.Marshal()
	require.NoError(t, err)
	require.NoError(t, store.WriteStateData(s, data))

	err = m.Resume(context.Background())
	require.NoError(t, err)

	_, err = store.ReadStateData(s)
	require.True(t, store.IsNotFound(err))
}

func TestRunDeploymentInstallFailureRollsBack(t *testing.T) {
	m, s, _ := newTestMachine(t)

	failing := filepath.Join(t.TempDir(), "module.sh")
	require.NoError(t, os.WriteFile(failing, []byte(`#!/bin/sh
cmd=$1
workdir=$2
cd "$workdir" || exit 1
case "$cmd" in
  Download|DownloadWithFileSizes)
    read line < stream-next
    exit 0
    ;;
  ArtifactInstall)
    exit 1
    ;;
  SupportsRollback)
    echo Yes
    exit 0
    ;;
  *)
    exit 0
    ;;
esac
`), 0755))
	m.deps.ResolveModule = func(payloadTypes []string) (string, error) { return failing, nil }

	sd := &StateData{Version: StateDataVersion, UpdateInfo: UpdateInfo{ID: "dep-3"}}
	err := m.RunDeployment(context.Background(), sd)
	require.NoError(t, err)
	// RunDeployment's deferred DeploymentEnded resets tracking once the run ends.
	require.Equal(t, TrackingIdle, m.deps.Tracking.State())

	_, err = store.ReadStateData(s)
	require.True(t, store.IsNotFound(err))
}
