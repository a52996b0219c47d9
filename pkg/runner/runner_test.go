//go:build unix

package runner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func newTestRunner(timeout time.Duration) *Runner {
	return New(timeout, zerolog.Nop())
}

func TestLifecycleSuccess(t *testing.T) {
	dir := t.TempDir()
	module := writeScript(t, dir, "module.sh", `exit 0`)
	r := newTestRunner(5 * time.Second)
	err := r.Lifecycle(context.Background(), module, "ArtifactInstall", dir)
	require.NoError(t, err)
}

func TestLifecycleNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	module := writeScript(t, dir, "module.sh", `echo "boom" >&2; exit 1`)
	r := newTestRunner(5 * time.Second)
	err := r.Lifecycle(context.Background(), module, "ArtifactInstall", dir)
	require.Error(t, err)
}

func TestLifecycleTimeout(t *testing.T) {
	dir := t.TempDir()
	module := writeScript(t, dir, "module.sh", `sleep 5`)
	r := newTestRunner(50 * time.Millisecond)
	err := r.Lifecycle(context.Background(), module, "ArtifactInstall", dir)
	require.Error(t, err)
}

func TestProvidePayloadFileSizesIgnoresFailure(t *testing.T) {
	dir := t.TempDir()
	module := writeScript(t, dir, "module.sh", `exit 1`)
	r := newTestRunner(5 * time.Second)
	require.False(t, r.ProvidePayloadFileSizes(context.Background(), module, dir))
}

func TestProvidePayloadFileSizesYes(t *testing.T) {
	dir := t.TempDir()
	module := writeScript(t, dir, "module.sh", `echo Yes`)
	r := newTestRunner(5 * time.Second)
	require.True(t, r.ProvidePayloadFileSizes(context.Background(), module, dir))
}

func TestSupportsRollbackProtocolError(t *testing.T) {
	dir := t.TempDir()
	module := writeScript(t, dir, "module.sh", `echo "Maybe"`)
	r := newTestRunner(5 * time.Second)
	_, err := r.SupportsRollback(context.Background(), module, dir)
	require.Error(t, err)
}

func TestNeedsArtifactRebootAutomatic(t *testing.T) {
	dir := t.TempDir()
	module := writeScript(t, dir, "module.sh", `echo Automatic`)
	r := newTestRunner(5 * time.Second)
	got, err := r.NeedsArtifactReboot(context.Background(), module, dir)
	require.NoError(t, err)
	require.Equal(t, "Automatic", string(got))
}

func TestDownloadConsumesFIFOStreams(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "streams"), 0700))

	module := writeScript(t, dir, "module.sh", `
cd "$2" || exit 1
read line < stream-next
path=$(echo "$line" | cut -d' ' -f1)
cat "$path" > /dev/null
read line < stream-next
exit 0
`)

	r := newTestRunner(5 * time.Second)
	payloads := []PayloadFile{
		{Name: "rootfs", Reader: bytes.NewReader([]byte("payload-bytes")), Size: 13},
	}
	err := r.Download(context.Background(), module, dir, payloads, false)
	require.NoError(t, err)
}

func TestDownloadReportsNonZeroExitDuringStream(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "streams"), 0700))

	module := writeScript(t, dir, "module.sh", `
cd "$2" || exit 1
read line < stream-next
exit 3
`)

	r := newTestRunner(5 * time.Second)
	payloads := []PayloadFile{
		{Name: "rootfs", Reader: bytes.NewReader([]byte("payload-bytes")), Size: 13},
	}
	err := r.Download(context.Background(), module, dir, payloads, false)
	require.Error(t, err)
}
