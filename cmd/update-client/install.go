package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mendersoftware/mender-sub000/pkg/artifact"
	"github.com/mendersoftware/mender-sub000/pkg/log"
	"github.com/mendersoftware/mender-sub000/pkg/resumer"
	"github.com/mendersoftware/mender-sub000/pkg/runner"
	"github.com/mendersoftware/mender-sub000/pkg/standalone"
)

var installCmd = &cobra.Command{
	Use:   "install <artifact-name> <payload-type> <source-url>",
	Short: "Download and install an artifact, stopping before commit",
	Long: `Install downloads the named payload from source-url and runs
ArtifactInstall, then stops -- standalone mode never auto-commits or
auto-reboots. Run "commit" or "rollback" next.`,
	Args: cobra.ExactArgs(3),
	RunE: runInstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
	artifactName, payloadType, sourceURL := args[0], args[1], args[2]

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	workDir := filepath.Join(e.workDir(), "standalone")
	if err := os.MkdirAll(workDir, 0700); err != nil {
		return err
	}

	t, err := e.newTransport()
	if err != nil {
		return err
	}
	downloader := resumer.New(t, resumer.DefaultBackoff)

	req, err := http.NewRequest(http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build artifact download request: %w", err)
	}

	resp, err := downloader.Get(cmd.Context(), req)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return fmt.Errorf("artifact download returned status %d", resp.StatusCode)
	}

	r := &standalone.Runner{
		Store:      e.store,
		ModuleRun:  e.newModuleRunner(),
		ResolveMod: e.resolveModule,
		WorkDir:    workDir,
		Logger:     log.WithComponent("standalone"),
	}

	hdr := &artifact.InMemoryHeader{
		Name:  artifactName,
		Types: []string{payloadType},
	}
	payloads := []runner.PayloadFile{{
		Name:   payloadType,
		Reader: &autoCloseReader{rc: resp.Body},
		Size:   resp.ContentLength,
	}}

	return r.Install(cmd.Context(), hdr, payloads)
}
