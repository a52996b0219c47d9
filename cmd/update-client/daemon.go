package main

import (
	"context"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mendersoftware/mender-sub000/pkg/deployment"
	"github.com/mendersoftware/mender-sub000/pkg/log"
	"github.com/mendersoftware/mender-sub000/pkg/metrics"
	"github.com/mendersoftware/mender-sub000/pkg/resumer"
	"github.com/mendersoftware/mender-sub000/pkg/scheduler"
	"github.com/mendersoftware/mender-sub000/pkg/serverapi"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the update client daemon: poll the server and drive deployments",
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().Bool("pause-before-installing", false, "Hold before ArtifactInstall until resumed")
	daemonCmd.Flags().Bool("pause-before-committing", false, "Hold before Commit until resumed")
	daemonCmd.Flags().Bool("pause-before-rebooting", false, "Hold before Reboot until resumed")
	daemonCmd.Flags().String("metrics-addr", "", "Address to serve /metrics, /health, /ready and /live on (disabled if empty)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	workDir := filepath.Join(e.workDir(), "current")
	if err := os.MkdirAll(workDir, 0700); err != nil {
		return err
	}

	t, err := e.newTransport()
	if err != nil {
		return err
	}
	server := e.newServerClient(t)
	downloader := resumer.New(t, resumer.DefaultBackoff)

	pauseBeforeInstalling, _ := cmd.Flags().GetBool("pause-before-installing")
	pauseBeforeCommitting, _ := cmd.Flags().GetBool("pause-before-committing")
	pauseBeforeRebooting, _ := cmd.Flags().GetBool("pause-before-rebooting")

	deps := deployment.Deps{
		Store:    e.store,
		Runner:   e.newModuleRunner(),
		Server:   server,
		Tracking: deployment.NewTracking(),
		Logs:     deployment.NewLogCollector(0),
		Pause: deployment.PauseConfig{
			BeforeInstalling: e.cfg.PauseBeforeInstalling || pauseBeforeInstalling,
			BeforeCommitting: e.cfg.PauseBeforeCommitting || pauseBeforeCommitting,
			BeforeRebooting:  e.cfg.PauseBeforeRebooting || pauseBeforeRebooting,
		},
		Gate:          deployment.NewPauseGate(),
		WorkDir:       workDir,
		Logger:        log.WithComponent("deployment"),
		ResolveModule: e.resolveModule,
		FetchPayloads: fetchPayloads(downloader),
		RebootSystem:  rebootSystem,
	}
	machine := deployment.New(deps)

	loop := scheduler.New(log.WithComponent("scheduler"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := loop.NotifySignals(func(s os.Signal) {
		deps.Logger.Info().Str("signal", s.String()).Msg("received signal, shutting down")
		cancel()
		loop.Stop()
	}, syscall.SIGINT, syscall.SIGTERM)
	defer sig.Close()

	loop.Post(func() {
		if err := machine.Resume(ctx); err != nil {
			deps.Logger.Error().Err(err).Msg("failed to resume in-flight deployment")
		}
	})

	deviceType, err := e.deviceType()
	if err != nil {
		deps.Logger.Warn().Err(err).Msg("failed to read device_type, polling without it")
	}

	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("server", true, "")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	serveMetrics(ctx, metricsAddr, log.WithComponent("metrics"))

	inventorySent := false

	deploymentPoller := &serverapi.Poller{
		Policy: serverapi.BackoffPolicy{
			BaseInterval: e.cfg.UpdatePollInterval(),
			Ceiling:      e.cfg.RetryPollInterval(),
			RetryCount:   e.cfg.RetryPollCount,
		},
		Logger: log.WithComponent("deployment-poll"),
	}

	go func() {
		deploymentPoller.Run(ctx, func(pollCtx context.Context) error {
			done := make(chan error, 1)
			loop.Post(func() {
				resp, err := server.PollNextDeployment(pollCtx, serverapi.NextDeploymentRequest{DeviceType: deviceType})
				if err != nil {
					metrics.RegisterComponent("server", false, err.Error())
					metrics.PollCyclesTotal.WithLabelValues("deployment", "error").Inc()
					done <- err
					return
				}
				metrics.RegisterComponent("server", true, "")
				if resp.Empty {
					metrics.PollCyclesTotal.WithLabelValues("deployment", "empty").Inc()
					if e.cfg.InventoryOnIdlePoll && !inventorySent {
						inventorySent = true
						// Inventory submission itself is an external
						// collaborator (spec.md §1 Non-goals); this just
						// records that one is now due immediately rather
						// than on its own interval.
						deps.Logger.Info().Msg("deployment poll idle, inventory push now due")
					}
					done <- nil
					return
				}
				metrics.PollCyclesTotal.WithLabelValues("deployment", "deployment_found").Inc()

				os.RemoveAll(workDir)
				if mkErr := os.MkdirAll(workDir, 0700); mkErr != nil {
					done <- mkErr
					return
				}

				sd := &deployment.StateData{
					Version: deployment.StateDataVersion,
					UpdateInfo: deployment.UpdateInfo{
						ID: resp.ID,
						Artifact: deployment.Artifact{
							ArtifactName: resp.Artifact.ArtifactName,
						},
					},
				}
				sd.UpdateInfo.Artifact.Source.URI = resp.Artifact.Source.URI
				done <- machine.RunDeployment(pollCtx, sd)
			})
			return <-done
		})
	}()

	loop.Run(ctx)
	return nil
}
