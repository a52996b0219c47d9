package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mendersoftware/mender-sub000/pkg/log"
	"github.com/mendersoftware/mender-sub000/pkg/standalone"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a standalone deployment left in progress after a crash",
	Args:  cobra.NoArgs,
	RunE:  runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	r := &standalone.Runner{
		Store:      e.store,
		ModuleRun:  e.newModuleRunner(),
		ResolveMod: e.resolveModule,
		WorkDir:    filepath.Join(e.workDir(), "standalone"),
		Logger:     log.WithComponent("standalone"),
	}
	return r.Resume(cmd.Context())
}
