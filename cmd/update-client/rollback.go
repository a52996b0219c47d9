package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mendersoftware/mender-sub000/pkg/log"
	"github.com/mendersoftware/mender-sub000/pkg/standalone"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back a previously installed artifact",
	Args:  cobra.NoArgs,
	RunE:  runRollback,
}

func runRollback(cmd *cobra.Command, args []string) error {
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
	return r.Rollback(cmd.Context())
}
