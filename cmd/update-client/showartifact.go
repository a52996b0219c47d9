package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mendersoftware/mender-sub000/pkg/store"
)

// showArtifactCmd is a read-only CLI sub-command per SPEC_FULL.md §3: it
// opens the Provides DB directly (no state-machine involvement, no artifact
// tar-parsing) and prints the name of the currently installed artifact.
var showArtifactCmd = &cobra.Command{
	Use:   "show-artifact",
	Short: "Print the name of the currently installed artifact",
	Args:  cobra.NoArgs,
	RunE:  runShowArtifact,
}

func runShowArtifact(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	provides, err := store.ReadProvides(e.store)
	if err != nil {
		return err
	}

	fmt.Println(provides.ArtifactName)
	return nil
}
