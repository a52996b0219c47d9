package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mendersoftware/mender-sub000/pkg/store"
)

// showProvidesCmd is a read-only CLI sub-command per SPEC_FULL.md §3: it
// opens the Provides DB directly, with no state-machine involvement.
var showProvidesCmd = &cobra.Command{
	Use:   "show-provides",
	Short: "Print the currently installed artifact's name, group, and provides",
	Args:  cobra.NoArgs,
	RunE:  runShowProvides,
}

func runShowProvides(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	provides, err := store.ReadProvides(e.store)
	if err != nil {
		return err
	}

	fmt.Printf("ArtifactName=%s\n", provides.ArtifactName)
	if provides.ArtifactGroup != "" {
		fmt.Printf("ArtifactGroup=%s\n", provides.ArtifactGroup)
	}

	keys := make([]string, 0, len(provides.Map))
	for k := range provides.Map {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s=%s\n", k, provides.Map[k])
	}
	return nil
}
