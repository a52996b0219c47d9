//go:build unix

package main

import (
	"context"
	"fmt"
	"os/exec"
)

// rebootSystem invokes the platform reboot command. It is not expected to
// return on success: the OS terminates this process before "reboot" exits.
func rebootSystem(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "reboot")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to invoke reboot: %w", err)
	}
	return nil
}
