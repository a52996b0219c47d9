package main

import (
	"errors"

	"github.com/mendersoftware/mender-sub000/pkg/errkind"
)

// Exit codes per spec.md §6: 0 success, 1 error, 2 nothing-to-do, 4
// reboot-needed (only where documented).
const (
	exitSuccess      = 0
	exitError        = 1
	exitNothingToDo  = 2
	exitRebootNeeded = 4
)

// errNothingToDo maps to exitNothingToDo. No sub-command returns it: commit,
// rollback and resume with no deployment in progress fail with a protocol
// error, which maps to exitError.
var errNothingToDo = errors.New("nothing to do")

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, errNothingToDo):
		return exitNothingToDo
	case errors.Is(err, errkind.ErrProtocolError):
		return exitError
	default:
		return exitError
	}
}
