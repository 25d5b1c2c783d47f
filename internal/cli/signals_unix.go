//go:build unix

package cli

import (
	"os"
	"syscall"
)

// suspendSignals returns the signals that background and foreground a run.
func suspendSignals() (suspend, resume []os.Signal) {
	return []os.Signal{syscall.SIGTSTP}, []os.Signal{syscall.SIGCONT}
}
