//go:build !unix

package cli

import "os"

// suspendSignals has no job-control signals to offer on this platform.
func suspendSignals() (suspend, resume []os.Signal) {
	return nil, nil
}
