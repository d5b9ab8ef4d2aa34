//go:build linux

package worker

import "golang.org/x/sys/unix"

// ExitWithParent asks the kernel to send SIGTERM to this process when its
// parent exits, so an orphaned worker does not outlive the service.
func ExitWithParent() error {
	return unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGTERM), 0, 0, 0)
}
