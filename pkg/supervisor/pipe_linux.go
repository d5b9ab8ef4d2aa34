package supervisor

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// newPipe returns both ends of a close-on-exec pipe. The child end stays
// blocking; the parent end is non-blocking so reads and writes on it park in
// the runtime poller and a Close unblocks them.
func newPipe(parentReads bool) (child, parent *os.File, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, fmt.Errorf("pipe2: %w", err)
	}

	childFd, parentFd := fds[0], fds[1]
	if parentReads {
		childFd, parentFd = fds[1], fds[0]
	}
	if err := unix.SetNonblock(parentFd, true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("setting pipe non-blocking: %w", err)
	}

	return os.NewFile(uintptr(childFd), "|worker"), os.NewFile(uintptr(parentFd), "|parent"), nil
}
