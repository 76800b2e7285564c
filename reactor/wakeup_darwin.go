//go:build darwin

package reactor

import "golang.org/x/sys/unix"

// createWakeFd creates a self-pipe, grounded on the teacher's
// wakeup_darwin.go: Darwin/BSD has no eventfd, so a classic self-pipe
// (non-blocking, close-on-exec both ends) stands in for it.
func createWakeFd() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range fds {
		_ = unix.SetNonblock(fd, true)
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
		if err == nil {
			_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags|unix.FD_CLOEXEC)
		}
	}
	return fds[0], fds[1], nil
}

func closeWakeFd(readFd, writeFd int) {
	_ = unix.Close(readFd)
	_ = unix.Close(writeFd)
}

func writeWake(writeFd int) error {
	_, err := unix.Write(writeFd, []byte{1})
	return err
}

func drainWake(readFd int) {
	var buf [64]byte
	for {
		_, err := unix.Read(readFd, buf[:])
		if err != nil {
			return
		}
	}
}
