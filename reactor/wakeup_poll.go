//go:build !linux && !darwin && !windows

package reactor

import "golang.org/x/sys/unix"

// createWakeFd mirrors the Darwin self-pipe implementation for the
// portable poll() backend used on other POSIX targets.
func createWakeFd() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range fds {
		_ = unix.SetNonblock(fd, true)
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
