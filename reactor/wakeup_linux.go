//go:build linux

package reactor

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// createWakeFd creates an eventfd for wake-up notifications, grounded on
// the teacher's wakeup_linux.go and original_source's eventloop.cc
// createEventfd (EFD_NONBLOCK|EFD_CLOEXEC). The same fd serves as both
// read and write end.
func createWakeFd() (int, int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	return fd, fd, err
}

func closeWakeFd(readFd, writeFd int) {
	_ = unix.Close(readFd)
}

func writeWake(writeFd int) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(writeFd, buf[:])
	return err
}

func drainWake(readFd int) {
	var buf [8]byte
	for {
		_, err := unix.Read(readFd, buf[:])
		if err != nil {
			return
		}
	}
}
