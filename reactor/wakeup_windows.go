//go:build windows

package reactor

import (
	"errors"
	"net"

	"golang.org/x/sys/windows"
)

var errUnsupportedConn = errors.New("reactor: expected a *net.TCPConn")

// createWakeFd has no eventfd or self-pipe equivalent on Windows, so it
// fabricates a loopback TCP socketpair: a wakeup write is a one-byte send
// on the client half, observed as readability on the server half by the
// select-based windowsPoller. This is the practical analogue of the
// original's "poller-posted synthetic event", without requiring the IOCP
// completion-port plumbing a faithful port of that mechanism would need.
func createWakeFd() (int, int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return -1, -1, err
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptCh <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		return -1, -1, err
	}

	var server net.Conn
	select {
	case server = <-acceptCh:
	case err = <-errCh:
		return -1, -1, err
	}

	readFd, err := socketFd(server)
	if err != nil {
		return -1, -1, err
	}
	writeFd, err := socketFd(client)
	if err != nil {
		return -1, -1, err
	}
	return readFd, writeFd, nil
}

func socketFd(c net.Conn) (int, error) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return -1, errUnsupportedConn
	}
	f, err := tc.File()
	if err != nil {
		return -1, err
	}
	return int(f.Fd()), nil
}

func closeWakeFd(readFd, writeFd int) {
	_ = windows.Closesocket(windows.Handle(readFd))
	_ = windows.Closesocket(windows.Handle(writeFd))
}

func writeWake(writeFd int) error {
	var buf [1]byte
	buf[0] = 1
	_, err := windows.Write(windows.Handle(writeFd), buf[:])
	return err
}

func drainWake(readFd int) {
	var buf [64]byte
	for {
		n, err := windows.Read(windows.Handle(readFd), buf[:])
		if err != nil || n <= 0 {
			return
		}
	}
}
