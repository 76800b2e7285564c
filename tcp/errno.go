package tcp

import "golang.org/x/sys/unix"

// errEAgain is the platform's "would block" errno, checked with errors.Is
// against raw syscall errors returned by netfd.Socket.Read/Write.
const errEAgain = unix.EAGAIN
