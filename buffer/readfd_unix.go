//go:build linux || darwin

package buffer

import "golang.org/x/sys/unix"

// extBufSize is the size of the stack-resident extension buffer used to
// absorb reads that overflow the buffer's current writable region in a
// single syscall.
const extBufSize = 8192

// ReadFd performs a scatter read from fd into the buffer's writable
// region, using a secondary on-stack extension buffer to absorb anything
// that doesn't fit, then folding the overflow back in via PushBack. This
// keeps steady-state reads to a single syscall without over-allocating
// the buffer for the (rare) oversized datagram/burst case.
func (b *Buffer) ReadFd(fd int) (int, error) {
	var ext [extBufSize]byte
	writable := b.WritableBytes()

	iov := make([][]byte, 1, 2)
	iov[0] = b.buf[b.tail:len(b.buf)]
	if writable < extBufSize {
		iov = append(iov, ext[:])
	}

	n, err := unix.Readv(fd, iov)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return n, nil
	}
	if n <= writable {
		b.tail += n
	} else {
		b.tail = len(b.buf)
		b.PushBack(ext[:n-writable])
	}
	return n, nil
}
