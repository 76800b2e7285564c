//go:build linux

package tcp

import "golang.org/x/sys/unix"

// sendfileMaxChunk bounds a single sendfile(2) call so one file send can't
// monopolize the loop thread, mirroring the chunked nature of the generic
// read+write fallback.
const sendfileMaxChunk = 1 << 20

// writeFileChunk moves bytes directly from node.file to the socket via
// sendfile(2), avoiding a userspace copy, matching
// TcpConnectionImpl::sendFile's use of sendfile on Linux
// (original_source/netpoll/net/inner/tcp_connection_impl.cc:701-731). The
// offset argument is nil so the kernel uses and advances the file's own
// read offset, exactly as the generic fallback's Read-based loop would.
func (c *Conn) writeFileChunk(node *bufferNode) (done bool, err error) {
	if node.remain <= 0 {
		return true, nil
	}
	count := node.remain
	if count > sendfileMaxChunk {
		count = sendfileMaxChunk
	}
	n, err := unix.Sendfile(c.sock.Fd(), int(node.file.Fd()), nil, int(count))
	if n > 0 {
		c.bytesSent.Add(uint64(n))
		node.remain -= int64(n)
	}
	if err != nil {
		return false, err
	}
	return node.remain <= 0, nil
}
