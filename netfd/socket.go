// Package netfd wraps a raw OS socket file descriptor with the
// non-blocking/close-on-exec setup and setsockopt helpers the reactor
// needs, as the exclusive owner of the fd.
package netfd

import (
	"errors"

	"github.com/joeycumines/netreactor/netaddr"
	"golang.org/x/sys/unix"
)

// ErrClosed is returned by operations attempted on a Socket that has
// already been closed.
var ErrClosed = errors.New("netfd: socket closed")

// Socket is the exclusive owner of an OS file descriptor. Methods must not
// be called after Close.
type Socket struct {
	fd     int
	closed bool
}

// New wraps an existing fd, taking ownership of it.
func New(fd int) *Socket { return &Socket{fd: fd} }

// CreateNonblockingOrDie creates a non-blocking, close-on-exec TCP socket
// for the given address family, panicking on failure the way the original
// fatal-initialization path aborts the process.
func CreateNonblockingOrDie(family int) *Socket {
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		panic("netfd: socket creation failed: " + err.Error())
	}
	SetNonBlockAndCloseOnExec(fd)
	return New(fd)
}

// SetNonBlockAndCloseOnExec sets O_NONBLOCK and FD_CLOEXEC on fd.
func SetNonBlockAndCloseOnExec(fd int) {
	_ = unix.SetNonblock(fd, true)
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err == nil {
		_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags|unix.FD_CLOEXEC)
	}
}

// Fd returns the underlying file descriptor.
func (s *Socket) Fd() int { return s.fd }

// Close closes the underlying fd. Safe to call more than once.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}

// BindAddress binds the socket to the given local endpoint, panicking on
// failure (mirrors the original "abort if address in use" contract).
func (s *Socket) BindAddress(addr netaddr.Addr) {
	sa := toSockaddr(addr)
	if err := unix.Bind(s.fd, sa); err != nil {
		panic("netfd: bind failed: " + err.Error())
	}
}

// Listen marks the socket as a listening socket, panicking on failure.
func (s *Socket) Listen() {
	if err := unix.Listen(s.fd, unix.SOMAXCONN); err != nil {
		panic("netfd: listen failed: " + err.Error())
	}
}

// Accept accepts a pending connection, returning the new connected
// Socket and the peer's address.
func (s *Socket) Accept() (*Socket, netaddr.Addr, error) {
	nfd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, netaddr.Addr{}, err
	}
	return New(nfd), fromSockaddr(sa), nil
}

// Connect issues a non-blocking connect to addr, returning
// unix.EINPROGRESS on the common case of a connect that hasn't completed
// yet.
func (s *Socket) Connect(addr netaddr.Addr) error {
	return unix.Connect(s.fd, toSockaddr(addr))
}

// CloseWrite half-closes the write side of the connection (FIN).
func (s *Socket) CloseWrite() error {
	return unix.Shutdown(s.fd, unix.SHUT_WR)
}

// Read reads directly from the socket.
func (s *Socket) Read(p []byte) (int, error) {
	return unix.Read(s.fd, p)
}

// Write writes directly to the socket.
func (s *Socket) Write(p []byte) (int, error) {
	return unix.Write(s.fd, p)
}

// GetSocketError returns and clears the socket's pending SO_ERROR value.
func (s *Socket) GetSocketError() error {
	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

// IsSelfConnect reports whether the socket connected to itself (local
// endpoint equals remote endpoint), the pathological case a non-blocking
// connector must screen for before declaring success.
func (s *Socket) IsSelfConnect() bool {
	local := s.LocalAddr()
	peer := s.PeerAddr()
	return local.ToPort() == peer.ToPort() && local.ToIP() == peer.ToIP()
}

// LocalAddr returns the socket's local endpoint.
func (s *Socket) LocalAddr() netaddr.Addr {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return netaddr.Unspecified()
	}
	return fromSockaddr(sa)
}

// PeerAddr returns the socket's remote endpoint.
func (s *Socket) PeerAddr() netaddr.Addr {
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return netaddr.Unspecified()
	}
	return fromSockaddr(sa)
}

// SetTCPNoDelay enables or disables Nagle's algorithm.
func (s *Socket) SetTCPNoDelay(on bool) {
	_ = unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(on))
}

// SetReuseAddr enables or disables SO_REUSEADDR.
func (s *Socket) SetReuseAddr(on bool) {
	_ = unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(on))
}

// SetReusePort enables or disables SO_REUSEPORT.
func (s *Socket) SetReusePort(on bool) {
	_ = unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolToInt(on))
}

// SetKeepAlive enables or disables SO_KEEPALIVE.
func (s *Socket) SetKeepAlive(on bool) {
	_ = unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolToInt(on))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toSockaddr(addr netaddr.Addr) unix.Sockaddr {
	ip := addr.TCPAddr().IP
	if addr.IsIPv6() {
		sa := &unix.SockaddrInet6{Port: int(addr.ToPort())}
		copy(sa.Addr[:], ip.To16())
		return sa
	}
	sa := &unix.SockaddrInet4{Port: int(addr.ToPort())}
	copy(sa.Addr[:], ip.To4())
	return sa
}

func fromSockaddr(sa unix.Sockaddr) netaddr.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		a, _ := netaddr.FromIPPort(
			ipv4String(v.Addr), uint16(v.Port))
		return a
	case *unix.SockaddrInet6:
		a, _ := netaddr.FromIPPort(ipv6String(v.Addr), uint16(v.Port))
		return a
	default:
		return netaddr.Unspecified()
	}
}

func ipv4String(b [4]byte) string {
	ip := make([]byte, 4)
	copy(ip, b[:])
	return netIPString(ip)
}

func ipv6String(b [16]byte) string {
	ip := make([]byte, 16)
	copy(ip, b[:])
	return netIPString(ip)
}
