package tcp

import (
	"os"

	"github.com/joeycumines/netreactor/netaddr"
	"github.com/joeycumines/netreactor/netfd"
	"github.com/joeycumines/netreactor/reactor"
	"golang.org/x/sys/unix"
)

// NewConnectionCallback hands a freshly accepted socket and its peer
// address to the listener, which owns deciding what to wrap it in.
type NewConnectionCallback func(sock *netfd.Socket, peer netaddr.Addr)

// Acceptor listens on one address and dispatches accepted connections,
// grounded on inner/acceptor.h/.cc. It reserves an idle fd so a process
// that has run out of file descriptors can still accept-and-immediately-
// drop a connection instead of spinning in a busy accept loop (the "EMFILE"
// trick documented in libev's accept() notes, referenced directly in the
// original's handleRead).
type Acceptor struct {
	loop    *reactor.Loop
	sock    *netfd.Socket
	addr    netaddr.Addr
	channel *reactor.Channel
	idleFd  *os.File

	onNewConnection NewConnectionCallback
}

// NewAcceptor constructs an Acceptor bound to addr but not yet listening;
// call Listen to start accepting.
func NewAcceptor(loop *reactor.Loop, addr netaddr.Addr, reuseAddr, reusePort bool) *Acceptor {
	family := unix.AF_INET
	if addr.IsIPv6() {
		family = unix.AF_INET6
	}
	sock := netfd.CreateNonblockingOrDie(family)
	sock.SetReuseAddr(reuseAddr)
	sock.SetReusePort(reusePort)
	sock.BindAddress(addr)

	if addr.ToPort() == 0 {
		addr = sock.LocalAddr()
	}

	idleFd, _ := os.Open(os.DevNull)

	a := &Acceptor{
		loop:   loop,
		sock:   sock,
		addr:   addr,
		idleFd: idleFd,
	}
	a.channel = reactor.NewChannel(loop, sock.Fd())
	a.channel.SetReadCallback(a.handleRead)
	return a
}

// Addr returns the bound local address (resolved to the OS-assigned port
// if the caller requested port 0).
func (a *Acceptor) Addr() netaddr.Addr { return a.addr }

// SetNewConnectionCallback registers the callback invoked for each accepted
// connection.
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.onNewConnection = cb
}

// Listen marks the socket listening and starts dispatching accept events.
// Must be called from the owning loop's goroutine.
func (a *Acceptor) Listen() {
	a.loop.AssertInLoopThread()
	a.sock.Listen()
	a.channel.EnableReading()
}

// Close stops accepting and releases the listening socket.
func (a *Acceptor) Close() {
	a.loop.AssertInLoopThread()
	a.channel.DisableAll()
	a.channel.Remove()
	if a.idleFd != nil {
		_ = a.idleFd.Close()
	}
	_ = a.sock.Close()
}

func (a *Acceptor) handleRead() {
	conn, peer, err := a.sock.Accept()
	if err == nil {
		if a.onNewConnection != nil {
			a.onNewConnection(conn, peer)
		} else {
			_ = conn.Close()
		}
		return
	}

	if err == unix.EMFILE && a.idleFd != nil {
		_ = a.idleFd.Close()
		if extra, _, acceptErr := a.sock.Accept(); acceptErr == nil {
			_ = extra.Close()
		}
		a.idleFd, _ = os.Open(os.DevNull)
	}
}
