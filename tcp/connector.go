package tcp

import (
	"sync/atomic"
	"time"

	"github.com/joeycumines/netreactor/netaddr"
	"github.com/joeycumines/netreactor/netfd"
	"github.com/joeycumines/netreactor/reactor"
	"golang.org/x/sys/unix"
)

// kInitRetryDelay and kMaxRetryDelay match the original's
// kInitRetryDelayMs/kMaxRetryDelayMs.
const (
	kInitRetryDelay = 500 * time.Millisecond
	kMaxRetryDelay  = 30 * time.Second
)

type connectorStatus int32

const (
	connectorDisconnected connectorStatus = iota
	connectorConnecting
	connectorConnected
)

// ConnectorNewConnectionCallback hands off a successfully connected socket.
type ConnectorNewConnectionCallback func(sock *netfd.Socket)

// ConnectorErrorCallback fires when a connect attempt fails. An error
// returned by the connect call itself fires it only when no retry follows
// (retry is disabled or the error is non-retriable); a failure reported once
// the connect is in flight (SO_ERROR, self-connect, or an error/hangup
// event) fires it whether or not a retry is scheduled.
type ConnectorErrorCallback func(err error)

// Connector drives a non-blocking connect with exponential backoff retry,
// grounded on inner/connector.h/.cc.
type Connector struct {
	loop    *reactor.Loop
	addr    netaddr.Addr
	retry   bool
	started atomic.Bool

	status       atomic.Int32
	channel      *reactor.Channel
	fd           int
	retryDelay   time.Duration
	socketHanded bool

	onNewConnection ConnectorNewConnectionCallback
	onError         ConnectorErrorCallback
}

// NewConnector constructs a Connector that will dial addr once Start is
// called.
func NewConnector(loop *reactor.Loop, addr netaddr.Addr, retry bool) *Connector {
	return &Connector{
		loop:       loop,
		addr:       addr,
		retry:      retry,
		retryDelay: kInitRetryDelay,
		fd:         -1,
	}
}

func (c *Connector) SetNewConnectionCallback(cb ConnectorNewConnectionCallback) {
	c.onNewConnection = cb
}
func (c *Connector) SetErrorCallback(cb ConnectorErrorCallback) { c.onError = cb }

// Start begins (or resumes) connecting. Safe to call from any goroutine.
func (c *Connector) Start() {
	c.started.Store(true)
	c.loop.RunInLoop(c.startInLoop)
}

// Stop cancels any in-flight connect attempt. Safe to call from any
// goroutine.
func (c *Connector) Stop() {
	c.started.Store(false)
	c.status.Store(int32(connectorDisconnected))
	c.loop.RunInLoop(c.removeAndResetChannel)
}

// Restart stops then immediately starts again, resetting the backoff.
func (c *Connector) Restart() {
	c.Stop()
	c.retryDelay = kInitRetryDelay
	c.Start()
}

func (c *Connector) startInLoop() {
	c.loop.AssertInLoopThread()
	if c.started.Load() {
		c.connect()
	}
}

func (c *Connector) connect() {
	family := unix.AF_INET
	if c.addr.IsIPv6() {
		family = unix.AF_INET6
	}
	sock := netfd.CreateNonblockingOrDie(family)
	c.socketHanded = false
	err := sock.Connect(c.addr)

	switch {
	case err == nil, err == unix.EINPROGRESS, err == unix.EINTR, err == unix.EISCONN:
		c.connecting(sock)

	case err == unix.EAGAIN, err == unix.EADDRINUSE, err == unix.EADDRNOTAVAIL,
		err == unix.ECONNREFUSED, err == unix.ENETUNREACH:
		if c.retry {
			c.scheduleRetry(sock)
		} else {
			c.socketHanded = true
			_ = sock.Close()
			if c.onError != nil {
				c.onError(err)
			}
		}

	default:
		c.socketHanded = true
		_ = sock.Close()
		if c.onError != nil {
			c.onError(err)
		}
	}
}

func (c *Connector) connecting(sock *netfd.Socket) {
	c.status.Store(int32(connectorConnecting))
	c.fd = sock.Fd()
	c.channel = reactor.NewChannel(c.loop, sock.Fd())
	c.channel.SetWriteCallback(func() { c.handleWrite(sock) })
	c.channel.SetErrorCallback(func() { c.handleError(sock) })
	c.channel.SetCloseCallback(func() { c.handleError(sock) })
	c.channel.EnableWriting()
}

func (c *Connector) removeAndResetChannel() {
	if c.channel == nil {
		return
	}
	c.channel.DisableAll()
	c.channel.Remove()
	c.channel = nil
}

func (c *Connector) handleWrite(sock *netfd.Socket) {
	c.socketHanded = true
	if connectorStatus(c.status.Load()) != connectorConnecting {
		return
	}
	c.removeAndResetChannel()

	if err := sock.GetSocketError(); err != nil {
		if c.retry {
			c.scheduleRetry(sock)
		} else {
			_ = sock.Close()
		}
		if c.onError != nil {
			c.onError(err)
		}
		return
	}
	if sock.IsSelfConnect() {
		if c.retry {
			c.scheduleRetry(sock)
		} else {
			_ = sock.Close()
		}
		if c.onError != nil {
			c.onError(unix.ECONNREFUSED)
		}
		return
	}

	c.status.Store(int32(connectorConnected))
	if c.started.Load() {
		if c.onNewConnection != nil {
			c.onNewConnection(sock)
		}
	} else {
		_ = sock.Close()
	}
}

func (c *Connector) handleError(sock *netfd.Socket) {
	c.socketHanded = true
	if connectorStatus(c.status.Load()) != connectorConnecting {
		return
	}
	c.status.Store(int32(connectorDisconnected))
	c.removeAndResetChannel()
	err := sock.GetSocketError()
	if c.retry {
		c.scheduleRetry(sock)
	} else {
		_ = sock.Close()
	}
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Connector) scheduleRetry(sock *netfd.Socket) {
	_ = sock.Close()
	c.status.Store(int32(connectorDisconnected))
	if !c.started.Load() {
		return
	}
	delay := c.retryDelay
	c.loop.RunAfter(delay, func(reactor.TimerID) { c.startInLoop() }, false, false)
	c.retryDelay *= 2
	if c.retryDelay > kMaxRetryDelay {
		c.retryDelay = kMaxRetryDelay
	}
}
