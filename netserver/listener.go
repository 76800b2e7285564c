// Package netserver ties together an Acceptor, a LoopThreadPool, and a
// per-pool-loop Wheel into the "bind a handler, start listening" entry
// point applications use, grounded on
// original_source/netpoll/net/tcp_server.{h,cc} and the teacher's top-level
// server wiring conventions.
package netserver

import (
	"fmt"
	"time"

	"github.com/joeycumines/netreactor/netaddr"
	"github.com/joeycumines/netreactor/netfd"
	"github.com/joeycumines/netreactor/reactor"
	"github.com/joeycumines/netreactor/tcp"
	"github.com/joeycumines/netreactor/wheel"
)

// Handler is the set of callbacks a Listener dispatches to. Any of these
// may be nil.
type Handler struct {
	OnConnection    tcp.ConnectionCallback
	OnMessage       tcp.RecvCallback
	OnClose         tcp.ConnectionCallback
	OnWriteComplete tcp.WriteCompleteCallback
	OnHighWaterMark tcp.HighWaterMarkCallback
	HighWaterMark   int
}

// Listener owns an Acceptor, a pool of additional loops accepted
// connections are fanned out to, and (optionally) a per-loop idle-kickoff
// Wheel, mirroring TcpServer's role of binding a handler object to a listen
// address.
type Listener struct {
	baseLoop *reactor.Loop
	pool     *reactor.LoopThreadPool
	acceptor *tcp.Acceptor
	handler  Handler

	wheels      map[*reactor.Loop]*wheel.Wheel
	kickoff     time.Duration
	nextConnID  int
	name        string
}

// New constructs a Listener bound to addr, with numLoops additional loops
// (0 means every accepted connection runs on baseLoop itself).
func New(baseLoop *reactor.Loop, addr netaddr.Addr, numLoops int, name string, handler Handler) (*Listener, error) {
	pool, err := reactor.NewLoopThreadPool(baseLoop, numLoops)
	if err != nil {
		return nil, fmt.Errorf("netserver: start loop pool: %w", err)
	}

	l := &Listener{
		baseLoop: baseLoop,
		pool:     pool,
		handler:  handler,
		wheels:   make(map[*reactor.Loop]*wheel.Wheel),
		name:     name,
	}

	baseLoop.RunInLoop(func() {
		l.acceptor = tcp.NewAcceptor(baseLoop, addr, true, true)
		l.acceptor.SetNewConnectionCallback(l.handleNewConnection)
	})
	return l, nil
}

// EnableKickoffIdle arms an idle-connection timeout of d for every
// connection this Listener accepts from now on, using one Wheel per pool
// loop (so the wheel's single-owner rotation timer never crosses goroutine
// boundaries).
func (l *Listener) EnableKickoffIdle(d time.Duration) {
	l.kickoff = d
}

func (l *Listener) wheelFor(loop *reactor.Loop) *wheel.Wheel {
	loop.AssertInLoopThread()
	if w, ok := l.wheels[loop]; ok {
		return w
	}
	w := wheel.New(loop, l.kickoff*2, time.Second, wheel.DefaultBucketsNumPerQueue)
	l.wheels[loop] = w
	return w
}

// Addr returns the bound listen address (resolved if port 0 was
// requested).
func (l *Listener) Addr() netaddr.Addr {
	return l.acceptor.Addr()
}

// Start begins accepting connections. Must be called after New has
// returned (so the acceptor has been constructed on the base loop).
func (l *Listener) Start() {
	l.baseLoop.RunInLoop(func() { l.acceptor.Listen() })
}

func (l *Listener) handleNewConnection(sock *netfd.Socket, peer netaddr.Addr) {
	loop := l.pool.Next()
	local := sock.LocalAddr()
	l.nextConnID++
	name := fmt.Sprintf("%s-%d", l.name, l.nextConnID)

	// Accepted sockets are bound to the acceptor's loop; handing them to a
	// different pool loop means the channel registration itself must
	// happen on that target loop.
	loop.RunInLoop(func() {
		c := tcp.New(loop, sock, local, peer, name)
		c.SetRecvCallback(l.handler.OnMessage)
		c.SetConnectionCallback(l.handler.OnConnection)
		c.SetCloseCallback(l.handler.OnClose)
		c.SetWriteCompleteCallback(l.handler.OnWriteComplete)
		if l.handler.OnHighWaterMark != nil {
			c.SetHighWaterMarkCallback(l.handler.OnHighWaterMark, l.handler.HighWaterMark)
		}
		c.EstablishConnection()
		if l.kickoff > 0 {
			c.EnableKickoff(l.kickoff, l.wheelFor(loop))
		}
	})
}

// Stop quits every pool loop thread this Listener owns (not baseLoop,
// which the caller owns).
func (l *Listener) Stop() {
	l.baseLoop.RunInLoop(func() { l.acceptor.Close() })
	l.pool.Stop()
}
