//go:build linux || darwin

package tcp

import (
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/netreactor/buffer"
	"github.com/joeycumines/netreactor/netaddr"
	"github.com/joeycumines/netreactor/netfd"
	"github.com/joeycumines/netreactor/reactor"
	"github.com/joeycumines/netreactor/wheel"
	"github.com/stretchr/testify/require"
)

func newRunningLoop(t *testing.T) (*reactor.Loop, func()) {
	t.Helper()
	loop, err := reactor.New(reactor.WithMaxPollTimeout(20 * time.Millisecond))
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		_ = loop.Run()
		close(done)
	}()
	return loop, func() {
		loop.Quit()
		<-done
		_ = loop.Close()
	}
}

func TestAcceptorAndConnectorEstablishConnection(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	var acceptor *Acceptor
	acceptedCh := make(chan *Conn, 1)
	ready := make(chan struct{})

	loop.RunInLoop(func() {
		acceptor = NewAcceptor(loop, netaddr.New(0, true, false), true, true)
		acceptor.SetNewConnectionCallback(func(sock *netfd.Socket, peer netaddr.Addr) {
			sc := New(loop, sock, sock.LocalAddr(), peer, "server")
			sc.EstablishConnection()
			acceptedCh <- sc
		})
		acceptor.Listen()
		close(ready)
	})
	<-ready

	addr := acceptor.Addr()

	connectedCh := make(chan *Conn, 1)
	connector := NewConnector(loop, addr, false)
	connector.SetNewConnectionCallback(func(sock *netfd.Socket) {
		cc := New(loop, sock, sock.LocalAddr(), sock.PeerAddr(), "client")
		cc.EstablishConnection()
		connectedCh <- cc
	})
	connector.Start()

	var server, client *Conn
	select {
	case server = <-acceptedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server side never accepted")
	}
	select {
	case client = <-connectedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("client side never connected")
	}

	require.True(t, server.Connected())
	require.True(t, client.Connected())

	var mu sync.Mutex
	var got string
	recvDone := make(chan struct{}, 1)
	server.SetRecvCallback(func(c *Conn, buf *buffer.Buffer) {
		mu.Lock()
		got += string(buf.Peek())
		mu.Unlock()
		buf.RetrieveAll()
		select {
		case recvDone <- struct{}{}:
		default:
		}
	})

	client.SendString("hello world")

	select {
	case <-recvDone:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received data")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "hello world", got)
}

func TestConnForceCloseFiresCloseCallback(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	var acceptor *Acceptor
	acceptedCh := make(chan *Conn, 1)
	ready := make(chan struct{})
	loop.RunInLoop(func() {
		acceptor = NewAcceptor(loop, netaddr.New(0, true, false), true, true)
		acceptor.SetNewConnectionCallback(func(sock *netfd.Socket, peer netaddr.Addr) {
			sc := New(loop, sock, sock.LocalAddr(), peer, "server")
			sc.EstablishConnection()
			acceptedCh <- sc
		})
		acceptor.Listen()
		close(ready)
	})
	<-ready

	connectedCh := make(chan *Conn, 1)
	connector := NewConnector(loop, acceptor.Addr(), false)
	connector.SetNewConnectionCallback(func(sock *netfd.Socket) {
		cc := New(loop, sock, sock.LocalAddr(), sock.PeerAddr(), "client")
		cc.EstablishConnection()
		connectedCh <- cc
	})
	connector.Start()

	<-acceptedCh
	client := <-connectedCh

	closedCh := make(chan struct{}, 1)
	client.SetCloseCallback(func(c *Conn) { closedCh <- struct{}{} })

	client.ForceClose()

	select {
	case <-closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("close callback never fired")
	}
	require.True(t, client.Disconnected())
}

func TestConnKickoffExpiresIdleConnection(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	var acceptor *Acceptor
	acceptedCh := make(chan *Conn, 1)
	ready := make(chan struct{})
	loop.RunInLoop(func() {
		acceptor = NewAcceptor(loop, netaddr.New(0, true, false), true, true)
		acceptor.SetNewConnectionCallback(func(sock *netfd.Socket, peer netaddr.Addr) {
			sc := New(loop, sock, sock.LocalAddr(), peer, "server")
			sc.EstablishConnection()
			acceptedCh <- sc
		})
		acceptor.Listen()
		close(ready)
	})
	<-ready

	connectedCh := make(chan *Conn, 1)
	connector := NewConnector(loop, acceptor.Addr(), false)
	connector.SetNewConnectionCallback(func(sock *netfd.Socket) {
		cc := New(loop, sock, sock.LocalAddr(), sock.PeerAddr(), "client")
		cc.EstablishConnection()
		connectedCh <- cc
	})
	connector.Start()

	server := <-acceptedCh
	<-connectedCh

	closedCh := make(chan struct{}, 1)
	server.SetCloseCallback(func(c *Conn) { closedCh <- struct{}{} })

	var w *wheel.Wheel
	armed := make(chan struct{})
	loop.RunInLoop(func() {
		w = wheel.New(loop, time.Second, 10*time.Millisecond, 10)
		server.EnableKickoff(30*time.Millisecond, w)
		close(armed)
	})
	<-armed

	select {
	case <-closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("idle connection was never kicked off")
	}
}
