// Package netclient mirrors netserver but for the dial side: binding a
// handler object to a Connector, grounded on
// original_source/netpoll/net/tcp_client.{h,cc}.
package netclient

import (
	"fmt"

	"github.com/joeycumines/netreactor/netaddr"
	"github.com/joeycumines/netreactor/netfd"
	"github.com/joeycumines/netreactor/reactor"
	"github.com/joeycumines/netreactor/tcp"
)

// Handler is the set of callbacks a Dialer dispatches to. Any of these may
// be nil.
type Handler struct {
	OnConnection     tcp.ConnectionCallback
	OnMessage        tcp.RecvCallback
	OnClose          tcp.ConnectionCallback
	OnWriteComplete  tcp.WriteCompleteCallback
	OnConnectionError func(err error)
}

// Dialer wraps a Connector and materializes a tcp.Conn once it succeeds,
// mirroring TcpClient's role.
type Dialer struct {
	loop      *reactor.Loop
	connector *tcp.Connector
	handler   Handler
	name      string

	conn *tcp.Conn
}

// New constructs a Dialer targeting addr. retry controls whether a failed
// connect attempt is retried with exponential backoff (see tcp.Connector).
func New(loop *reactor.Loop, addr netaddr.Addr, retry bool, name string, handler Handler) *Dialer {
	d := &Dialer{loop: loop, handler: handler, name: name}
	d.connector = tcp.NewConnector(loop, addr, retry)
	d.connector.SetNewConnectionCallback(d.handleNewConnection)
	d.connector.SetErrorCallback(func(err error) {
		if d.handler.OnConnectionError != nil {
			d.handler.OnConnectionError(err)
		}
	})
	return d
}

// Connect starts (or restarts) the underlying connector.
func (d *Dialer) Connect() { d.connector.Start() }

// Disconnect stops the underlying connector and, if connected, force-closes
// the established connection.
func (d *Dialer) Disconnect() {
	d.connector.Stop()
	if d.conn != nil {
		d.conn.ForceClose()
	}
}

// Conn returns the established connection, or nil before one exists.
func (d *Dialer) Conn() *tcp.Conn { return d.conn }

func (d *Dialer) handleNewConnection(sock *netfd.Socket) {
	name := fmt.Sprintf("%s-out", d.name)
	c := tcp.New(d.loop, sock, sock.LocalAddr(), sock.PeerAddr(), name)
	c.SetRecvCallback(d.handler.OnMessage)
	c.SetConnectionCallback(d.handler.OnConnection)
	c.SetCloseCallback(d.handler.OnClose)
	c.SetWriteCompleteCallback(d.handler.OnWriteComplete)
	d.conn = c
	c.EstablishConnection()
}
