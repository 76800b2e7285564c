// Package tcp implements the connection-oriented pieces built on top of
// reactor and netfd: Conn (an established connection's read/write state
// machine), Acceptor (listen+accept), and Connector (non-blocking dial with
// retry), grounded on
// original_source/netpoll/net/inner/{tcp_connection_impl,acceptor,connector}.{h,cc}.
package tcp

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/netreactor/buffer"
	"github.com/joeycumines/netreactor/netaddr"
	"github.com/joeycumines/netreactor/netfd"
	"github.com/joeycumines/netreactor/reactor"
	"github.com/joeycumines/netreactor/wheel"
)

// connStatus mirrors TcpConnectionImpl::ConnStatus.
type connStatus int32

const (
	statusConnecting connStatus = iota
	statusConnected
	statusDisconnecting
	statusDisconnected
)

// RecvCallback is invoked with newly readable bytes still sitting in the
// connection's receive buffer; the handler consumes however much of a
// complete message is available via buf.
type RecvCallback func(c *Conn, buf *buffer.Buffer)

// ConnectionCallback fires once a connection is established and once more
// when it is fully torn down (check c.Connected()).
type ConnectionCallback func(c *Conn)

// WriteCompleteCallback fires when the write buffer has fully drained.
type WriteCompleteCallback func(c *Conn)

// HighWaterMarkCallback fires when the tail byte-buffer node of the write
// queue grows past the configured threshold; pending is that node's size.
type HighWaterMarkCallback func(c *Conn, pending int)

// bufferNode is one queued write: either a plain byte payload, a file
// region, or a producer-stream callback, mirroring
// TcpConnectionImpl::BufferNode's three send variants.
type bufferNode struct {
	data   []byte
	file   *os.File
	remain int64
	stream func(p []byte) (n int, done bool)
}

func (n *bufferNode) isFile() bool { return n.file != nil || n.stream != nil }

// close releases whatever node holds: a file is closed, and a stream
// producer is invoked once with (nil, 0) so it can release resources of
// its own (e.g. close a file it opened itself), mirroring
// BufferNode::~BufferNode's unconditional cleanup on every drop path
// (early-disconnect, normal completion, and teardown drain alike).
func (n *bufferNode) close() {
	if n.file != nil {
		_ = n.file.Close()
	}
	if n.stream != nil {
		n.stream(nil, 0)
	}
}

// Conn wraps an established TCP connection: its socket, its reactor
// Channel, a read buffer, and a FIFO write-buffer pipeline with
// backpressure, grounded on TcpConnectionImpl.
type Conn struct {
	loop    *reactor.Loop
	channel *reactor.Channel
	sock    *netfd.Socket
	local   netaddr.Addr
	peer    netaddr.Addr
	name    string

	status atomic.Int32

	readBuf     *buffer.Buffer
	writeBuf    []*bufferNode
	highWater   int
	fileChunk   []byte
	bytesSent   atomic.Uint64
	bytesRecv   atomic.Uint64

	// sendMu/sendNum gate Send/SendFile/SendStream so caller order is
	// preserved even when some calls arrive off the loop thread and
	// others are issued synchronously from within a loop-thread
	// callback, mirroring TcpConnectionImpl's m_sendNum guard: a send
	// may only take the direct, immediate-execute path when no
	// already-queued-but-undrained send is ahead of it.
	sendMu  sync.Mutex
	sendNum int

	onRecv          RecvCallback
	onConnection    ConnectionCallback
	onClose         ConnectionCallback
	onWriteComplete WriteCompleteCallback
	onHighWaterMark HighWaterMarkCallback

	idleTimeout  time.Duration
	wheel        *wheel.Wheel
	activityGen  atomic.Int64
	lastIdleBump time.Time
}

// New constructs a Conn for an already-accepted or already-connected
// socket. The connection starts in the "connecting" state; call
// EstablishConnection (from the owning loop's goroutine) once the caller is
// ready to start dispatching events.
func New(loop *reactor.Loop, sock *netfd.Socket, local, peer netaddr.Addr, name string) *Conn {
	c := &Conn{
		loop:    loop,
		sock:    sock,
		local:   local,
		peer:    peer,
		name:    name,
		readBuf: buffer.New(),
	}
	c.status.Store(int32(statusConnecting))
	c.channel = reactor.NewChannel(loop, sock.Fd())
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	c.channel.Tie(func() (any, bool) { return c, c.status.Load() != int32(statusDisconnected) })
	return c
}

// Name returns the connection's diagnostic name.
func (c *Conn) Name() string { return c.name }

// LocalAddr and PeerAddr return the connection's two endpoints.
func (c *Conn) LocalAddr() netaddr.Addr { return c.local }
func (c *Conn) PeerAddr() netaddr.Addr  { return c.peer }

// Connected and Disconnected report the connection's current status.
func (c *Conn) Connected() bool    { return connStatus(c.status.Load()) == statusConnected }
func (c *Conn) Disconnected() bool { return connStatus(c.status.Load()) == statusDisconnected }

// BytesSent and BytesReceived report cumulative byte counts.
func (c *Conn) BytesSent() uint64    { return c.bytesSent.Load() }
func (c *Conn) BytesReceived() uint64 { return c.bytesRecv.Load() }

// RecvBuffer returns the connection's receive buffer, for use from within a
// RecvCallback.
func (c *Conn) RecvBuffer() *buffer.Buffer { return c.readBuf }

func (c *Conn) SetRecvCallback(cb RecvCallback)                     { c.onRecv = cb }
func (c *Conn) SetConnectionCallback(cb ConnectionCallback)         { c.onConnection = cb }
func (c *Conn) SetCloseCallback(cb ConnectionCallback)              { c.onClose = cb }
func (c *Conn) SetWriteCompleteCallback(cb WriteCompleteCallback)   { c.onWriteComplete = cb }

// SetHighWaterMarkCallback registers cb to fire whenever a queued write
// leaves the tail byte-buffer node larger than markLen bytes. File and
// stream nodes, and byte nodes ahead of the tail, are not counted.
func (c *Conn) SetHighWaterMarkCallback(cb HighWaterMarkCallback, markLen int) {
	c.onHighWaterMark = cb
	c.highWater = markLen
}

// EstablishConnection transitions a freshly constructed Conn to Connected,
// starts read dispatch, and fires the connection callback. Must be called
// from the owning loop's goroutine.
func (c *Conn) EstablishConnection() {
	c.loop.AssertInLoopThread()
	c.status.Store(int32(statusConnected))
	c.channel.EnableReading()
	if c.onConnection != nil {
		c.onConnection(c)
	}
}

// EnableKickoff arms idle-timeout tracking against w: if no read or write
// event occurs on the connection for timeout, it is force-closed. Must be called from the
// owning loop's goroutine.
func (c *Conn) EnableKickoff(timeout time.Duration, w *wheel.Wheel) {
	c.loop.AssertInLoopThread()
	c.idleTimeout = timeout
	c.wheel = w
	c.armKickoff()
}

// KeepAlive disables idle-timeout tracking for this connection.
func (c *Conn) KeepAlive() {
	c.idleTimeout = 0
	c.activityGen.Add(1)
}

func (c *Conn) armKickoff() {
	if c.idleTimeout <= 0 || c.wheel == nil {
		return
	}
	gen := c.activityGen.Add(1)
	c.wheel.Insert(c.idleTimeout, wheel.EntryFunc(func() { c.expireKickoff(gen) }))
}

func (c *Conn) expireKickoff(gen int64) {
	if c.activityGen.Load() != gen {
		return // superseded by more recent activity
	}
	c.loop.RunInLoop(c.ForceClose)
}

// extendLife re-arms the idle timer, throttled to once per second to avoid
// a wheel insertion on every single read, mirroring
// TcpConnectionImpl::extendLife's m_lastTimingWheelUpdateTime gate.
func (c *Conn) extendLife() {
	if c.idleTimeout <= 0 || c.wheel == nil {
		return
	}
	now := time.Now()
	if now.Sub(c.lastIdleBump) < time.Second {
		return
	}
	c.lastIdleBump = now
	c.armKickoff()
}

// Send enqueues p for writing. Safe to call from any goroutine. Caller
// order is preserved: a Send issued while an earlier Send/SendFile/
// SendStream from another goroutine is still queued waits behind it,
// even if this call happens to run on the loop thread.
func (c *Conn) Send(p []byte) {
	cp := append([]byte(nil), p...)
	c.dispatchSend(func() { c.sendInLoop(cp) })
}

// SendString is a convenience wrapper around Send.
func (c *Conn) SendString(s string) { c.Send([]byte(s)) }

// dispatchSend runs work directly if called on the loop thread and no
// other send is already queued ahead of it; otherwise it queues work
// behind whatever is already pending, preserving FIFO order across
// Send/SendFile/SendStream regardless of which goroutine calls them.
func (c *Conn) dispatchSend(work func()) {
	if c.loop.IsInLoopThread() {
		c.sendMu.Lock()
		ahead := c.sendNum
		c.sendMu.Unlock()
		if ahead == 0 {
			work()
			return
		}
	}
	c.enqueueSend(work)
}

func (c *Conn) enqueueSend(work func()) {
	c.sendMu.Lock()
	c.sendNum++
	c.sendMu.Unlock()
	c.loop.QueueInLoop(func() {
		work()
		c.sendMu.Lock()
		c.sendNum--
		c.sendMu.Unlock()
	})
}

// SendFile enqueues the byte range [offset, offset+length) of the named
// file (length<=0 means "to EOF") for writing after any already-queued
// data, mirroring TcpConnectionImpl::sendFile.
func (c *Conn) SendFile(path string, offset, length int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	if length <= 0 {
		length = info.Size() - offset
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return err
		}
	}
	node := &bufferNode{file: f, remain: length}
	c.dispatchSend(func() { c.queueNode(node) })
	return nil
}

// SendStream enqueues a producer callback that fills successive chunks of
// p and reports how many bytes it wrote; it returns done=true once there is
// no more data, mirroring TcpConnectionImpl::sendStream.
func (c *Conn) SendStream(produce func(p []byte) (n int, done bool)) {
	node := &bufferNode{stream: produce}
	c.dispatchSend(func() { c.queueNode(node) })
}

func (c *Conn) sendInLoop(p []byte) {
	c.loop.AssertInLoopThread()
	if connStatus(c.status.Load()) == statusDisconnected {
		return
	}
	if len(c.writeBuf) == 0 && !c.channel.IsWriting() {
		n, err := c.sock.Write(p)
		if err != nil && !errors.Is(err, errEAgain) {
			c.handleError()
			return
		}
		if n < 0 {
			n = 0
		}
		c.bytesSent.Add(uint64(n))
		if n == len(p) {
			if c.onWriteComplete != nil {
				c.onWriteComplete(c)
			}
			return
		}
		p = p[n:]
	}
	c.queueNode(&bufferNode{data: p})
}

// queueNode appends node to the write-buffer list. A plain byte node is
// coalesced into the existing tail node if that tail is also a plain
// byte buffer, mirroring
// m_writeBufferList.back()->msgBuffer_->pushBack(...) instead of always
// pushing a new node.
func (c *Conn) queueNode(node *bufferNode) {
	c.loop.AssertInLoopThread()
	if connStatus(c.status.Load()) == statusDisconnected {
		node.close()
		return
	}
	if !node.isFile() && len(c.writeBuf) > 0 {
		if tail := c.writeBuf[len(c.writeBuf)-1]; !tail.isFile() {
			tail.data = append(tail.data, node.data...)
			c.afterQueue()
			return
		}
	}
	c.writeBuf = append(c.writeBuf, node)
	c.afterQueue()
}

func (c *Conn) afterQueue() {
	if pending := c.pendingBytes(); c.highWater > 0 && pending > c.highWater && c.onHighWaterMark != nil {
		c.onHighWaterMark(c, pending)
	}
	if !c.channel.IsWriting() {
		c.channel.EnableWriting()
	}
}

// pendingBytes reports the size of the tail byte-buffer node only,
// mirroring TcpConnectionImpl::pendingBytes's check of only
// m_writeBufferList.back()->msgBuffer_->readableBytes() rather than
// summing the whole backlog.
func (c *Conn) pendingBytes() int {
	if len(c.writeBuf) == 0 {
		return 0
	}
	tail := c.writeBuf[len(c.writeBuf)-1]
	if tail.isFile() {
		return 0
	}
	return len(tail.data)
}

func (c *Conn) handleRead() {
	c.loop.AssertInLoopThread()
	n, err := c.readBuf.ReadFd(c.sock.Fd())
	if err != nil {
		if errors.Is(err, errEAgain) {
			return
		}
		c.handleClose()
		return
	}
	if n == 0 {
		c.handleClose()
		return
	}
	c.extendLife()
	c.bytesRecv.Add(uint64(n))
	if c.onRecv != nil {
		c.onRecv(c, c.readBuf)
	}
}

func (c *Conn) handleWrite() {
	c.loop.AssertInLoopThread()
	c.extendLife()
	if !c.channel.IsWriting() {
		return
	}
	if len(c.writeBuf) == 0 {
		return
	}
	node := c.writeBuf[0]
	var done bool
	var err error
	switch {
	case node.stream != nil:
		done, err = c.writeStreamChunk(node)
	case node.file != nil:
		done, err = c.writeFileChunk(node)
	default:
		done, err = c.writeDataChunk(node)
	}
	if err != nil {
		if errors.Is(err, errEAgain) {
			return
		}
		c.handleError()
		return
	}
	if done {
		node.close()
		c.writeBuf = c.writeBuf[1:]
		if len(c.writeBuf) == 0 {
			c.channel.DisableWriting()
			if c.onWriteComplete != nil {
				c.onWriteComplete(c)
			}
			if connStatus(c.status.Load()) == statusDisconnecting {
				c.shutdownInLoop()
			}
		}
	}
}

func (c *Conn) writeDataChunk(node *bufferNode) (done bool, err error) {
	n, err := c.sock.Write(node.data)
	if err != nil {
		return false, err
	}
	if n > 0 {
		c.bytesSent.Add(uint64(n))
		node.data = node.data[n:]
	}
	return len(node.data) == 0, nil
}

// stagingBufferSize is the staging buffer reused across file/stream
// send operations, matching the original's fixed 16 KiB buffer.
const stagingBufferSize = 16 * 1024

// writeFileChunkGeneric is the read-then-write fallback used on
// platforms without a wired sendfile(2) fast path (see
// sendfile_linux.go / sendfile_other.go).
func (c *Conn) writeFileChunkGeneric(node *bufferNode) (done bool, err error) {
	if node.remain <= 0 {
		return true, nil
	}
	if c.fileChunk == nil {
		c.fileChunk = make([]byte, stagingBufferSize)
	}
	chunk := c.fileChunk
	if int64(len(chunk)) > node.remain {
		chunk = chunk[:node.remain]
	}
	rn, rerr := node.file.Read(chunk)
	if rn > 0 {
		wn, werr := c.sock.Write(chunk[:rn])
		if wn < 0 {
			wn = 0
		}
		if wn > 0 {
			c.bytesSent.Add(uint64(wn))
			node.remain -= int64(wn)
		}
		if wn < rn {
			if _, serr := node.file.Seek(int64(wn-rn), io.SeekCurrent); serr != nil {
				return false, serr
			}
			return false, werr
		}
	}
	if rerr != nil && rerr != io.EOF {
		return false, rerr
	}
	return node.remain <= 0 || rerr == io.EOF, nil
}

func (c *Conn) writeStreamChunk(node *bufferNode) (done bool, err error) {
	if c.fileChunk == nil {
		c.fileChunk = make([]byte, stagingBufferSize)
	}
	n, streamDone := node.stream(c.fileChunk)
	if n > 0 {
		wn, werr := c.sock.Write(c.fileChunk[:n])
		if wn > 0 {
			c.bytesSent.Add(uint64(wn))
		}
		if werr != nil {
			return false, werr
		}
	}
	return streamDone, nil
}

// Shutdown half-closes the write side once the queued write buffer drains,
// mirroring TcpConnectionImpl::shutdown (a graceful FIN, as opposed to
// ForceClose).
func (c *Conn) Shutdown() {
	c.loop.RunInLoop(func() {
		if connStatus(c.status.Load()) != statusConnected {
			return
		}
		c.status.Store(int32(statusDisconnecting))
		if !c.channel.IsWriting() {
			c.shutdownInLoop()
		}
	})
}

func (c *Conn) shutdownInLoop() {
	_ = c.sock.CloseWrite()
}

func (c *Conn) handleClose() {
	c.loop.AssertInLoopThread()
	if connStatus(c.status.Load()) == statusDisconnected {
		return
	}
	c.status.Store(int32(statusDisconnected))
	c.channel.DisableAll()
	c.channel.Remove()
	for _, n := range c.writeBuf {
		n.close()
	}
	c.writeBuf = nil
	if c.onConnection != nil {
		c.onConnection(c)
	}
	if c.onClose != nil {
		c.onClose(c)
	}
	_ = c.sock.Close()
}

func (c *Conn) handleError() {
	_ = c.sock.GetSocketError()
	c.handleClose()
}

// ForceClose tears the connection down immediately, regardless of any
// queued writes. Safe to call from any goroutine.
func (c *Conn) ForceClose() {
	c.loop.RunInLoop(c.handleClose)
}
