package reactor

// ioState tracks a Channel's membership in the poller so re-enabling after
// DisableAll issues an add rather than a modify, and a genuine removal only
// issues a delete if the channel was actually added (mirrors the epoll
// backend's New/Added/Deleted membership states from the original source).
type ioState int

const (
	ioStateNew ioState = iota
	ioStateAdded
	ioStateDeleted
)

// Event mask bits, matching the original's use of POLLIN|POLLPRI for
// readability and POLLOUT for writability.
type Event uint32

const (
	EventNone Event = 0
	// EventRead covers ordinary readable and priority data.
	EventRead Event = 1 << (iota - 1)
	EventWrite
	EventError
	EventHangup
)

// ReadCallback and friends carry the four per-fd callbacks a Channel
// dispatches to.
type (
	ReadCallback  func()
	WriteCallback func()
	CloseCallback func()
	ErrorCallback func()
)

// Channel is the per-fd registration object: an interest mask, the most
// recently delivered event mask, an index into the poller's bookkeeping,
// and the four dispatch callbacks. handleEvent is the single entry point
// the poller calls.
type Channel struct {
	loop   *Loop
	fd     int
	events Event
	revent Event
	index  int
	state  ioState
	added  bool

	onRead  ReadCallback
	onWrite WriteCallback
	onClose CloseCallback
	onError ErrorCallback

	// tie, if set, gates dispatch on the owner still being reachable,
	// matching the original's weak_ptr tie used by TcpConnection so a
	// closed connection's in-flight channel events are dropped rather
	// than acting on freed state.
	tie     func() (any, bool)
	onEvent func(Event) // override used only by the wakeup channel
}

// NewChannel constructs a Channel for fd, owned by loop. The channel is
// not yet registered with the poller; call EnableReading/EnableWriting to
// do so.
func NewChannel(loop *Loop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, index: -1, state: ioStateNew}
}

func (c *Channel) Fd() int { return c.fd }

func (c *Channel) SetReadCallback(cb ReadCallback)   { c.onRead = cb }
func (c *Channel) SetWriteCallback(cb WriteCallback) { c.onWrite = cb }
func (c *Channel) SetCloseCallback(cb CloseCallback) { c.onClose = cb }
func (c *Channel) SetErrorCallback(cb ErrorCallback) { c.onError = cb }

// SetEventCallback installs an override that receives the raw event mask
// directly, bypassing the read/write/close/error dispatch order. Used only
// by the loop's own wakeup fd channel.
func (c *Channel) SetEventCallback(cb func(Event)) { c.onEvent = cb }

// Tie arranges for handleEvent to no-op once owner is no longer
// reachable, mirroring Channel::tie(weak_ptr<void>).
func (c *Channel) Tie(tryLock func() (any, bool)) { c.tie = tryLock }

func (c *Channel) IsWriting() bool { return c.events&EventWrite != 0 }
func (c *Channel) IsReading() bool { return c.events&EventRead != 0 }
func (c *Channel) IsNoneEvent() bool { return c.events == EventNone }

func (c *Channel) EnableReading() {
	c.events |= EventRead
	c.update()
}

func (c *Channel) DisableReading() {
	c.events &^= EventRead
	c.update()
}

func (c *Channel) EnableWriting() {
	c.events |= EventWrite
	c.update()
}

func (c *Channel) DisableWriting() {
	c.events &^= EventWrite
	c.update()
}

func (c *Channel) DisableAll() {
	c.events = EventNone
	c.update()
}

func (c *Channel) update() {
	c.added = c.events != EventNone
	c.loop.updateChannel(c)
}

// Remove must be called only once the channel's interest mask is empty
// (DisableAll first); the original asserts this.
func (c *Channel) Remove() {
	assertf(c.events == EventNone, "channel.Remove called with non-empty interest mask")
	c.loop.removeChannel(c)
}

// setRevents records the events the poller observed ready, called by the
// poller backends just before handleEvent.
func (c *Channel) setRevents(ev Event) { c.revent = ev }

// handleEvent is the poller's single entry point into a channel. If tied,
// the owner must still be reachable or the event is dropped.
func (c *Channel) handleEvent() {
	if c.events == EventNone {
		return
	}
	if c.tie != nil {
		if _, ok := c.tie(); !ok {
			return
		}
	}
	c.handleEventSafely()
}

// handleEventSafely dispatches via independent checks, not a mutually
// exclusive switch: close, error, read, and write can all fire out of a
// single handleEvent call when their bits are co-set, matching the
// original's four independent `if` statements
// (original_source/netpoll/net/channel.cc) rather than treating e.g.
// EventError as suppressing a co-occurring EventRead.
func (c *Channel) handleEventSafely() {
	if c.onEvent != nil {
		c.onEvent(c.revent)
		return
	}
	if c.revent&EventHangup != 0 && c.revent&EventRead == 0 {
		if c.onClose != nil {
			c.onClose()
		}
	}
	if c.revent&EventError != 0 {
		if c.onError != nil {
			c.onError()
		}
	}
	if c.revent&EventRead != 0 && c.onRead != nil {
		c.onRead()
	}
	if c.revent&EventWrite != 0 && c.onWrite != nil {
		c.onWrite()
	}
}
