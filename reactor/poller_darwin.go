//go:build darwin

package reactor

import (
	"golang.org/x/sys/unix"
)

// kqueuePoller is grounded on original_source/netpoll/net/inner/poller/kqueue.h:
// one EVFILT_READ and one EVFILT_WRITE kevent per channel, enabled/disabled
// per interest-mask delta rather than a single combined registration.
type kqueuePoller struct {
	kq       int
	channels map[int]*Channel
	eventBuf []unix.Kevent_t
}

func newPoller() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{
		kq:       kq,
		channels: make(map[int]*Channel),
		eventBuf: make([]unix.Kevent_t, 16),
	}, nil
}

func (p *kqueuePoller) Update(ch *Channel) {
	p.channels[ch.fd] = ch
	var changes []unix.Kevent_t
	changes = append(changes, mkevent(ch.fd, unix.EVFILT_READ, ch.events&EventRead != 0))
	changes = append(changes, mkevent(ch.fd, unix.EVFILT_WRITE, ch.events&EventWrite != 0))
	_, _ = unix.Kevent(p.kq, changes, nil, nil)
	ch.state = ioStateAdded
	if ch.events == EventNone {
		ch.state = ioStateDeleted
	}
}

func mkevent(fd int, filter int16, enable bool) unix.Kevent_t {
	flags := uint16(unix.EV_DELETE)
	if enable {
		flags = unix.EV_ADD | unix.EV_ENABLE
	}
	return unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: flags}
}

func (p *kqueuePoller) Remove(ch *Channel) {
	changes := []unix.Kevent_t{
		mkevent(ch.fd, unix.EVFILT_READ, false),
		mkevent(ch.fd, unix.EVFILT_WRITE, false),
	}
	_, _ = unix.Kevent(p.kq, changes, nil, nil)
	delete(p.channels, ch.fd)
	ch.state = ioStateNew
}

func (p *kqueuePoller) Poll(timeoutMs int) ([]*Channel, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	seen := make(map[int]Event, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		fd := int(ev.Ident)
		if _, ok := seen[fd]; !ok {
			order = append(order, fd)
		}
		switch int16(ev.Filter) {
		case unix.EVFILT_READ:
			seen[fd] |= EventRead
		case unix.EVFILT_WRITE:
			seen[fd] |= EventWrite
		}
		if ev.Flags&unix.EV_EOF != 0 {
			seen[fd] |= EventHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			seen[fd] |= EventError
		}
	}
	out := make([]*Channel, 0, len(order))
	for _, fd := range order {
		ch, ok := p.channels[fd]
		if !ok {
			continue
		}
		ch.setRevents(seen[fd])
		out = append(out, ch)
	}
	if n == len(p.eventBuf) {
		p.eventBuf = make([]unix.Kevent_t, len(p.eventBuf)*2)
	}
	return out, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}
