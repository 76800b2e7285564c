//go:build windows

package reactor

import (
	"time"

	"golang.org/x/sys/windows"
)

// windowsPoller is a select-based fallback: Windows lacks epoll/kqueue, and
// a full IOCP-backed implementation is out of scope for this core (the
// teacher's poller_windows.go builds one; adapting it would mean carrying
// IOCP completion-packet plumbing that nothing else in this package uses).
// select() has a practical fd-set size ceiling, which is an accepted
// limitation of this backend: it exists for build-completeness on Windows,
// not for production fan-out there.
type windowsPoller struct {
	channels map[int]*Channel
}

func newPoller() (Poller, error) {
	return &windowsPoller{channels: make(map[int]*Channel)}, nil
}

func (p *windowsPoller) Update(ch *Channel) {
	if ch.events == EventNone {
		delete(p.channels, ch.fd)
		ch.state = ioStateDeleted
		return
	}
	p.channels[ch.fd] = ch
	ch.state = ioStateAdded
}

func (p *windowsPoller) Remove(ch *Channel) {
	delete(p.channels, ch.fd)
	ch.state = ioStateNew
}

func (p *windowsPoller) Poll(timeoutMs int) ([]*Channel, error) {
	var rd, wr windows.FdSet
	var maxFd int32
	for fd, ch := range p.channels {
		if ch.events&EventRead != 0 {
			fdSetAdd(&rd, fd)
		}
		if ch.events&EventWrite != 0 {
			fdSetAdd(&wr, fd)
		}
		if int32(fd) > maxFd {
			maxFd = int32(fd)
		}
	}
	tv := windows.NsecToTimeval(time.Duration(timeoutMs) * time.Millisecond)
	n, err := windows.Select(int(maxFd)+1, &rd, &wr, nil, &tv)
	if err != nil {
		return nil, err
	}
	out := make([]*Channel, 0, n)
	for fd, ch := range p.channels {
		var ev Event
		if fdSetHas(&rd, fd) {
			ev |= EventRead
		}
		if fdSetHas(&wr, fd) {
			ev |= EventWrite
		}
		if ev != 0 {
			ch.setRevents(ev)
			out = append(out, ch)
		}
	}
	return out, nil
}

func (p *windowsPoller) Close() error { return nil }

func fdSetAdd(set *windows.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdSetHas(set *windows.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}
