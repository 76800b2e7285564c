//go:build !linux && !darwin && !windows

package reactor

import "golang.org/x/sys/unix"

// pollPoller is the generic portable backend for platforms without a
// dedicated epoll/kqueue implementation here, grounded on spec.md §4.2's
// "poll backend: vector of pollfd kept aligned with a map fd→channel;
// disabled entries negated to -(fd+1) and filtered out".
type pollPoller struct {
	fds      []unix.PollFd
	index    map[int]int // fd -> index into fds
	channels map[int]*Channel
}

func newPoller() (Poller, error) {
	return &pollPoller{
		index:    make(map[int]int),
		channels: make(map[int]*Channel),
	}, nil
}

func (p *pollPoller) Update(ch *Channel) {
	var mask int16
	if ch.events&EventRead != 0 {
		mask |= unix.POLLIN | unix.POLLPRI
	}
	if ch.events&EventWrite != 0 {
		mask |= unix.POLLOUT
	}
	if idx, ok := p.index[ch.fd]; ok {
		if mask == 0 {
			// Negate rather than remove, matching the original's
			// "disabled entries negated to -(fd+1)" so the slot is
			// reusable without a full rebuild.
			p.fds[idx].Fd = int32(-(ch.fd + 1))
		} else {
			p.fds[idx].Fd = int32(ch.fd)
			p.fds[idx].Events = mask
		}
		return
	}
	p.channels[ch.fd] = ch
	p.index[ch.fd] = len(p.fds)
	p.fds = append(p.fds, unix.PollFd{Fd: int32(ch.fd), Events: mask})
	ch.state = ioStateAdded
}

func (p *pollPoller) Remove(ch *Channel) {
	idx, ok := p.index[ch.fd]
	if !ok {
		return
	}
	last := len(p.fds) - 1
	p.fds[idx] = p.fds[last]
	p.fds = p.fds[:last]
	if p.fds[idx].Fd >= 0 {
		p.index[int(p.fds[idx].Fd)] = idx
	}
	delete(p.index, ch.fd)
	delete(p.channels, ch.fd)
	ch.state = ioStateNew
}

func (p *pollPoller) Poll(timeoutMs int) ([]*Channel, error) {
	n, err := unix.Poll(p.fds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]*Channel, 0, n)
	if n == 0 {
		return out, nil
	}
	for _, pfd := range p.fds {
		if pfd.Fd < 0 || pfd.Revents == 0 {
			continue
		}
		ch, ok := p.channels[int(pfd.Fd)]
		if !ok {
			continue
		}
		var ev Event
		if pfd.Revents&(unix.POLLIN|unix.POLLPRI) != 0 {
			ev |= EventRead
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			ev |= EventWrite
		}
		if pfd.Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			ev |= EventError
		}
		if pfd.Revents&unix.POLLHUP != 0 {
			ev |= EventHangup
		}
		ch.setRevents(ev)
		out = append(out, ch)
	}
	return out, nil
}

func (p *pollPoller) Close() error { return nil }
