//go:build linux

package poller

import (
	"errors"

	"golang.org/x/sys/unix"
)

// epollPoller wraps a Linux epoll instance. Readiness interest is a
// single bitmask per fd (epoll_ctl replaces the whole event set on
// EPOLL_CTL_MOD), which maps directly onto the Interest bitmask.
type epollPoller struct {
	epfd   int
	wakeFD int // eventfd; drained internally, never surfaced as an Event
}

// New opens a fresh epoll instance together with an eventfd used to
// interrupt a blocked Wait from another goroutine.
func New() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	p := &epollPoller{epfd: epfd, wakeFD: wakeFD}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFD),
	}); err != nil {
		_ = unix.Close(wakeFD)
		_ = unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

func toEpollEvents(i Interest) uint32 {
	var ev uint32
	if i.Has(Readable) {
		ev |= unix.EPOLLIN
	}
	if i.Has(Writable) || i.Has(Connectable) {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) Add(fd int, interest Interest) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) Modify(fd int, interest Interest) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}

func (p *epollPoller) Wakeup() error {
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(p.wakeFD, buf[:])
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return err
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(p.wakeFD, buf[:])
		if err != nil {
			return
		}
	}
}

func (p *epollPoller) Wait(events []Event) (int, error) {
	raw := make([]unix.EpollEvent, len(events)+1)
	for {
		n, err := unix.EpollWait(p.epfd, raw, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		out := 0
		for i := 0; i < n; i++ {
			fd := int(raw[i].Fd)
			if fd == p.wakeFD {
				p.drainWake()
				continue
			}
			var in Interest
			if raw[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				in |= Readable
			}
			if raw[i].Events&(unix.EPOLLOUT|unix.EPOLLERR) != 0 {
				in |= Writable | Connectable
			}
			if out < len(events) {
				events[out] = Event{FD: fd, Interest: in}
				out++
			}
		}
		return out, nil
	}
}

func (p *epollPoller) Close() error {
	_ = unix.Close(p.wakeFD)
	return unix.Close(p.epfd)
}
