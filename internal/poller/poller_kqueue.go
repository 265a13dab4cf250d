//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package poller

import (
	"errors"

	"golang.org/x/sys/unix"
)

// kqueuePoller wraps a BSD/Darwin kqueue instance. Unlike epoll, kqueue
// tracks read and write readiness as independent filters per fd, so
// Add/Modify/Remove translate an Interest bitmask into up to two
// EV_ADD/EV_DELETE changes.
type kqueuePoller struct {
	kq           int
	wakeRead     int
	wakeWrite    int
	lastInterest map[int]Interest
}

func New() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = unix.Close(kq)
		return nil, err
	}
	p := &kqueuePoller{
		kq:           kq,
		wakeRead:     fds[0],
		wakeWrite:    fds[1],
		lastInterest: make(map[int]Interest),
	}
	change := unix.Kevent_t{}
	unix.SetKevent(&change, p.wakeRead, unix.EVFILT_READ, unix.EV_ADD)
	if _, err := unix.Kevent(p.kq, []unix.Kevent_t{change}, nil, nil); err != nil {
		_ = unix.Close(p.wakeRead)
		_ = unix.Close(p.wakeWrite)
		_ = unix.Close(kq)
		return nil, err
	}
	return p, nil
}

func (p *kqueuePoller) changesFor(fd int, interest Interest) []unix.Kevent_t {
	prev := p.lastInterest[fd]
	wantRead := interest.Has(Readable)
	wantWrite := interest.Has(Writable) || interest.Has(Connectable)
	hadRead := prev.Has(Readable)
	hadWrite := prev.Has(Writable) || prev.Has(Connectable)

	var changes []unix.Kevent_t
	if wantRead != hadRead {
		flag := unix.EV_DELETE
		if wantRead {
			flag = unix.EV_ADD
		}
		kev := unix.Kevent_t{}
		unix.SetKevent(&kev, fd, unix.EVFILT_READ, flag)
		changes = append(changes, kev)
	}
	if wantWrite != hadWrite {
		flag := unix.EV_DELETE
		if wantWrite {
			flag = unix.EV_ADD
		}
		kev := unix.Kevent_t{}
		unix.SetKevent(&kev, fd, unix.EVFILT_WRITE, flag)
		changes = append(changes, kev)
	}
	p.lastInterest[fd] = interest
	return changes
}

func (p *kqueuePoller) Add(fd int, interest Interest) error {
	changes := p.changesFor(fd, interest)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Modify(fd int, interest Interest) error {
	return p.Add(fd, interest)
}

func (p *kqueuePoller) Remove(fd int) error {
	prev, ok := p.lastInterest[fd]
	if !ok {
		return nil
	}
	var changes []unix.Kevent_t
	if prev.Has(Readable) {
		kev := unix.Kevent_t{}
		unix.SetKevent(&kev, fd, unix.EVFILT_READ, unix.EV_DELETE)
		changes = append(changes, kev)
	}
	if prev.Has(Writable) || prev.Has(Connectable) {
		kev := unix.Kevent_t{}
		unix.SetKevent(&kev, fd, unix.EVFILT_WRITE, unix.EV_DELETE)
		changes = append(changes, kev)
	}
	delete(p.lastInterest, fd)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	if errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}

func (p *kqueuePoller) Wakeup() error {
	_, err := unix.Write(p.wakeWrite, []byte{1})
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return err
}

func (p *kqueuePoller) drainWake() {
	var buf [64]byte
	for {
		_, err := unix.Read(p.wakeRead, buf[:])
		if err != nil {
			return
		}
	}
}

func (p *kqueuePoller) Wait(events []Event) (int, error) {
	raw := make([]unix.Kevent_t, len(events)+1)
	for {
		n, err := unix.Kevent(p.kq, nil, raw, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		out := 0
		merged := make(map[int]Interest)
		order := make([]int, 0, n)
		for i := 0; i < n; i++ {
			fd := int(raw[i].Ident)
			if fd == p.wakeRead {
				p.drainWake()
				continue
			}
			if _, seen := merged[fd]; !seen {
				order = append(order, fd)
			}
			switch raw[i].Filter {
			case unix.EVFILT_READ:
				merged[fd] |= Readable
			case unix.EVFILT_WRITE:
				merged[fd] |= Writable | Connectable
			}
			if raw[i].Flags&unix.EV_ERROR != 0 || raw[i].Flags&unix.EV_EOF != 0 {
				merged[fd] |= Readable
			}
		}
		for _, fd := range order {
			if out >= len(events) {
				break
			}
			events[out] = Event{FD: fd, Interest: merged[fd]}
			out++
		}
		return out, nil
	}
}

func (p *kqueuePoller) Close() error {
	_ = unix.Close(p.wakeRead)
	_ = unix.Close(p.wakeWrite)
	return unix.Close(p.kq)
}
