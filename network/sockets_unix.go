//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package network

import "golang.org/x/sys/unix"

// newSocket creates a non-blocking socket of the given family/socktype,
// ready to be bound and registered with the poller.
func newSocket(family, socktype int) (int, error) {
	fd, err := unix.Socket(family, socktype, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// connectError retrieves the pending error (if any) on a socket whose
// non-blocking connect just became writable-ready. A nil return means
// the connect completed successfully.
func connectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}
