//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package process

import "github.com/joshuafuller/portmap/message"

// The four worker threads a Process Entry owns never touch gateway state
// directly; they post one of these internal messages onto the gateway's
// own request bus, the same bus external callers submit on. The
// consumer goroutine is the only place any entry is mutated.

// internalReadChunk carries a chunk read from a child's stdout or
// stderr pipe.
type internalReadChunk struct {
	id     int
	stream message.Stream
	bytes  []byte
}

// internalStdinDrained reports that the stdin writer's queue emptied
// after a write. The gateway turns at most one of these per drain cycle
// into a WriteEmptyProcessNotification.
type internalStdinDrained struct {
	id int
}

// internalTerminated reports that a child has exited, observed by the
// exit-waiter thread blocked in cmd.Wait(). exitCode is valid only when
// err is nil or an *exec.ExitError; any other err means the code could
// not be determined.
type internalTerminated struct {
	id       int
	exitCode int
	err      error
}
