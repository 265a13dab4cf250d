// Package poller wraps the OS-level readiness multiplexer the Network
// Gateway owns: one selector, registered file descriptors, one blocking
// Wait call per reactor iteration.
//
// This is deliberately not exported outside the module — it is plumbing
// for network.Gateway, not part of the surface a protocol driver sees.
package poller

import "errors"

// ErrUnsupportedPlatform is returned by New on platforms with no
// suitable readiness-multiplexing syscall available through
// golang.org/x/sys. The async-IO library this design is grounded on
// (gaio) draws the same line: its watcher only builds for
// linux, darwin, netbsd, freebsd, openbsd, dragonfly.
var ErrUnsupportedPlatform = errors.New("poller: unsupported platform")

// Interest is a bitmask of readiness conditions to watch a descriptor
// for.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
	// Connectable is only meaningful while a non-blocking connect is in
	// flight; on most selectors it is reported as writable readiness,
	// but kept distinct here so callers can tell a completed connect
	// apart from ordinary write readiness.
	Connectable
)

func (i Interest) Has(bit Interest) bool { return i&bit != 0 }

// Event reports readiness for one registered descriptor after Wait
// returns.
type Event struct {
	FD       int
	Interest Interest
}

// Poller is the minimal selector contract the Network Gateway drives its
// reactor loop with. Implementations are not safe for concurrent use —
// the gateway that owns one calls every method from its single reactor
// goroutine, per the substrate's single-threaded-actor design.
type Poller interface {
	// Add registers fd for the given interest. fd must not already be
	// registered.
	Add(fd int, interest Interest) error
	// Modify updates the interest set for an already-registered fd.
	Modify(fd int, interest Interest) error
	// Remove unregisters fd. Removing an fd that was never added, or
	// already removed, is a no-op.
	Remove(fd int) error
	// Wait blocks until at least one registered fd is ready, then fills
	// events with what fired and returns how many entries were
	// populated. Wait blocks indefinitely; the only way to unblock it
	// without an I/O event is to register a descriptor that becomes
	// ready (a self-pipe or eventfd), which is how Gateway wakes its own
	// reactor when a request arrives on an otherwise idle loop.
	Wait(events []Event) (int, error)
	// Wakeup interrupts a blocked Wait call from any goroutine. The
	// gateway's own request bus calls this after Send so a reactor
	// blocked in Wait with no socket activity still wakes promptly to
	// drain newly queued requests.
	Wakeup() error
	// Close releases the underlying selector handle. Registered
	// descriptors are not themselves closed.
	Close() error
}
