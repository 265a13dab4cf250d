//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package network

import (
	"github.com/joshuafuller/portmap/bus"
	"github.com/joshuafuller/portmap/internal/poller"
	"golang.org/x/sys/unix"
)

type kind int

const (
	kindUDP kind = iota
	kindTCP
)

// udpDatagram is one pending outgoing datagram: a buffer and the
// destination it is addressed to.
type udpDatagram struct {
	buf  []byte
	dest unix.Sockaddr
}

// tcpWrite is one pending outgoing TCP buffer. buf shrinks from the
// front as partial writes drain it; total is the originally requested
// length, reported in the eventual WriteTCPResponse once buf is fully
// drained.
type tcpWrite struct {
	buf   []byte
	total int
}

// entry is the per-socket record the Network Gateway owns. It is only
// ever touched from the gateway's single reactor goroutine.
type entry struct {
	id          int
	fd          int
	kind        kind
	responseBus *bus.Bus

	// TCP only.
	connecting  bool
	outgoingTCP []tcpWrite

	// UDP only.
	outgoingUDP []udpDatagram

	interest         poller.Interest
	notifiedWritable bool
}

// wantInterest computes the interest set a socket currently needs:
// readable always set; connectable iff TCP mid-connect; writable iff
// outgoing non-empty or a drain notification is still owed.
func (e *entry) wantInterest() poller.Interest {
	want := poller.Readable
	if e.kind == kindTCP && e.connecting {
		want |= poller.Connectable
	}
	if e.hasOutgoing() || !e.notifiedWritable {
		want |= poller.Writable
	}
	return want
}

func (e *entry) hasOutgoing() bool {
	if e.kind == kindTCP {
		return len(e.outgoingTCP) > 0
	}
	return len(e.outgoingUDP) > 0
}

// enqueueTCP appends bytes to the outgoing stream. Empty writes are
// dropped — TCP has no message framing, so an empty write would have no
// observable effect and must not spuriously clear notifiedWritable.
func (e *entry) enqueueTCP(b []byte) {
	if len(b) == 0 {
		return
	}
	wasEmpty := !e.hasOutgoing()
	e.outgoingTCP = append(e.outgoingTCP, tcpWrite{buf: b, total: len(b)})
	if wasEmpty {
		e.notifiedWritable = false
	}
}

// enqueueUDP appends one datagram to the outgoing queue.
func (e *entry) enqueueUDP(b []byte, dest unix.Sockaddr) {
	wasEmpty := !e.hasOutgoing()
	e.outgoingUDP = append(e.outgoingUDP, udpDatagram{buf: b, dest: dest})
	if wasEmpty {
		e.notifiedWritable = false
	}
}
