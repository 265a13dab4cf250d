// Package message defines the immutable request, response, and
// notification values carried on buses between callers and the two
// gateways. Values in this package are the only interface a protocol
// driver (NAT-PMP, PCP, UPnP, or anything else built on this substrate)
// needs to know about — nothing here depends on any particular
// driver's wire format.
//
// Every value is a plain struct meant to be constructed, sent, and
// never mutated afterward. A request that does not yet have an
// associated id (because none has been allocated) carries a ResponseBus
// field naming where its answer should be posted; requests scoped to an
// existing id are answered on the response bus that was supplied when
// that id was created.
package message

import "github.com/joshuafuller/portmap/bus"

// CreateUDP opens a non-blocking UDP socket bound to SourceAddress on an
// OS-chosen port. SourceAddress may also be given as "host:port", in
// which case that port is bound (port 0 lets the OS choose). Answered
// with CreateUDPResponse or *poserr.Error.
type CreateUDP struct {
	SourceAddress string
	ResponseBus   *bus.Bus
}

// CreateUDPResponse carries the id of a newly created UDP socket.
type CreateUDPResponse struct {
	ID int
}

// CreateTCP opens a non-blocking TCP socket, bound to SourceAddress (a
// host or "host:port") if non-empty, and begins an asynchronous connect
// to DestinationAddress:DestinationPort. A SourceAddress that cannot be
// resolved or bound is ignored and the socket connects unbound. Answered
// immediately with CreateTCPResponse; ConnectedTCPNotification or
// *poserr.IdentifiableError follow once the handshake resolves. If the
// destination cannot be resolved or the socket cannot be created or
// registered, the answer is *poserr.Error instead and no id is issued.
type CreateTCP struct {
	SourceAddress      string
	DestinationAddress string
	DestinationPort    int
	ResponseBus        *bus.Bus
}

// CreateTCPResponse carries the id of a newly created (not yet connected)
// TCP socket.
type CreateTCPResponse struct {
	ID int
}

// ConnectedTCPNotification reports that a TCP socket's three-way
// handshake completed. Posted at most once per id.
type ConnectedTCPNotification struct {
	ID int
}

// WriteTCP enqueues bytes onto a TCP socket's outgoing stream. Empty
// writes are dropped silently — TCP has no message framing. There is no
// immediate response; WriteTCPResponse and WriteEmptyTCPNotification
// follow asynchronously on the id's response bus as the stream drains.
type WriteTCP struct {
	ID    int
	Bytes []byte
}

// WriteTCPResponse reports that a prefix of N bytes was actually written
// to the socket. One is posted for every enqueued WriteTCP request, in
// submission order.
type WriteTCPResponse struct {
	ID int
	N  int
}

// WriteEmptyTCPNotification is posted exactly once each time a TCP
// socket's outgoing queue transitions from non-empty to empty. A socket
// that has had no writes yet also gets one on its first writable event.
type WriteEmptyTCPNotification struct {
	ID int
}

// WriteUDP enqueues one datagram addressed to RemoteAddress.
type WriteUDP struct {
	ID            int
	RemoteAddress string
	Bytes         []byte
}

// WriteUDPResponse reports that a datagram of N bytes was sent. Posted
// once per WriteUDP request.
type WriteUDPResponse struct {
	ID int
	N  int
}

// WriteEmptyUDPNotification is posted exactly once each time a UDP
// socket's outgoing queue transitions from non-empty to empty. A socket
// that has had no writes yet also gets one on its first writable event.
type WriteEmptyUDPNotification struct {
	ID int
}

// ReadTCPNotification is posted once per successful read of at least one
// byte from a connected TCP socket.
type ReadTCPNotification struct {
	ID    int
	Bytes []byte
}

// ReadUDPNotification is posted once per datagram received on a UDP
// socket.
type ReadUDPNotification struct {
	ID            int
	LocalAddress  string
	RemoteAddress string
	Bytes         []byte
}

// Close closes a socket and removes it from both gateway indexes.
// Answered with CloseResponse. A Close on an id that no longer exists is
// a safe no-op.
type Close struct {
	ID int
}

// CloseResponse confirms that a socket was closed and un-indexed.
type CloseResponse struct {
	ID int
}

// GetLocalIPAddresses requests the set of non-loopback addresses bound
// to any local interface. Answered with GetLocalIPAddressesResponse or
// *poserr.Error.
type GetLocalIPAddresses struct {
	ResponseBus *bus.Bus
}

// GetLocalIPAddressesResponse carries every non-loopback address found,
// as textual IPs (IPv4 and IPv6, undistinguished and unordered).
type GetLocalIPAddressesResponse struct {
	Addresses []string
}

// Kill terminates the gateway loop. Every remaining entry is closed and
// a *poserr.IdentifiableError is posted for each on its own response
// bus. ResponseBus may be nil; if set, a KillResponse confirms the
// gateway has finished shutting down.
type Kill struct {
	ResponseBus *bus.Bus
}

// KillResponse confirms a gateway has finished its shutdown sequence.
type KillResponse struct{}
