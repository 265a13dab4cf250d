//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

// Package network implements the Network Gateway: a non-blocking
// reactor multiplexing any number of UDP and TCP sockets behind a single
// OS selector, reachable only through request/response messages carried
// on buses.
//
// Every socket operation — create, write, close — is submitted as a
// message on the Gateway's request bus and answered asynchronously on a
// response bus the caller supplies. The Gateway itself never calls a
// caller synchronously; see bus.Bus and the message package for the
// full contract.
package network

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"

	"github.com/joshuafuller/portmap/bus"
	"github.com/joshuafuller/portmap/internal/poller"
	"github.com/joshuafuller/portmap/message"
	"github.com/joshuafuller/portmap/poserr"
	"golang.org/x/sys/unix"
)

const defaultScratchSize = 65535

// errKilled distinguishes an intentional Kill from a selector crash so
// the shutdown log line doesn't read as an error.
var errKilled = errors.New("network gateway: killed")

// RequestBus is the handle callers submit requests through. Send both
// enqueues the message and wakes the Gateway's reactor goroutine if it
// is currently blocked in the selector with no socket activity pending.
type RequestBus struct {
	*bus.Bus
	wake func()
}

// Send enqueues message for the Gateway to process and ensures its
// reactor promptly notices, even if the selector would otherwise block
// indefinitely waiting on socket readiness alone.
func (r *RequestBus) Send(message any) {
	r.Bus.Send(message)
	r.wake()
}

// Gateway is the Network Gateway actor: a single reactor goroutine
// driving one OS selector, with state touched by no other goroutine.
type Gateway struct {
	logger      *slog.Logger
	scratchSize int

	request *RequestBus
	poll    poller.Poller

	entries map[int]*entry
	byFD    map[int]*entry
	nextID  int

	scratch []byte
	done    chan struct{}
}

// NewGateway opens the gateway's OS selector and starts its reactor
// goroutine. Send message.Kill on the returned Gateway's Bus to shut it
// down; every socket still open at that point receives exactly one
// *poserr.IdentifiableError.
func NewGateway(opts ...Option) (*Gateway, error) {
	p, err := poller.New()
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		scratchSize: defaultScratchSize,
		entries:     make(map[int]*entry),
		byFD:        make(map[int]*entry),
		poll:        p,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.scratch = make([]byte, g.scratchSize)
	g.request = &RequestBus{Bus: bus.New(), wake: func() { _ = g.poll.Wakeup() }}
	go g.run()
	return g, nil
}

// Bus returns the gateway's request bus.
func (g *Gateway) Bus() *RequestBus { return g.request }

// Done is closed once the reactor goroutine has returned, after Kill or
// an unrecoverable selector failure.
func (g *Gateway) Done() <-chan struct{} { return g.done }

func (g *Gateway) run() {
	defer close(g.done)
	events := make([]poller.Event, 64)
	for {
		n, err := g.poll.Wait(events)
		if err != nil {
			g.shutdownAll(err)
			return
		}
		for i := 0; i < n; i++ {
			g.handleEvent(events[i])
		}
		if g.drainRequests() {
			return
		}
	}
}

func (g *Gateway) allocID() int {
	id := g.nextID
	g.nextID++
	return id
}

// --- reactor: socket readiness dispatch ---

func (g *Gateway) handleEvent(ev poller.Event) {
	e, ok := g.byFD[ev.FD]
	if !ok {
		_ = unix.Close(ev.FD)
		return
	}

	if e.kind == kindTCP {
		if e.connecting && ev.Interest.Has(poller.Connectable) {
			g.handleConnectable(e)
		}
		if _, alive := g.entries[e.id]; alive && ev.Interest.Has(poller.Readable) {
			g.handleTCPReadable(e)
		}
		if _, alive := g.entries[e.id]; alive && ev.Interest.Has(poller.Writable) {
			g.handleTCPWritable(e)
		}
	} else {
		if ev.Interest.Has(poller.Readable) {
			g.handleUDPReadable(e)
		}
		if _, alive := g.entries[e.id]; alive && ev.Interest.Has(poller.Writable) {
			g.handleUDPWritable(e)
		}
	}

	if _, alive := g.entries[e.id]; alive {
		g.updateInterest(e)
	}
}

func (g *Gateway) handleConnectable(e *entry) {
	if err := connectError(e.fd); err != nil {
		g.failEntry(e, "connect", err)
		return
	}
	e.connecting = false
	e.responseBus.Send(message.ConnectedTCPNotification{ID: e.id})
}

func (g *Gateway) handleTCPReadable(e *entry) {
	n, err := unix.Read(e.fd, g.scratch)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		g.failEntry(e, "read", err)
		return
	}
	if n == 0 {
		// Orderly shutdown by the peer reads as n==0: there is no
		// half-close support, so this tears the whole socket down.
		g.failEntry(e, "read", io.EOF)
		return
	}
	chunk := make([]byte, n)
	copy(chunk, g.scratch[:n])
	e.responseBus.Send(message.ReadTCPNotification{ID: e.id, Bytes: chunk})
}

func (g *Gateway) handleTCPWritable(e *entry) {
	for len(e.outgoingTCP) > 0 {
		w := &e.outgoingTCP[0]
		n, err := unix.Write(e.fd, w.buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			g.failEntry(e, "write", err)
			return
		}
		w.buf = w.buf[n:]
		if len(w.buf) > 0 {
			return // partial write: wait for the next writable event
		}
		total := w.total
		e.outgoingTCP = e.outgoingTCP[1:]
		e.responseBus.Send(message.WriteTCPResponse{ID: e.id, N: total})
	}
	if !e.notifiedWritable {
		e.notifiedWritable = true
		e.responseBus.Send(message.WriteEmptyTCPNotification{ID: e.id})
	}
}

func (g *Gateway) handleUDPReadable(e *entry) {
	n, from, err := unix.Recvfrom(e.fd, g.scratch, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		g.failEntry(e, "recvfrom", err)
		return
	}
	if from == nil {
		return
	}
	chunk := make([]byte, n)
	copy(chunk, g.scratch[:n])
	e.responseBus.Send(message.ReadUDPNotification{
		ID:            e.id,
		LocalAddress:  localSockaddr(e.fd),
		RemoteAddress: sockaddrToHostPort(from),
		Bytes:         chunk,
	})
}

func (g *Gateway) handleUDPWritable(e *entry) {
	if len(e.outgoingUDP) > 0 {
		head := e.outgoingUDP[0]
		err := unix.Sendto(e.fd, head.buf, 0, head.dest)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			g.failEntry(e, "sendto", err)
			return
		}
		e.outgoingUDP = e.outgoingUDP[1:]
		e.responseBus.Send(message.WriteUDPResponse{ID: e.id, N: len(head.buf)})
		return
	}
	if !e.notifiedWritable {
		e.notifiedWritable = true
		e.responseBus.Send(message.WriteEmptyUDPNotification{ID: e.id})
	}
}

func (g *Gateway) updateInterest(e *entry) {
	want := e.wantInterest()
	if want == e.interest {
		return
	}
	if err := g.poll.Modify(e.fd, want); err != nil {
		g.failEntry(e, "poll modify", err)
		return
	}
	e.interest = want
}

func (g *Gateway) failEntry(e *entry, op string, err error) {
	g.destroyEntry(e)
	if g.logger != nil {
		g.logger.Debug("network gateway: entry failed", "id", e.id, "op", op, "err", err)
	}
	e.responseBus.Send(&poserr.IdentifiableError{ID: e.id, Operation: op, Err: err})
}

func (g *Gateway) destroyEntry(e *entry) {
	_ = g.poll.Remove(e.fd)
	delete(g.byFD, e.fd)
	delete(g.entries, e.id)
	_ = unix.Close(e.fd)
}

// --- request dispatch: drained once per reactor iteration, after every
// ready socket has been serviced ---

func (g *Gateway) drainRequests() (shutdown bool) {
	for {
		msg, ok := g.request.Bus.TryRecv()
		if !ok {
			return false
		}
		if g.handleRequest(msg) {
			return true
		}
	}
}

func (g *Gateway) handleRequest(msg any) (isKill bool) {
	switch m := msg.(type) {
	case message.CreateUDP:
		g.handleCreateUDP(m)
	case message.CreateTCP:
		g.handleCreateTCP(m)
	case message.WriteTCP:
		g.handleWriteTCP(m)
	case message.WriteUDP:
		g.handleWriteUDP(m)
	case message.Close:
		g.handleClose(m)
	case message.GetLocalIPAddresses:
		g.handleGetLocalIPAddresses(m)
	case message.Kill:
		g.handleKill(m)
		return true
	default:
		if g.logger != nil {
			g.logger.Warn("network gateway: unrecognized request", "type", fmt.Sprintf("%T", msg))
		}
	}
	return false
}

func (g *Gateway) handleCreateUDP(m message.CreateUDP) {
	src := m.SourceAddress
	if _, _, err := net.SplitHostPort(src); err != nil {
		// A bare host carries no port: bind port 0 so the OS picks one.
		src = net.JoinHostPort(src, "0")
	}
	sa, family, err := resolveUDPSockaddr(src)
	if err != nil {
		m.ResponseBus.Send(&poserr.Error{Operation: "create-udp", Err: err})
		return
	}
	fd, err := newSocket(family, unix.SOCK_DGRAM)
	if err != nil {
		m.ResponseBus.Send(&poserr.Error{Operation: "create-udp", Err: err})
		return
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		m.ResponseBus.Send(&poserr.Error{Operation: "create-udp", Err: err})
		return
	}

	e := &entry{id: g.allocID(), fd: fd, kind: kindUDP, responseBus: m.ResponseBus}
	e.interest = e.wantInterest()
	if err := g.poll.Add(fd, e.interest); err != nil {
		_ = unix.Close(fd)
		m.ResponseBus.Send(&poserr.Error{Operation: "create-udp", Err: err})
		return
	}
	g.entries[e.id] = e
	g.byFD[fd] = e
	m.ResponseBus.Send(message.CreateUDPResponse{ID: e.id})
}

func (g *Gateway) handleCreateTCP(m message.CreateTCP) {
	destAddr := net.JoinHostPort(m.DestinationAddress, strconv.Itoa(m.DestinationPort))
	destSA, family, err := resolveTCPSockaddr(destAddr)
	if err != nil {
		m.ResponseBus.Send(&poserr.Error{Operation: "create-tcp", Err: err})
		return
	}
	fd, err := newSocket(family, unix.SOCK_STREAM)
	if err != nil {
		m.ResponseBus.Send(&poserr.Error{Operation: "create-tcp", Err: err})
		return
	}
	if m.SourceAddress != "" {
		src := m.SourceAddress
		if _, _, err := net.SplitHostPort(src); err != nil {
			src = net.JoinHostPort(src, "0")
		}
		if srcSA, _, err := resolveTCPSockaddr(src); err == nil {
			_ = unix.Bind(fd, srcSA)
		}
	}

	e := &entry{id: g.allocID(), fd: fd, kind: kindTCP, responseBus: m.ResponseBus, connecting: true}

	connectErr := unix.Connect(fd, destSA)
	if connectErr != nil && connectErr != unix.EINPROGRESS {
		// The id is already allocated, so CreateTCP still answers with
		// CreateTCPResponse before the failure surfaces as an
		// IdentifiableError — a caller always learns the id it can
		// correlate the failure against.
		e.interest = poller.Readable
		g.entries[e.id] = e
		g.byFD[fd] = e
		m.ResponseBus.Send(message.CreateTCPResponse{ID: e.id})
		g.failEntry(e, "connect", connectErr)
		return
	}

	e.interest = e.wantInterest()
	if err := g.poll.Add(fd, e.interest); err != nil {
		_ = unix.Close(fd)
		m.ResponseBus.Send(&poserr.Error{Operation: "create-tcp", Err: err})
		return
	}
	g.entries[e.id] = e
	g.byFD[fd] = e
	m.ResponseBus.Send(message.CreateTCPResponse{ID: e.id})
}

func (g *Gateway) handleWriteTCP(m message.WriteTCP) {
	e, ok := g.entries[m.ID]
	if !ok {
		return // stale id: Close already happened, safe no-op
	}
	e.enqueueTCP(m.Bytes)
	g.updateInterest(e)
}

func (g *Gateway) handleWriteUDP(m message.WriteUDP) {
	e, ok := g.entries[m.ID]
	if !ok {
		return
	}
	dest, _, err := resolveUDPSockaddr(m.RemoteAddress)
	if err != nil {
		if g.logger != nil {
			g.logger.Warn("network gateway: bad write-udp destination", "id", m.ID, "err", err)
		}
		return
	}
	e.enqueueUDP(m.Bytes, dest)
	g.updateInterest(e)
}

func (g *Gateway) handleClose(m message.Close) {
	e, ok := g.entries[m.ID]
	if !ok {
		return // Close on an already-gone id is always safe
	}
	respBus := e.responseBus
	g.destroyEntry(e)
	respBus.Send(message.CloseResponse{ID: m.ID})
}

func (g *Gateway) handleGetLocalIPAddresses(m message.GetLocalIPAddresses) {
	addrs, err := localNonLoopbackAddresses()
	if err != nil {
		m.ResponseBus.Send(&poserr.Error{Operation: "get-local-ip-addresses", Err: err})
		return
	}
	m.ResponseBus.Send(message.GetLocalIPAddressesResponse{Addresses: addrs})
}

func (g *Gateway) handleKill(m message.Kill) {
	g.shutdownAll(errKilled)
	if m.ResponseBus != nil {
		m.ResponseBus.Send(message.KillResponse{})
	}
}

// shutdownAll closes every remaining entry, posting exactly one
// *poserr.IdentifiableError per id, then releases the selector. cause
// distinguishes an intentional Kill (errKilled, logged at Debug) from an
// unrecoverable selector crash (logged at Error).
func (g *Gateway) shutdownAll(cause error) {
	if g.logger != nil {
		if errors.Is(cause, errKilled) {
			g.logger.Debug("network gateway: shutting down")
		} else {
			g.logger.Error("network gateway: selector failed, shutting down", "err", cause)
		}
	}
	for id, e := range g.entries {
		respBus := e.responseBus
		fd := e.fd
		delete(g.entries, id)
		delete(g.byFD, fd)
		_ = unix.Close(fd)
		respBus.Send(&poserr.IdentifiableError{ID: id, Operation: "shutdown", Err: cause})
	}
	_ = g.poll.Close()
}
