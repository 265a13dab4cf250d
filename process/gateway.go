//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

// Package process implements the Process Gateway: a single-threaded
// supervisor that spawns child processes and streams their stdin,
// stdout, and stderr through asynchronous messages, reachable only
// through request/response buses.
//
// Unlike the Network Gateway, the Process Gateway has no selector to
// multiplex: its only suspension point is taking the next message off
// its request bus. Each child's stdio is instead driven by four worker
// threads (stdin writer, stdout reader, stderr reader, exit waiter) that
// report back by posting messages onto that same request bus — never by
// touching gateway state directly. See entry.go and
// internal_messages.go for the full back-edge contract.
package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"

	"github.com/joshuafuller/portmap/bus"
	"github.com/joshuafuller/portmap/message"
	"github.com/joshuafuller/portmap/poserr"
	"golang.org/x/sys/unix"
)

const defaultReadBufferSize = 4096

// Gateway is the Process Gateway actor: a single consumer goroutine,
// with state touched by no other goroutine.
type Gateway struct {
	logger         *slog.Logger
	readBufferSize int

	request *bus.Bus
	entries map[int]*entry
	nextID  int
	done    chan struct{}
}

// NewGateway starts the gateway's consumer goroutine. Send message.Kill
// on the returned Gateway's Bus to shut it down; every process still
// running at that point is killed and its terminal notification is
// posted before Kill completes.
func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		readBufferSize: defaultReadBufferSize,
		request:        bus.New(),
		entries:        make(map[int]*entry),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	go g.run()
	return g
}

// Bus returns the gateway's request bus.
func (g *Gateway) Bus() *bus.Bus { return g.request }

// Done is closed once the consumer goroutine has returned, after Kill.
func (g *Gateway) Done() <-chan struct{} { return g.done }

func (g *Gateway) run() {
	defer close(g.done)
	for {
		msg, ok := g.request.Recv()
		if !ok {
			return
		}
		if g.handleRequest(msg) {
			return
		}
	}
}

func (g *Gateway) allocID() int {
	id := g.nextID
	g.nextID++
	return id
}

func (g *Gateway) handleRequest(msg any) (isKill bool) {
	switch m := msg.(type) {
	case message.CreateProcess:
		g.handleCreateProcess(m)
	case message.WriteProcess:
		g.handleWriteProcess(m)
	case message.CloseProcess:
		g.handleCloseProcess(m)
	case internalReadChunk:
		g.handleInternalReadChunk(m)
	case internalStdinDrained:
		g.handleInternalStdinDrained(m)
	case internalTerminated:
		g.handleInternalTerminated(m)
	case message.Kill:
		g.handleKill(m)
		return true
	default:
		if g.logger != nil {
			g.logger.Warn("process gateway: unrecognized request", "type", fmt.Sprintf("%T", msg))
		}
	}
	return false
}

func (g *Gateway) handleCreateProcess(m message.CreateProcess) {
	cmd := exec.Command(m.Executable, m.Args...)
	// A new process group means Close-Process/Kill can terminate the
	// whole tree the child spawns (e.g. a shell's children), not just
	// the immediate child, by signaling -pid instead of pid.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		m.ResponseBus.Send(&poserr.Error{Operation: "create-process", Err: err})
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		m.ResponseBus.Send(&poserr.Error{Operation: "create-process", Err: err})
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		m.ResponseBus.Send(&poserr.Error{Operation: "create-process", Err: err})
		return
	}
	if err := cmd.Start(); err != nil {
		m.ResponseBus.Send(&poserr.Error{Operation: "create-process", Err: err})
		return
	}

	e := &entry{
		id:          g.allocID(),
		cmd:         cmd,
		stdin:       stdin,
		responseBus: m.ResponseBus,
		stdinBus:    bus.New(),
	}
	g.entries[e.id] = e

	go g.stdinWriter(e)
	go g.streamReader(e, message.Stdout, stdout)
	go g.streamReader(e, message.Stderr, stderr)
	go g.exitWaiter(e)

	m.ResponseBus.Send(message.CreateProcessResponse{ID: e.id})
}

func (g *Gateway) handleWriteProcess(m message.WriteProcess) {
	e, ok := g.entries[m.ID]
	if !ok || e.state == stateTerminating || len(m.Bytes) == 0 {
		return
	}
	e.notifiedWritable = false
	e.stdinBus.Send(m.Bytes)
}

func (g *Gateway) handleCloseProcess(m message.CloseProcess) {
	e, ok := g.entries[m.ID]
	if !ok || e.state == stateTerminating {
		return // already terminating or gone: safe no-op
	}
	e.state = stateTerminating
	_ = e.stdin.Close()
	killGroup(e.cmd)
}

func (g *Gateway) handleInternalReadChunk(m internalReadChunk) {
	e, ok := g.entries[m.id]
	if !ok {
		return
	}
	e.responseBus.Send(message.ReadProcessNotification{ID: m.id, Stream: m.stream, Bytes: m.bytes})
}

func (g *Gateway) handleInternalStdinDrained(m internalStdinDrained) {
	e, ok := g.entries[m.id]
	if !ok || e.notifiedWritable {
		return
	}
	e.notifiedWritable = true
	e.responseBus.Send(message.WriteEmptyProcessNotification{ID: m.id})
}

func (g *Gateway) handleInternalTerminated(m internalTerminated) {
	e, ok := g.entries[m.id]
	if !ok {
		return
	}
	delete(g.entries, m.id)
	e.stdinBus.Stop()

	if m.err == nil {
		e.responseBus.Send(message.ExitProcessNotification{ID: m.id, ExitCode: m.exitCode})
		return
	}
	var exitErr *exec.ExitError
	if errors.As(m.err, &exitErr) {
		e.responseBus.Send(message.ExitProcessNotification{ID: m.id, ExitCode: m.exitCode})
		return
	}
	if g.logger != nil {
		g.logger.Debug("process gateway: exit code unavailable", "id", m.id, "err", m.err)
	}
	e.responseBus.Send(&poserr.IdentifiableError{ID: m.id, Operation: "wait", Err: m.err})
}

func (g *Gateway) handleKill(m message.Kill) {
	if g.logger != nil {
		g.logger.Debug("process gateway: shutting down")
	}
	for _, e := range g.entries {
		_ = e.stdin.Close()
		killGroup(e.cmd)
	}
	// Every remaining entry's exit-waiter thread will still post
	// internalTerminated; keep consuming until each has cleaned up and
	// received its terminal notification. Stray reads and drain
	// notifications that arrive in the meantime are still forwarded;
	// new Create/Write/Close requests are not meaningful once shutdown
	// has started and are dropped.
	for len(g.entries) > 0 {
		msg, ok := g.request.Recv()
		if !ok {
			break
		}
		switch t := msg.(type) {
		case internalReadChunk:
			g.handleInternalReadChunk(t)
		case internalStdinDrained:
			g.handleInternalStdinDrained(t)
		case internalTerminated:
			g.handleInternalTerminated(t)
		}
	}
	if m.ResponseBus != nil {
		m.ResponseBus.Send(message.KillResponse{})
	}
}

// killGroup signals SIGKILL to a child's entire process group, set up
// via Setpgid at spawn, so a child that itself forked subprocesses (a
// shell, most notably) does not leave orphans behind. A bare
// cmd.Process.Kill() only reaches the immediate child.
func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}

// --- worker threads: the only code in this package that runs outside
// the gateway's consumer goroutine. Each reaches the gateway only by
// posting onto g.request. ---

func (g *Gateway) stdinWriter(e *entry) {
	for {
		msg, ok := e.stdinBus.Recv()
		if !ok {
			return
		}
		buf := msg.([]byte)
		if _, err := e.stdin.Write(buf); err != nil {
			return // broken pipe: the exit-waiter thread will report termination
		}
		if e.stdinBus.Len() == 0 {
			g.request.Send(internalStdinDrained{id: e.id})
		}
	}
}

func (g *Gateway) streamReader(e *entry, stream message.Stream, r io.ReadCloser) {
	buf := make([]byte, g.readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			g.request.Send(internalReadChunk{id: e.id, stream: stream, bytes: chunk})
		}
		if err != nil {
			return // EOF on process exit, or the pipe was torn down
		}
	}
}

func (g *Gateway) exitWaiter(e *entry) {
	err := e.cmd.Wait()
	exitCode := 0
	if e.cmd.ProcessState != nil {
		exitCode = e.cmd.ProcessState.ExitCode()
	}
	g.request.Send(internalTerminated{id: e.id, exitCode: exitCode, err: err})
}
