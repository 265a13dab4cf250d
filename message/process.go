package message

import "github.com/joshuafuller/portmap/bus"

// Stream identifies which child-process stream a ReadProcessNotification
// chunk came from.
type Stream int

const (
	// Stdout identifies the child process's standard output stream.
	Stdout Stream = iota
	// Stderr identifies the child process's standard error stream.
	Stderr
)

func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// CreateProcess spawns a child with redirected stdio. Answered with
// CreateProcessResponse or *poserr.Error.
type CreateProcess struct {
	Executable  string
	Args        []string
	ResponseBus *bus.Bus
}

// CreateProcessResponse carries the id of a newly spawned process.
type CreateProcessResponse struct {
	ID int
}

// WriteProcess forwards bytes onto the child's stdin stream. There is no
// per-write response; WriteEmptyProcessNotification follows
// asynchronously once the stdin queue drains.
type WriteProcess struct {
	ID    int
	Bytes []byte
}

// CloseProcess requests termination of a running process. The terminal
// notification — ExitProcessNotification or *poserr.IdentifiableError —
// follows once the exit-waiter thread observes the process has actually
// exited.
type CloseProcess struct {
	ID int
}

// ReadProcessNotification is posted once per chunk read from the
// child's stdout or stderr stream, as the OS delivers it — no line
// buffering is performed.
type ReadProcessNotification struct {
	ID     int
	Stream Stream
	Bytes  []byte
}

// WriteEmptyProcessNotification is posted exactly once each time a
// process's stdin queue transitions from non-empty to empty.
type WriteEmptyProcessNotification struct {
	ID int
}

// ExitProcessNotification reports clean process termination and its
// exit code.
type ExitProcessNotification struct {
	ID       int
	ExitCode int
}
