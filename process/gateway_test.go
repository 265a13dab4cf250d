//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package process

import (
	"testing"
	"time"

	"github.com/joshuafuller/portmap/bus"
	"github.com/joshuafuller/portmap/message"
	"github.com/joshuafuller/portmap/poserr"
)

func waitFor(t *testing.T, resp *bus.Bus, pred func(any) bool) any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg, ok := resp.TryRecv()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		if pred(msg) {
			return msg
		}
	}
	t.Fatalf("waitFor: no matching message within deadline")
	return nil
}

func TestGateway_EchoViaCat(t *testing.T) {
	g := NewGateway()
	t.Cleanup(func() {
		kill := bus.New()
		g.Bus().Send(message.Kill{ResponseBus: kill})
		waitFor(t, kill, func(any) bool { return true })
	})

	resp := bus.New()
	g.Bus().Send(message.CreateProcess{Executable: "cat", ResponseBus: resp})
	createMsg := waitFor(t, resp, func(m any) bool { _, ok := m.(message.CreateProcessResponse); return ok })
	id := createMsg.(message.CreateProcessResponse).ID

	g.Bus().Send(message.WriteProcess{ID: id, Bytes: []byte("hello\n")})

	// The stdin writer reports the drained queue as soon as its write
	// returns, which is usually before cat's echo has been read back, so
	// both notifications are collected in whichever order they arrive.
	var readMsg any
	sawWriteEmpty := false
	for readMsg == nil || !sawWriteEmpty {
		m := waitFor(t, resp, func(m any) bool {
			switch m.(type) {
			case message.ReadProcessNotification, message.WriteEmptyProcessNotification:
				return true
			}
			return false
		})
		if _, ok := m.(message.WriteEmptyProcessNotification); ok {
			sawWriteEmpty = true
		} else if readMsg == nil {
			readMsg = m
		}
	}
	notif := readMsg.(message.ReadProcessNotification)
	if notif.Stream != message.Stdout {
		t.Fatalf("ReadProcessNotification.Stream = %v, want Stdout", notif.Stream)
	}
	if string(notif.Bytes) != "hello\n" {
		t.Fatalf("ReadProcessNotification.Bytes = %q, want %q", notif.Bytes, "hello\n")
	}

	g.Bus().Send(message.CloseProcess{ID: id})
	exitMsg := waitFor(t, resp, func(m any) bool { _, ok := m.(message.ExitProcessNotification); return ok })
	if exitMsg.(message.ExitProcessNotification).ID != id {
		t.Fatalf("ExitProcessNotification.ID = %d, want %d", exitMsg.(message.ExitProcessNotification).ID, id)
	}
}

func TestGateway_SpontaneousExitReportsCode(t *testing.T) {
	g := NewGateway()
	t.Cleanup(func() {
		kill := bus.New()
		g.Bus().Send(message.Kill{ResponseBus: kill})
		waitFor(t, kill, func(any) bool { return true })
	})

	resp := bus.New()
	g.Bus().Send(message.CreateProcess{Executable: "sh", Args: []string{"-c", "exit 7"}, ResponseBus: resp})
	createMsg := waitFor(t, resp, func(m any) bool { _, ok := m.(message.CreateProcessResponse); return ok })
	id := createMsg.(message.CreateProcessResponse).ID

	exitMsg := waitFor(t, resp, func(m any) bool { _, ok := m.(message.ExitProcessNotification); return ok })
	exit := exitMsg.(message.ExitProcessNotification)
	if exit.ID != id {
		t.Fatalf("ExitProcessNotification.ID = %d, want %d", exit.ID, id)
	}
	if exit.ExitCode != 7 {
		t.Fatalf("ExitProcessNotification.ExitCode = %d, want 7", exit.ExitCode)
	}
}

func TestGateway_CreateProcessErrorForMissingExecutable(t *testing.T) {
	g := NewGateway()
	t.Cleanup(func() {
		kill := bus.New()
		g.Bus().Send(message.Kill{ResponseBus: kill})
		waitFor(t, kill, func(any) bool { return true })
	})

	resp := bus.New()
	g.Bus().Send(message.CreateProcess{Executable: "definitely-not-a-real-executable-xyz", ResponseBus: resp})
	msg := waitFor(t, resp, func(m any) bool { _, ok := m.(*poserr.Error); return ok })
	if _, ok := msg.(*poserr.Error); !ok {
		t.Fatalf("got %T, want *poserr.Error", msg)
	}
}

func TestGateway_KillSweepTerminatesRunningProcess(t *testing.T) {
	g := NewGateway()

	resp := bus.New()
	g.Bus().Send(message.CreateProcess{Executable: "sleep", Args: []string{"30"}, ResponseBus: resp})
	createMsg := waitFor(t, resp, func(m any) bool { _, ok := m.(message.CreateProcessResponse); return ok })
	id := createMsg.(message.CreateProcessResponse).ID

	kill := bus.New()
	g.Bus().Send(message.Kill{ResponseBus: kill})
	waitFor(t, kill, func(any) bool { return true })

	exitMsg := waitFor(t, resp, func(m any) bool {
		switch m.(type) {
		case message.ExitProcessNotification, *poserr.IdentifiableError:
			return true
		}
		return false
	})
	switch m := exitMsg.(type) {
	case message.ExitProcessNotification:
		if m.ID != id {
			t.Fatalf("ExitProcessNotification.ID = %d, want %d", m.ID, id)
		}
	case *poserr.IdentifiableError:
		if m.ID != id {
			t.Fatalf("IdentifiableError.ID = %d, want %d", m.ID, id)
		}
	}

	select {
	case <-g.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down after Kill")
	}
}
