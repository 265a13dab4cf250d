//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package network

import (
	"testing"

	"github.com/joshuafuller/portmap/internal/poller"
)

func TestEntry_WantInterest_UDPIdle(t *testing.T) {
	e := &entry{kind: kindUDP}
	want := e.wantInterest()
	if !want.Has(poller.Readable) {
		t.Fatalf("idle UDP entry must always want Readable")
	}
	if want.Has(poller.Connectable) {
		t.Fatalf("UDP entry must never want Connectable")
	}
	if !want.Has(poller.Writable) {
		t.Fatalf("a freshly created entry has not yet been notified writable, so it must want Writable")
	}
}

func TestEntry_WantInterest_UDPAfterDrainNotification(t *testing.T) {
	e := &entry{kind: kindUDP, notifiedWritable: true}
	want := e.wantInterest()
	if want.Has(poller.Writable) {
		t.Fatalf("an idle entry already notified writable must not re-arm Writable")
	}
}

func TestEntry_WantInterest_TCPConnecting(t *testing.T) {
	e := &entry{kind: kindTCP, connecting: true}
	want := e.wantInterest()
	if !want.Has(poller.Connectable) {
		t.Fatalf("a mid-connect TCP entry must want Connectable")
	}
}

func TestEntry_WantInterest_TCPConnectedIdle(t *testing.T) {
	e := &entry{kind: kindTCP, notifiedWritable: true}
	want := e.wantInterest()
	if want.Has(poller.Connectable) {
		t.Fatalf("a connected TCP entry must not want Connectable")
	}
	if want.Has(poller.Writable) {
		t.Fatalf("a connected, already-notified idle TCP entry must not want Writable")
	}
}

func TestEntry_EnqueueTCP_DropsEmptyWrite(t *testing.T) {
	e := &entry{kind: kindTCP, notifiedWritable: true}
	e.enqueueTCP(nil)
	if e.hasOutgoing() {
		t.Fatalf("an empty write must not be enqueued")
	}
	if !e.notifiedWritable {
		t.Fatalf("an empty write must not clear notifiedWritable")
	}
}

func TestEntry_EnqueueTCP_ClearsNotifiedWritable(t *testing.T) {
	e := &entry{kind: kindTCP, notifiedWritable: true}
	e.enqueueTCP([]byte("hi"))
	if e.notifiedWritable {
		t.Fatalf("enqueuing onto an idle entry must clear notifiedWritable so a future drain fires again")
	}
	if len(e.outgoingTCP) != 1 || e.outgoingTCP[0].total != 2 {
		t.Fatalf("outgoingTCP = %+v, want one write of total 2", e.outgoingTCP)
	}
}

func TestEntry_EnqueueTCP_PreservesOriginalTotalAcrossPartialDrain(t *testing.T) {
	e := &entry{kind: kindTCP}
	e.enqueueTCP([]byte("hello world"))
	w := &e.outgoingTCP[0]
	w.buf = w.buf[5:] // simulate a partial write of 5 bytes
	if w.total != 11 {
		t.Fatalf("tcpWrite.total = %d after partial drain, want 11 (original length)", w.total)
	}
}

func TestEntry_EnqueueUDP_ClearsNotifiedWritable(t *testing.T) {
	e := &entry{kind: kindUDP, notifiedWritable: true}
	e.enqueueUDP([]byte("x"), nil)
	if e.notifiedWritable {
		t.Fatalf("enqueuing a datagram onto an idle entry must clear notifiedWritable")
	}
	if !e.hasOutgoing() {
		t.Fatalf("hasOutgoing() = false after enqueue, want true")
	}
}
