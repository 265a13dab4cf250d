package bus

import (
	"sync"
	"testing"
)

func TestBus_FIFOPerProducer(t *testing.T) {
	b := New()
	for i := 0; i < 5; i++ {
		b.Send(i)
	}
	for i := 0; i < 5; i++ {
		got, ok := b.Recv()
		if !ok {
			t.Fatalf("Recv() ok=false, want true")
		}
		if got.(int) != i {
			t.Fatalf("Recv() = %v, want %v", got, i)
		}
	}
}

func TestBus_TryRecvEmpty(t *testing.T) {
	b := New()
	if _, ok := b.TryRecv(); ok {
		t.Fatalf("TryRecv() on empty bus returned ok=true")
	}
}

func TestBus_ConcurrentProducers(t *testing.T) {
	b := New()
	const producers = 8
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Send([2]int{p, i})
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]int, producers)
	for i := 0; i < producers*perProducer; i++ {
		msg, ok := b.Recv()
		if !ok {
			t.Fatalf("Recv() ok=false before draining all messages")
		}
		pair := msg.([2]int)
		if seen[pair[0]] != pair[1] {
			t.Fatalf("producer %d: got index %d, want %d (order violated)", pair[0], pair[1], seen[pair[0]])
		}
		seen[pair[0]]++
	}
	if _, ok := b.TryRecv(); ok {
		t.Fatalf("bus not fully drained")
	}
}

func TestBus_StopUnblocksRecv(t *testing.T) {
	b := New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := b.Recv(); ok {
			t.Errorf("Recv() ok=true after Stop with empty queue")
		}
	}()
	b.Stop()
	<-done
}

func TestBus_StopAfterSendStillDelivers(t *testing.T) {
	b := New()
	b.Send("a")
	b.Stop()
	msg, ok := b.Recv()
	if !ok || msg != "a" {
		t.Fatalf("Recv() = %v, %v, want \"a\", true", msg, ok)
	}
	if _, ok := b.Recv(); ok {
		t.Fatalf("Recv() ok=true after drain and Stop")
	}
}
