package bus_test

import (
	"sync"
	"testing"
	"time"

	"github.com/echovoice/echo/internal/bus"
)

func TestEmitDeliversToAllSubscribers(t *testing.T) {
	b := bus.New[int]("test")
	a := b.Subscribe()
	c := b.Subscribe()

	b.Emit(42)

	for _, sub := range []interface{ C() <-chan int }{a, c} {
		select {
		case got := <-sub.C():
			if got != 42 {
				t.Errorf("got %d, want 42", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestPerSubscriptionOrderMatchesEmissionOrder(t *testing.T) {
	b := bus.New[int]("test", bus.WithBufferSize[int](16))
	sub := b.Subscribe()

	for i := 0; i < 10; i++ {
		b.Emit(i)
	}
	for i := 0; i < 10; i++ {
		got := <-sub.C()
		if got != i {
			t.Fatalf("position %d: got %d", i, got)
		}
	}
}

func TestSlowConsumerIsolation(t *testing.T) {
	var dropped int
	b := bus.New[int]("test",
		bus.WithBufferSize[int](2),
		bus.WithDropHandler[int](func(int) { dropped++ }),
	)

	fast := b.Subscribe()
	slow := b.Subscribe()

	received := make([]int, 0, 10)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			received = append(received, <-fast.C())
		}
	}()

	for i := 0; i < 10; i++ {
		b.Emit(i)
		time.Sleep(5 * time.Millisecond) // let the fast consumer drain
	}
	<-done

	if len(received) != 10 {
		t.Errorf("fast subscriber received %d events, want 10", len(received))
	}
	for i, v := range received {
		if v != i {
			t.Errorf("fast subscriber out of order at %d: got %d", i, v)
		}
	}
	if n := len(slow.C()); n != 2 {
		t.Errorf("slow subscriber retains %d events, want 2", n)
	}
	if dropped != 8 {
		t.Errorf("recorded %d drops, want 8", dropped)
	}
	if b.DropCount() != 8 {
		t.Errorf("DropCount() = %d, want 8", b.DropCount())
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := bus.New[string]("test")
	sub := b.Subscribe()

	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // second call must not panic or double-close

	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", n)
	}
	if _, open := <-sub.C(); open {
		t.Error("channel still open after unsubscribe")
	}
}

func TestConcurrentSubscribeUnsubscribeDuringEmit(t *testing.T) {
	b := bus.New[int]("test", bus.WithBufferSize[int](1))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				b.Emit(1)
			}
		}
	}()

	for i := 0; i < 100; i++ {
		sub := b.Subscribe()
		b.Unsubscribe(sub)
	}
	close(stop)
	wg.Wait()

	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", n)
	}
}
