package voiceout_test

import (
	"context"
	"testing"
	"time"

	"github.com/echovoice/echo/internal/voiceout"
)

func TestSignalSetReleasesWaiter(t *testing.T) {
	s := voiceout.NewSignal()

	done := make(chan bool, 1)
	go func() { done <- s.Wait(context.Background(), time.Second) }()

	time.Sleep(20 * time.Millisecond)
	s.Set()

	select {
	case ok := <-done:
		if !ok {
			t.Error("Wait returned false after Set")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
}

func TestSignalWaitTimesOut(t *testing.T) {
	s := voiceout.NewSignal()
	if s.Wait(context.Background(), 30*time.Millisecond) {
		t.Error("Wait returned true without Set")
	}
}

func TestSignalAlreadySetReturnsImmediately(t *testing.T) {
	s := voiceout.NewSignal()
	s.Set()
	if !s.Wait(context.Background(), 0) {
		t.Error("Wait on a set signal must not block")
	}
}

func TestSignalClearResets(t *testing.T) {
	s := voiceout.NewSignal()
	s.Set()
	s.Clear()
	if s.IsSet() {
		t.Error("IsSet = true after Clear")
	}
	if s.Wait(context.Background(), 30*time.Millisecond) {
		t.Error("Wait returned true after Clear")
	}
}

func TestSignalWaitHonoursContext(t *testing.T) {
	s := voiceout.NewSignal()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if s.Wait(ctx, time.Second) {
		t.Error("Wait returned true on cancelled context")
	}
}

func TestSignalSetClearIdempotent(t *testing.T) {
	s := voiceout.NewSignal()
	s.Set()
	s.Set()
	s.Clear()
	s.Clear()
	s.Set()
	if !s.IsSet() {
		t.Error("signal lost after repeated Set/Clear")
	}
}
