package tts_test

import (
	"context"
	"errors"
	"testing"

	"github.com/echovoice/echo/pkg/provider/tts"
)

type fakeProvider struct {
	name      string
	pcm       []byte
	err       error
	available bool
	calls     int
}

func (f *fakeProvider) Synthesize(context.Context, string) ([]byte, error) {
	f.calls++
	return f.pcm, f.err
}
func (f *fakeProvider) Available(context.Context) bool { return f.available }
func (f *fakeProvider) Name() string                   { return f.name }

func TestFallbackUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &fakeProvider{name: "elevenlabs", pcm: []byte{1, 2}, available: true}
	backup := &fakeProvider{name: "inworld", pcm: []byte{3, 4}, available: true}
	f := tts.NewFallback(primary, backup)

	pcm, err := f.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(pcm) != string(primary.pcm) {
		t.Errorf("pcm = %v, want primary's", pcm)
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times, want 0", backup.calls)
	}
}

func TestFallbackSkipsUnavailablePrimary(t *testing.T) {
	primary := &fakeProvider{name: "elevenlabs", pcm: []byte{1, 2}, available: false}
	backup := &fakeProvider{name: "inworld", pcm: []byte{3, 4}, available: true}
	f := tts.NewFallback(primary, backup)

	pcm, err := f.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(pcm) != string(backup.pcm) {
		t.Errorf("pcm = %v, want backup's", pcm)
	}
	if primary.calls != 0 {
		t.Errorf("unavailable primary called %d times, want 0", primary.calls)
	}
}

func TestFallbackTriesNextOnError(t *testing.T) {
	primary := &fakeProvider{name: "elevenlabs", err: errors.New("boom"), available: true}
	backup := &fakeProvider{name: "inworld", pcm: []byte{3, 4}, available: true}
	f := tts.NewFallback(primary, backup)

	pcm, err := f.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(pcm) != string(backup.pcm) {
		t.Errorf("pcm = %v, want backup's", pcm)
	}
}

func TestFallbackAllFailed(t *testing.T) {
	primary := &fakeProvider{name: "elevenlabs", err: errors.New("boom"), available: true}
	backup := &fakeProvider{name: "inworld", err: errors.New("also boom"), available: true}
	f := tts.NewFallback(primary, backup)

	_, err := f.Synthesize(context.Background(), "hello")
	if !errors.Is(err, tts.ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
}

func TestFallbackAllUnavailableStillTries(t *testing.T) {
	// With nothing reporting available the chain is tried anyway; cached
	// probes can be stale and a real request is the only truth.
	primary := &fakeProvider{name: "elevenlabs", pcm: []byte{9}, available: false}
	f := tts.NewFallback(primary)

	pcm, err := f.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(pcm) != string(primary.pcm) {
		t.Errorf("pcm = %v, want primary's", pcm)
	}
}

func TestFallbackNameAndAvailability(t *testing.T) {
	primary := &fakeProvider{name: "elevenlabs", available: false}
	backup := &fakeProvider{name: "inworld", available: true}
	f := tts.NewFallback(primary, backup)

	if got := f.Name(); got != "elevenlabs+inworld" {
		t.Errorf("Name() = %q", got)
	}
	if !f.Available(context.Background()) {
		t.Error("Available() = false with one healthy provider")
	}

	backup.available = false
	if f.Available(context.Background()) {
		t.Error("Available() = true with no healthy provider")
	}
}
