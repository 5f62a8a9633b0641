// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a remote synthesis API (e.g., ElevenLabs or Inworld)
// and returns raw 16-bit signed little-endian mono PCM at the sample rate the
// provider was constructed with, ready for the playback queue without
// further decoding.
//
// Implementors must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// Synthesize converts text to raw PCM16 mono audio. An empty result with
	// a nil error means the provider had nothing to say (e.g., blank input);
	// callers must treat both error and empty data as "no audio".
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// Available reports whether the backend is reachable. Implementations
	// cache the result of their health probe and re-probe only on a fixed
	// interval while unavailable, so calling this per narration is cheap.
	Available(ctx context.Context) bool

	// Name returns the provider's registry name (e.g., "elevenlabs").
	Name() string
}
