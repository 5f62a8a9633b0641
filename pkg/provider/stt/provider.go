// Package stt defines the Provider interface for speech-to-text backends.
//
// Echo's reply loop captures one utterance at a time, so the contract here is
// batch transcription of a complete WAV clip rather than a streaming session.
//
// Implementors must be safe for concurrent use.
package stt

import "context"

// Provider is the abstraction over any transcription backend.
type Provider interface {
	// Transcribe converts a complete WAV clip (mono, 16-bit PCM) to text.
	// The returned text is trimmed; an empty string with a nil error means
	// the backend heard nothing intelligible.
	Transcribe(ctx context.Context, wav []byte) (string, error)

	// Available reports whether the backend is reachable. Implementations
	// cache the result of their health probe and re-probe only on a fixed
	// interval while unavailable.
	Available(ctx context.Context) bool

	// Name returns the provider's registry name (e.g., "openai").
	Name() string
}
