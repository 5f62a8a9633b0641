package audio

import "context"

// OutputDevice is the playback side of the audio hardware. Exactly one
// component (the [Player]) owns the output device; all playback is serialized
// through it.
type OutputDevice interface {
	// Play writes pcm to the device and blocks until it has been consumed or
	// Stop is called.
	Play(pcm []byte) error

	// Stop aborts an in-progress Play. Safe to call when nothing is playing.
	Stop()

	// Available reports whether the device opened successfully.
	Available() bool

	// Close releases the device. No methods may be called after Close.
	Close() error
}

// InputDevice is the capture side of the audio hardware. It is opened only
// for the duration of a listen task so that capture never contends with
// playback on half-duplex hardware.
type InputDevice interface {
	ChunkSource

	// Available reports whether the device opened successfully.
	Available() bool

	// Close releases the device.
	Close() error
}

// ChunkSource delivers fixed-size PCM chunks (nominally 100 ms each) from a
// capture stream. Implementations block until a chunk is ready or ctx is
// cancelled.
type ChunkSource interface {
	ReadChunk(ctx context.Context) ([]byte, error)
}
