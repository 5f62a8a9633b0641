// Package device provides malgo-backed implementations of the audio
// hardware interfaces in [github.com/echovoice/echo/pkg/audio]: a persistent
// mono PCM16 playback device and a chunked microphone capture device.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/echovoice/echo/pkg/audio"
)

// chunkDuration is the capture granularity. The VAD observes cancellation
// between chunk reads, so this also bounds capture-abort latency.
const chunkDuration = 100 * time.Millisecond

// Compile-time interface assertions.
var (
	_ audio.OutputDevice = (*Playback)(nil)
	_ audio.InputDevice  = (*Capture)(nil)
)

var errClosed = errors.New("device: closed")

// Playback is a persistent mono 16-bit playback device. The device callback
// pulls from a current clip buffer; Play blocks until the clip is fully
// consumed or Stop clears it.
type Playback struct {
	mctx *malgo.AllocatedContext
	dev  *malgo.Device

	mu     sync.Mutex
	buf    []byte
	pos    int
	doneCh chan struct{} // non-nil while a Play is in progress
	closed bool
}

// NewPlayback opens the default playback device at the given sample rate.
func NewPlayback(sampleRate int) (*Playback, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}

	p := &Playback{mctx: mctx}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: p.onSend})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: init playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: start playback device: %w", err)
	}

	p.dev = dev
	return p, nil
}

// onSend feeds the device from the current clip buffer, padding with silence
// when no clip is loaded or the clip runs out mid-callback.
func (p *Playback) onSend(out, _ []byte, _ uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	if p.buf != nil {
		n = copy(out, p.buf[p.pos:])
		p.pos += n
		if p.pos >= len(p.buf) {
			p.buf = nil
			p.pos = 0
			if p.doneCh != nil {
				close(p.doneCh)
				p.doneCh = nil
			}
		}
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

// Play loads pcm as the current clip and blocks until the device has consumed
// it or Stop is called. Callers serialize Play themselves; a concurrent Play
// replaces the current clip and releases the earlier caller.
func (p *Playback) Play(pcm []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errClosed
	}
	if p.doneCh != nil {
		close(p.doneCh)
	}
	done := make(chan struct{})
	p.buf = pcm
	p.pos = 0
	p.doneCh = done
	p.mu.Unlock()

	<-done
	return nil
}

// Stop clears the current clip, releasing any blocked Play immediately.
func (p *Playback) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = nil
	p.pos = 0
	if p.doneCh != nil {
		close(p.doneCh)
		p.doneCh = nil
	}
}

// Available reports whether the device opened successfully.
func (p *Playback) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dev != nil && !p.closed
}

// Close stops and releases the device. Idempotent.
func (p *Playback) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.doneCh != nil {
		close(p.doneCh)
		p.doneCh = nil
	}
	p.mu.Unlock()

	if p.dev != nil {
		p.dev.Uninit()
	}
	if p.mctx != nil {
		err := p.mctx.Uninit()
		p.mctx.Free()
		return err
	}
	return nil
}

// Capture is a mono 16-bit microphone device delivering fixed 100 ms chunks.
type Capture struct {
	mctx *malgo.AllocatedContext
	dev  *malgo.Device

	chunkBytes int
	chunks     chan []byte

	mu      sync.Mutex
	partial []byte
	closed  bool
}

// NewCapture opens the default capture device at the given sample rate and
// starts delivering chunks immediately.
func NewCapture(sampleRate int) (*Capture, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}

	c := &Capture{
		mctx:       mctx,
		chunkBytes: sampleRate * 2 * int(chunkDuration.Milliseconds()) / 1000,
		chunks:     make(chan []byte, 64),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: c.onRecv})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: start capture device: %w", err)
	}

	c.dev = dev
	return c, nil
}

// onRecv accumulates device frames and emits fixed-size chunks. When the
// consumer falls behind, the oldest buffered chunk is discarded.
func (c *Capture) onRecv(_, in []byte, _ uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.partial = append(c.partial, in...)
	for len(c.partial) >= c.chunkBytes {
		chunk := make([]byte, c.chunkBytes)
		copy(chunk, c.partial[:c.chunkBytes])
		c.partial = c.partial[c.chunkBytes:]

		select {
		case c.chunks <- chunk:
		default:
			select {
			case <-c.chunks:
			default:
			}
			select {
			case c.chunks <- chunk:
			default:
			}
		}
	}
}

// ReadChunk blocks until the next 100 ms chunk is ready or ctx is cancelled.
func (c *Capture) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk, ok := <-c.chunks:
		if !ok {
			return nil, errClosed
		}
		return chunk, nil
	}
}

// Available reports whether the device opened successfully.
func (c *Capture) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev != nil && !c.closed
}

// Close stops and releases the device. Idempotent.
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.dev != nil {
		c.dev.Uninit()
	}
	close(c.chunks)
	if c.mctx != nil {
		err := c.mctx.Uninit()
		c.mctx.Free()
		return err
	}
	return nil
}
