// Package remote forwards narration audio to an optional websocket media
// room, so a listener away from the workstation still hears the narration.
// The sink is best effort: when unconfigured or disconnected, publishing is a
// no-op and the local pipeline is unaffected.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/echovoice/echo/internal/config"
)

// Room audio is mono Opus in 20 ms frames at the pipeline sample rate.
const (
	frameMs       = 20
	opusMaxPacket = 4000
)

const defaultReconnectInterval = 30 * time.Second

// Option configures a Sink.
type Option func(*Sink)

// WithReconnectInterval sets the minimum pause between reconnect attempts
// after the room connection drops.
func WithReconnectInterval(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.reconnectInterval = d
		}
	}
}

// Sink is a websocket publisher of Opus-encoded narration audio.
type Sink struct {
	url        string
	token      string
	sampleRate int
	frameBytes int

	reconnectInterval time.Duration

	mu          sync.Mutex
	enc         *gopus.Encoder
	conn        *websocket.Conn
	lastAttempt time.Time
}

// New creates a room sink. An empty room URL yields a permanently
// disconnected sink whose Publish is a no-op.
func New(cfg config.RemoteConfig, sampleRate int, opts ...Option) (*Sink, error) {
	s := &Sink{
		url:               cfg.RoomURL,
		token:             cfg.RoomToken,
		sampleRate:        sampleRate,
		frameBytes:        sampleRate * 2 * frameMs / 1000,
		reconnectInterval: defaultReconnectInterval,
	}
	for _, o := range opts {
		o(s)
	}
	if cfg.RoomURL == "" {
		slog.Info("remote: no room configured, audio forwarding disabled")
		return s, nil
	}

	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("remote: create opus encoder: %w", err)
	}
	s.enc = enc
	return s, nil
}

// Connect dials the room. Failure leaves the sink disconnected; Publish will
// retry on its own schedule.
func (s *Sink) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Sink) connectLocked(ctx context.Context) error {
	if s.url == "" || s.conn != nil {
		return nil
	}
	s.lastAttempt = time.Now()

	headers := http.Header{}
	if s.token != "" {
		headers.Set("Authorization", "Bearer "+s.token)
	}
	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		slog.Warn("remote: room dial failed", "url", s.url, "err", err)
		return fmt.Errorf("remote: dial room: %w", err)
	}
	s.conn = conn
	slog.Info("remote: connected to room", "url", s.url)
	return nil
}

// Connected reports whether the room connection is up.
func (s *Sink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Publish encodes pcm into 20 ms Opus frames and writes them to the room as
// binary messages. The trailing partial frame is padded with silence. A write
// failure drops the connection; the next Publish past the reconnect interval
// redials. Never returns an error when the sink is unconfigured.
func (s *Sink) Publish(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enc == nil {
		return nil
	}
	if s.conn == nil {
		if time.Since(s.lastAttempt) < s.reconnectInterval {
			return nil
		}
		if err := s.connectLocked(ctx); err != nil {
			return nil
		}
	}

	for off := 0; off < len(pcm); off += s.frameBytes {
		end := off + s.frameBytes
		frame := pcm[off:min(end, len(pcm))]
		if len(frame) < s.frameBytes {
			padded := make([]byte, s.frameBytes)
			copy(padded, frame)
			frame = padded
		}

		packet, err := s.enc.Encode(bytesToInt16s(frame), s.frameBytes/2, opusMaxPacket)
		if err != nil {
			return fmt.Errorf("remote: opus encode: %w", err)
		}
		if err := s.conn.Write(ctx, websocket.MessageBinary, packet); err != nil {
			slog.Warn("remote: room write failed, disconnecting", "err", err)
			s.conn.Close(websocket.StatusInternalError, "write failed")
			s.conn = nil
			return fmt.Errorf("remote: write frame: %w", err)
		}
	}
	return nil
}

// Close terminates the room connection cleanly.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "shutting down")
	s.conn = nil
	return err
}

// bytesToInt16s converts little-endian bytes to int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
