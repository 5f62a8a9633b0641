package audio

import (
	"context"
	"fmt"
	"time"
)

// VADConfig holds the thresholds for energy-based utterance capture.
type VADConfig struct {
	// SilenceThreshold is the normalized RMS level (0..1) below which a
	// chunk counts as silence.
	SilenceThreshold float64

	// ListenTimeout bounds the wait for speech onset. Expiry without speech
	// is not an error; CaptureUtterance returns nil PCM.
	ListenTimeout time.Duration

	// SilenceDuration is the contiguous silence window that ends a capture.
	SilenceDuration time.Duration

	// MaxRecordDuration caps the total capture length.
	MaxRecordDuration time.Duration
}

// CaptureUtterance records one utterance from src using two-phase energy VAD.
//
// Phase 1 (onset): chunks are read and discarded until one exceeds the
// silence threshold. If ListenTimeout's worth of audio passes without speech,
// the capture ends and nil PCM is returned with a nil error.
//
// Phase 2 (capture-until-silence): chunks accumulate, starting with the
// triggering chunk, until a contiguous run of sub-threshold chunks spans
// SilenceDuration or the recording reaches MaxRecordDuration.
//
// Time is accounted in audio duration: the device delivers chunks at
// real-time pace, so consumed audio equals elapsed wall time without a
// second clock. Cancellation of ctx aborts either phase between chunk reads
// and returns ctx.Err().
func CaptureUtterance(ctx context.Context, src ChunkSource, sampleRate int, cfg VADConfig) ([]byte, error) {
	chunkDur := func(chunk []byte) time.Duration {
		return time.Duration(Duration(chunk, sampleRate)) * time.Millisecond
	}

	// Phase 1: wait for speech onset.
	var first []byte
	var waited time.Duration
	for first == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk, err := src.ReadChunk(ctx)
		if err != nil {
			return nil, fmt.Errorf("audio: read capture chunk: %w", err)
		}
		if RMS(chunk) > cfg.SilenceThreshold {
			first = chunk
			break
		}
		waited += chunkDur(chunk)
		if waited >= cfg.ListenTimeout {
			return nil, nil
		}
	}

	// Phase 2: accumulate until sustained silence or the length cap.
	pcm := append([]byte(nil), first...)
	recorded := chunkDur(first)
	var silence time.Duration

	for recorded < cfg.MaxRecordDuration {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk, err := src.ReadChunk(ctx)
		if err != nil {
			return nil, fmt.Errorf("audio: read capture chunk: %w", err)
		}
		pcm = append(pcm, chunk...)
		recorded += chunkDur(chunk)

		if RMS(chunk) <= cfg.SilenceThreshold {
			silence += chunkDur(chunk)
			if silence >= cfg.SilenceDuration {
				break
			}
		} else {
			silence = 0
		}
	}
	return pcm, nil
}
