package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/echovoice/echo/pkg/audio"
)

// constantPCM returns n 16-bit samples all set to amplitude.
func constantPCM(n int, amplitude int16) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(amplitude))
	}
	return buf
}

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS(constantPCM(160, 0)); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}

	// Constant amplitude a has RMS a/32768.
	got := audio.RMS(constantPCM(160, 3277))
	want := 3277.0 / 32768.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("RMS = %v, want %v", got, want)
	}
}

func TestDuration(t *testing.T) {
	// 100 ms at 16 kHz mono 16-bit is 3200 bytes.
	if got := audio.Duration(make([]byte, 3200), 16000); got != 100 {
		t.Errorf("Duration = %d ms, want 100", got)
	}
	if got := audio.Duration(make([]byte, 3200), 0); got != 0 {
		t.Errorf("Duration with zero rate = %d, want 0", got)
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	pcm := constantPCM(160, 1000)
	wav := audio.EncodeWAV(pcm, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if ch := binary.LittleEndian.Uint16(wav[22:24]); ch != 1 {
		t.Errorf("channels = %d, want 1", ch)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); int(size) != len(pcm) {
		t.Errorf("data size = %d, want %d", size, len(pcm))
	}
}

func TestStripWAVHeader(t *testing.T) {
	pcm := constantPCM(160, 1000)
	wav := audio.EncodeWAV(pcm, 16000)

	stripped := audio.StripWAVHeader(wav)
	if len(stripped) != len(pcm) {
		t.Errorf("stripped length = %d, want %d", len(stripped), len(pcm))
	}

	// Raw PCM passes through untouched.
	raw := audio.StripWAVHeader(pcm)
	if len(raw) != len(pcm) {
		t.Errorf("raw passthrough length = %d, want %d", len(raw), len(pcm))
	}
}

func TestSynthesizeToneShape(t *testing.T) {
	segments := []audio.ToneSegment{
		{Freq: 880, Duration: 150_000_000}, // 150 ms
		{Freq: 0, Duration: 50_000_000},    // 50 ms silence
		{Freq: 1320, Duration: 150_000_000},
	}
	pcm := audio.SynthesizeTone(segments, 16000)

	wantSamples := (150 + 50 + 150) * 16 // ms * samples-per-ms
	if len(pcm) != wantSamples*2 {
		t.Fatalf("tone length = %d bytes, want %d", len(pcm), wantSamples*2)
	}

	// The silent middle segment must be all zeros.
	start := 150 * 16 * 2
	end := start + 50*16*2
	for i := start; i < end; i++ {
		if pcm[i] != 0 {
			t.Fatalf("silence segment has non-zero byte at %d", i)
		}
	}

	// Voiced segments carry energy.
	if audio.RMS(pcm[:start]) < 0.1 {
		t.Error("first voiced segment has no energy")
	}

	// Fade-in: the very first sample must be near zero.
	first := int16(binary.LittleEndian.Uint16(pcm[0:2]))
	if first > 100 || first < -100 {
		t.Errorf("first sample = %d, want near zero (fade-in)", first)
	}
}
