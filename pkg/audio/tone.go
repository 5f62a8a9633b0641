package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// ToneSegment is one element of a tone signature: a sine at Freq for
// Duration. Freq 0 means silence.
type ToneSegment struct {
	Freq     int
	Duration time.Duration
}

// fadeDuration is the linear fade-in/out applied to each voiced segment to
// avoid clicks at segment boundaries.
const fadeDuration = 5 * time.Millisecond

// Tone signatures. Each blocked-event kind gets a distinct signature so the
// listener can tell permission requests, questions, and idle prompts apart by
// ear alone.
var (
	// PermissionTones is an urgent double-beep, ~0.60 s.
	PermissionTones = []ToneSegment{
		{880, 120 * time.Millisecond}, {0, 40 * time.Millisecond},
		{1320, 120 * time.Millisecond}, {0, 40 * time.Millisecond},
		{880, 120 * time.Millisecond}, {0, 40 * time.Millisecond},
		{1320, 120 * time.Millisecond},
	}

	// QuestionTones is a short rising two-tone, ~0.35 s.
	QuestionTones = []ToneSegment{
		{660, 150 * time.Millisecond}, {0, 50 * time.Millisecond},
		{880, 150 * time.Millisecond},
	}

	// IdleTones is a gentle low pair, ~0.40 s.
	IdleTones = []ToneSegment{
		{440, 200 * time.Millisecond}, {0, 50 * time.Millisecond},
		{550, 150 * time.Millisecond},
	}

	// DefaultTones is the standard two-tone alert, ~0.35 s.
	DefaultTones = []ToneSegment{
		{880, 150 * time.Millisecond}, {0, 50 * time.Millisecond},
		{1320, 150 * time.Millisecond},
	}
)

// SynthesizeTone renders a tone signature as 16-bit signed little-endian mono
// PCM at the given sample rate. Voiced segments get a 5 ms linear fade on
// each end.
func SynthesizeTone(segments []ToneSegment, sampleRate int) []byte {
	var total int
	for _, seg := range segments {
		total += samplesFor(seg.Duration, sampleRate)
	}

	out := make([]byte, 0, total*2)
	for _, seg := range segments {
		n := samplesFor(seg.Duration, sampleRate)
		if seg.Freq == 0 {
			out = append(out, make([]byte, n*2)...)
			continue
		}
		out = append(out, sineWithFade(seg.Freq, n, sampleRate)...)
	}
	return out
}

// samplesFor returns the sample count for d at the given rate.
func samplesFor(d time.Duration, sampleRate int) int {
	return int(d.Seconds() * float64(sampleRate))
}

// sineWithFade renders n samples of a sine at freq Hz with linear fades.
func sineWithFade(freq, n, sampleRate int) []byte {
	fade := samplesFor(fadeDuration, sampleRate)
	if fade*2 > n {
		fade = n / 2
	}

	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := math.Sin(2 * math.Pi * float64(freq) * float64(i) / float64(sampleRate))
		switch {
		case i < fade:
			v *= float64(i) / float64(fade)
		case i >= n-fade:
			v *= float64(n-1-i) / float64(fade)
		}
		sample := int16(math.Max(-32768, math.Min(32767, v*32767)))
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(sample))
	}
	return buf
}
