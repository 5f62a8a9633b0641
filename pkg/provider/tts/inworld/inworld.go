// Package inworld provides a TTS provider backed by the Inworld voice API.
// Unlike ElevenLabs there is no dedicated health endpoint, so availability is
// probed with a minimal one-character synthesis. Responses carry base64 audio
// that may include a RIFF header, which is stripped before playback.
package inworld

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/echovoice/echo/pkg/audio"
	"github.com/echovoice/echo/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	// DefaultBaseURL is the public Inworld API endpoint.
	DefaultBaseURL = "https://api.inworld.ai"

	// DefaultVoiceID is a stock Inworld voice.
	DefaultVoiceID = "Ashley"

	// DefaultModel is the current Inworld TTS model.
	DefaultModel = "inworld-tts-1"

	defaultTimeout         = 10 * time.Second
	defaultRecheckInterval = 60 * time.Second
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the default API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithVoiceID selects the synthesis voice.
func WithVoiceID(id string) Option {
	return func(p *Provider) {
		if id != "" {
			p.voiceID = id
		}
	}
}

// WithModel selects the synthesis model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithSampleRate sets the requested output sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithRecheckInterval sets how often availability is re-probed while the API
// is unreachable.
func WithRecheckInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.recheckInterval = d
		}
	}
}

// Provider implements tts.Provider against the Inworld voice API.
type Provider struct {
	apiKey          string
	baseURL         string
	voiceID         string
	model           string
	sampleRate      int
	recheckInterval time.Duration
	httpClient      *http.Client

	mu        sync.Mutex
	available bool
	lastProbe time.Time
	probed    bool
}

// New creates a Provider. The apiKey is the pre-encoded Basic credential from
// the Inworld console. An empty key yields a permanently-unavailable provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:          apiKey,
		baseURL:         DefaultBaseURL,
		voiceID:         DefaultVoiceID,
		model:           DefaultModel,
		sampleRate:      16000,
		recheckInterval: defaultRecheckInterval,
		httpClient:      &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if apiKey == "" {
		slog.Info("inworld: no API key, synthesis disabled")
	}
	return p
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "inworld" }

// Available implements tts.Provider. The probe is a minimal synthesis since
// Inworld exposes no health endpoint; while unavailable it re-probes at most
// once per recheck interval.
func (p *Provider) Available(ctx context.Context) bool {
	if p.apiKey == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.available {
		return true
	}
	if p.probed && time.Since(p.lastProbe) < p.recheckInterval {
		return false
	}
	p.probed = true
	p.lastProbe = time.Now()

	if _, err := p.synthesize(ctx, "."); err != nil {
		slog.Warn("inworld: health probe failed", "base_url", p.baseURL, "err", err)
		p.available = false
	} else {
		slog.Info("inworld: available", "voice", p.voiceID, "model", p.model)
		p.available = true
	}
	return p.available
}

// Synthesize implements tts.Provider. Returns nil PCM without error when the
// provider is unavailable.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !p.Available(ctx) {
		return nil, nil
	}
	pcm, err := p.synthesize(ctx, text)
	if err != nil {
		p.markUnavailable()
		return nil, err
	}
	return pcm, nil
}

type synthesisRequest struct {
	Text        string      `json:"text"`
	VoiceID     string      `json:"voiceId"`
	ModelID     string      `json:"modelId"`
	AudioConfig audioConfig `json:"audioConfig"`
}

type audioConfig struct {
	AudioEncoding   string `json:"audioEncoding"`
	SampleRateHertz int    `json:"sampleRateHertz"`
}

type synthesisResponse struct {
	Result struct {
		AudioContent string `json:"audioContent"`
	} `json:"result"`
}

func (p *Provider) synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(synthesisRequest{
		Text:    text,
		VoiceID: p.voiceID,
		ModelID: p.model,
		AudioConfig: audioConfig{
			AudioEncoding:   "LINEAR16",
			SampleRateHertz: p.sampleRate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("inworld: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/tts/v1/voice", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inworld: create request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inworld: synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inworld: synthesis returned HTTP %d", resp.StatusCode)
	}

	var parsed synthesisResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("inworld: decode synthesis response: %w", err)
	}
	if parsed.Result.AudioContent == "" {
		return nil, fmt.Errorf("inworld: synthesis response carried no audio")
	}

	raw, err := base64.StdEncoding.DecodeString(parsed.Result.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("inworld: decode audio content: %w", err)
	}
	// LINEAR16 responses arrive as WAV; playback wants bare PCM.
	return audio.StripWAVHeader(raw), nil
}

func (p *Provider) markUnavailable() {
	p.mu.Lock()
	p.available = false
	p.lastProbe = time.Now()
	p.mu.Unlock()
}
