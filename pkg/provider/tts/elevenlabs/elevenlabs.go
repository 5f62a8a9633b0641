// Package elevenlabs provides a TTS provider backed by the ElevenLabs HTTP
// API. Synthesis requests raw PCM at 16 kHz so the result feeds the playback
// queue without decoding; availability is validated against GET /v1/user and
// cached, with re-probes on a fixed interval while the API is unreachable.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/echovoice/echo/pkg/provider/tts"
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

const (
	// DefaultBaseURL is the public ElevenLabs API endpoint.
	DefaultBaseURL = "https://api.elevenlabs.io"

	// DefaultModel is the low-latency model suited to short narrations.
	DefaultModel = "eleven_turbo_v2_5"

	// DefaultVoiceID is the stock "Rachel" voice.
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

	defaultTimeout         = 10 * time.Second
	defaultRecheckInterval = 60 * time.Second

	// outputFormat requests raw 16-bit PCM at 16 kHz.
	outputFormat = "pcm_16000"
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

// Provider implements tts.Provider against the ElevenLabs REST API.
type Provider struct {
	apiKey          string
	baseURL         string
	voiceID         string
	model           string
	recheckInterval time.Duration
	httpClient      *http.Client

	mu        sync.Mutex
	available bool
	lastProbe time.Time
	probed    bool
}

// New creates a Provider. An empty apiKey yields a permanently-unavailable
// provider rather than an error so the rest of the pipeline degrades instead
// of failing to start.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:          apiKey,
		baseURL:         DefaultBaseURL,
		voiceID:         DefaultVoiceID,
		model:           DefaultModel,
		recheckInterval: defaultRecheckInterval,
		httpClient:      &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if apiKey == "" {
		slog.Info("elevenlabs: no API key, synthesis disabled")
	}
	return p
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "elevenlabs" }

// Available implements tts.Provider. The first call probes GET /v1/user;
// while unavailable it re-probes at most once per recheck interval.
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
	p.available = p.probe(ctx)
	return p.available
}

// probe validates the API key. Called with p.mu held.
func (p *Provider) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/user", nil)
	if err != nil {
		return false
	}
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		slog.Warn("elevenlabs: health probe failed", "base_url", p.baseURL, "err", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		slog.Warn("elevenlabs: health probe rejected", "status", resp.StatusCode)
		return false
	}
	slog.Info("elevenlabs: available", "voice", p.voiceID, "model", p.model)
	return true
}

// Synthesize implements tts.Provider. Returns nil PCM without error when the
// provider is unavailable; the caller treats that as "no audio".
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !p.Available(ctx) {
		return nil, nil
	}

	body, err := json.Marshal(map[string]string{
		"text":     text,
		"model_id": p.model,
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", p.baseURL, p.voiceID, outputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.markUnavailable()
		return nil, fmt.Errorf("elevenlabs: synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: synthesis returned HTTP %d", resp.StatusCode)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read synthesis response: %w", err)
	}
	return pcm, nil
}

// markUnavailable flips the cached flag after a transport failure so the
// next Available call waits out the recheck interval.
func (p *Provider) markUnavailable() {
	p.mu.Lock()
	p.available = false
	p.lastProbe = time.Now()
	p.mu.Unlock()
}
