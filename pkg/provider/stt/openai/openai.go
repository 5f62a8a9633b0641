// Package openai provides an STT provider backed by the OpenAI Whisper API.
// Availability is validated by listing models (the cheapest authenticated
// call) and cached, with re-probes on a fixed interval while the API is
// unreachable.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/echovoice/echo/pkg/provider/stt"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// DefaultModel is the hosted Whisper transcription model.
const DefaultModel = "whisper-1"

const (
	defaultTimeout         = 10 * time.Second
	defaultRecheckInterval = 60 * time.Second
)

// config holds optional configuration for the provider.
type config struct {
	baseURL         string
	model           string
	timeout         time.Duration
	recheckInterval time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. The "/v1" path
// segment is appended when missing.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel selects the transcription model.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithRecheckInterval sets how often availability is re-probed while the API
// is unreachable.
func WithRecheckInterval(d time.Duration) Option {
	return func(c *config) {
		c.recheckInterval = d
	}
}

// Provider implements stt.Provider using the OpenAI Whisper API.
type Provider struct {
	client          oai.Client
	model           string
	hasKey          bool
	recheckInterval time.Duration

	mu        sync.Mutex
	available bool
	lastProbe time.Time
	probed    bool
}

// New constructs a Whisper-backed Provider. An empty apiKey yields a
// permanently-unavailable provider so the reply loop degrades instead of
// failing to start.
func New(apiKey string, opts ...Option) *Provider {
	cfg := &config{
		model:           DefaultModel,
		timeout:         defaultTimeout,
		recheckInterval: defaultRecheckInterval,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
	}
	if cfg.baseURL != "" {
		base := strings.TrimSuffix(cfg.baseURL, "/")
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}

	if apiKey == "" {
		slog.Info("openai stt: no API key, transcription disabled")
	}
	return &Provider{
		client:          oai.NewClient(reqOpts...),
		model:           cfg.model,
		hasKey:          apiKey != "",
		recheckInterval: cfg.recheckInterval,
	}
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "openai" }

// Available implements stt.Provider. The first call probes the models
// listing; while unavailable it re-probes at most once per recheck interval.
func (p *Provider) Available(ctx context.Context) bool {
	if !p.hasKey {
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

	if _, err := p.client.Models.List(ctx); err != nil {
		slog.Warn("openai stt: health probe failed", "err", err)
		p.available = false
	} else {
		slog.Info("openai stt: available", "model", p.model)
		p.available = true
	}
	return p.available
}

// Transcribe implements stt.Provider. The input is a complete WAV recording;
// the result is the trimmed transcript, empty when nothing was heard. Returns
// nil text without error when the provider is unavailable.
func (p *Provider) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if !p.Available(ctx) {
		return "", nil
	}

	res, err := p.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	})
	if err != nil {
		p.markUnavailable()
		return "", fmt.Errorf("openai stt: transcription request: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

func (p *Provider) markUnavailable() {
	p.mu.Lock()
	p.available = false
	p.lastProbe = time.Now()
	p.mu.Unlock()
}
