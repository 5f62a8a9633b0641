// Package whisper provides an STT provider backed by a local whisper.cpp
// server. Each utterance is submitted as one multipart request to the
// server's POST /inference endpoint; availability is a plain reachability
// check against the server, cached with re-probes on a fixed interval while
// the server is down.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/echovoice/echo/pkg/provider/stt"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

const (
	defaultLanguage        = "en"
	defaultTimeout         = 30 * time.Second
	defaultRecheckInterval = 60 * time.Second
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code sent to the server. Defaults to
// "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		if lang != "" {
			p.language = lang
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

// WithRecheckInterval sets how often availability is re-probed while the
// server is unreachable.
func WithRecheckInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.recheckInterval = d
		}
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL       string
	model           string
	language        string
	recheckInterval time.Duration
	httpClient      *http.Client

	mu        sync.Mutex
	available bool
	lastProbe time.Time
	probed    bool
}

// New creates a Provider that connects to the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080"). An empty serverURL yields a
// permanently-unavailable provider.
func New(serverURL string, opts ...Option) *Provider {
	p := &Provider{
		serverURL:       strings.TrimSuffix(serverURL, "/"),
		language:        defaultLanguage,
		recheckInterval: defaultRecheckInterval,
		httpClient:      &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if serverURL == "" {
		slog.Info("whisper: no server URL, transcription disabled")
	}
	return p
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "whisper" }

// Available implements stt.Provider. The probe is a plain GET against the
// server root; any HTTP response counts as reachable.
func (p *Provider) Available(ctx context.Context) bool {
	if p.serverURL == "" {
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

// probe checks server reachability. Called with p.mu held.
func (p *Provider) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		slog.Warn("whisper: server unreachable", "url", p.serverURL, "err", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	slog.Info("whisper: available", "url", p.serverURL, "model", p.model)
	return true
}

// Transcribe implements stt.Provider. The WAV recording is POSTed to the
// server's /inference endpoint as multipart/form-data. Returns nil text
// without error when the provider is unavailable.
func (p *Provider) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if !p.Available(ctx) {
		return "", nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if p.language != "" {
		if err := mw.WriteField("language", p.language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.markUnavailable()
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

func (p *Provider) markUnavailable() {
	p.mu.Lock()
	p.available = false
	p.lastProbe = time.Now()
	p.mu.Unlock()
}
