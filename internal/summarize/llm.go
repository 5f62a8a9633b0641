package summarize

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/echovoice/echo/internal/config"
	"github.com/echovoice/echo/internal/event"
	"github.com/echovoice/echo/internal/observe"
)

const (
	// summaryPrompt instructs the model to compress assistant prose into one
	// speakable sentence.
	summaryPrompt = "Summarize this AI coding assistant message in one short sentence " +
		"(under 20 words) suitable for text-to-speech narration. " +
		"Focus on what was done or decided, not how."

	// Truncation fallback bounds.
	maxTruncationLength = 1000
	truncatedLength     = 990

	summaryMaxTokens   = 50
	summaryTemperature = 0.3
)

// LLMSummarizer turns agent_message text into narrations via a local
// generative backend, falling back to truncation whenever the backend is
// unavailable or a request fails. Availability is probed at start and
// re-probed on an interval only while down.
type LLMSummarizer struct {
	backend anyllmlib.Provider
	model   string
	baseURL string
	timeout time.Duration
	recheck time.Duration

	httpClient *http.Client
	metrics    *observe.Metrics

	mu        sync.Mutex
	available bool
	lastProbe time.Time
}

// LLMOption configures the summarizer beyond its config block.
type LLMOption func(*LLMSummarizer)

// WithMetrics wires metric instruments so completion latency is recorded.
func WithMetrics(m *observe.Metrics) LLMOption {
	return func(s *LLMSummarizer) { s.metrics = m }
}

// NewLLMSummarizer builds a summarizer against the configured backend.
// Construction never probes; call Start for the initial health check.
func NewLLMSummarizer(cfg config.LLMConfig, opts ...LLMOption) (*LLMSummarizer, error) {
	backend, err := ollama.New(anyllmlib.WithBaseURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("summarize: create llm backend: %w", err)
	}
	s := &LLMSummarizer{
		backend:    backend,
		model:      cfg.Model,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		recheck:    cfg.HealthCheckInterval,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Start runs the initial availability probe. The summarizer is usable either
// way; an unreachable backend just means truncation fallback.
func (s *LLMSummarizer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probeLocked(ctx)
}

// Available reports the cached backend state.
func (s *LLMSummarizer) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Summarize renders an agent_message event into a narration. The LLM path is
// attempted while the backend is available; any failure falls back to
// truncation and the narration records which method produced it.
func (s *LLMSummarizer) Summarize(ctx context.Context, ev event.Activity) event.Narration {
	s.maybeRecheck(ctx)

	if s.Available() {
		summary, err := s.complete(ctx, ev.Text)
		if err == nil && summary != "" {
			return s.narration(ev, summary, event.MethodLLM)
		}
		if err != nil {
			slog.Warn("llm summarization failed, falling back to truncation", "err", err)
		}
	}
	return s.truncate(ev)
}

// complete sends the fixed summarization prompt plus the message text and
// records the completion latency.
func (s *LLMSummarizer) complete(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	temp := summaryTemperature
	maxTokens := summaryMaxTokens
	start := time.Now()
	resp, err := s.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: s.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: summaryPrompt},
			{Role: anyllmlib.RoleUser, Content: text},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if s.metrics != nil {
		s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("model", s.model)))
	}
	if err != nil {
		return "", fmt.Errorf("summarize: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarize: empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.ContentString()), nil
}

// truncate is the deterministic fallback: text up to the limit passes
// through, longer text is cut and marked with an ellipsis.
func (s *LLMSummarizer) truncate(ev event.Activity) event.Narration {
	text := ev.Text
	if r := []rune(text); len(r) > maxTruncationLength {
		text = strings.TrimRight(string(r[:truncatedLength]), " \t\n") + "..."
	}
	return s.narration(ev, text, event.MethodTruncation)
}

func (s *LLMSummarizer) narration(ev event.Activity, text string, method event.Method) event.Narration {
	return event.Narration{
		Text:            text,
		Priority:        event.PriorityNormal,
		SourceEventType: event.AgentMessage,
		SourceEventID:   ev.EventID,
		SessionID:       ev.SessionID,
		Timestamp:       event.Now(),
		Method:          method,
	}
}

// maybeRecheck re-probes the backend when it is down and the recheck interval
// has elapsed. A healthy backend is not probed again until a request fails.
func (s *LLMSummarizer) maybeRecheck(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.available || time.Since(s.lastProbe) < s.recheck {
		return
	}
	s.probeLocked(ctx)
}

// probeLocked pings the backend's model listing. Called with s.mu held.
func (s *LLMSummarizer) probeLocked(ctx context.Context) {
	s.lastProbe = time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tags", nil)
	if err != nil {
		s.available = false
		return
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.available = false
		slog.Warn("llm backend not available, using truncation fallback",
			"base_url", s.baseURL, "err", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	s.available = resp.StatusCode == http.StatusOK
	if s.available {
		slog.Info("llm backend available", "base_url", s.baseURL, "model", s.model)
	} else {
		slog.Warn("llm backend rejected health probe, using truncation fallback",
			"status", resp.StatusCode)
	}
}
