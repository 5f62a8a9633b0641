package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrAllProvidersFailed is returned by [Fallback.Synthesize] when every
// provider in the chain failed or produced no audio.
var ErrAllProvidersFailed = errors.New("tts: all providers failed")

// Fallback implements [Provider] with automatic failover across multiple
// backends. Providers are tried in registration order; an entry reporting
// itself unavailable is skipped as long as a later entry is available.
//
// Each wrapped provider keeps its own cached availability probe, so a failed
// primary stops being tried within one recheck interval.
type Fallback struct {
	chain []Provider
}

var _ Provider = (*Fallback)(nil)

// NewFallback builds a failover chain with primary first.
func NewFallback(primary Provider, fallbacks ...Provider) *Fallback {
	return &Fallback{chain: append([]Provider{primary}, fallbacks...)}
}

// Synthesize tries each provider in order until one returns audio. A provider
// returning empty audio with a nil error counts as a failure for failover
// purposes: a later provider may still have a voice for the text.
func (f *Fallback) Synthesize(ctx context.Context, text string) ([]byte, error) {
	var lastErr error
	anyAvailable := f.Available(ctx)
	for _, p := range f.chain {
		if anyAvailable && !p.Available(ctx) {
			slog.Debug("skipping unavailable tts provider", "provider", p.Name())
			continue
		}
		pcm, err := p.Synthesize(ctx, text)
		if err != nil {
			slog.Warn("tts provider failed, trying next", "provider", p.Name(), "err", err)
			lastErr = err
			continue
		}
		if len(pcm) > 0 {
			return pcm, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
	}
	return nil, nil
}

// Available reports whether any provider in the chain is reachable.
func (f *Fallback) Available(ctx context.Context) bool {
	for _, p := range f.chain {
		if p.Available(ctx) {
			return true
		}
	}
	return false
}

// Name joins the chain's provider names, primary first.
func (f *Fallback) Name() string {
	names := make([]string, len(f.chain))
	for i, p := range f.chain {
		names[i] = p.Name()
	}
	return strings.Join(names, "+")
}
