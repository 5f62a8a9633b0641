// Package app wires all Echo subsystems into a running sidecar.
//
// The App struct owns the full lifecycle: New creates and connects all
// pipeline stages, Run starts them and blocks until the context is cancelled
// or the HTTP server fails, and Shutdown tears everything down in reverse
// order.
//
// For testing, inject doubles via functional options (WithOutputDevice,
// WithCaptureOpener, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/echovoice/echo/internal/bus"
	"github.com/echovoice/echo/internal/config"
	"github.com/echovoice/echo/internal/event"
	"github.com/echovoice/echo/internal/health"
	"github.com/echovoice/echo/internal/ingest"
	"github.com/echovoice/echo/internal/observe"
	"github.com/echovoice/echo/internal/remote"
	"github.com/echovoice/echo/internal/server"
	"github.com/echovoice/echo/internal/summarize"
	"github.com/echovoice/echo/internal/voicein"
	"github.com/echovoice/echo/internal/voiceout"
	"github.com/echovoice/echo/pkg/audio"
	"github.com/echovoice/echo/pkg/audio/device"
	"github.com/echovoice/echo/pkg/provider/stt"
	"github.com/echovoice/echo/pkg/provider/tts"
)

// Version is reported by the health endpoint and telemetry.
const Version = "0.1.0"

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured; the corresponding stage degrades instead of
// failing. Populated by main.go via the config registry.
type Providers struct {
	TTS tts.Provider
	STT stt.Provider
}

// App owns all subsystem lifetimes and orchestrates the Echo pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	activity   *bus.Bus[event.Activity]
	narrations *bus.Bus[event.Narration]
	responses  *bus.Bus[event.Response]

	player     *audio.Player
	llm        *summarize.LLMSummarizer
	summarizer *summarize.Summarizer
	voiceOut   *voiceout.Engine
	voiceIn    *voicein.Engine
	watcher    *ingest.TranscriptWatcher
	sink       *remote.Sink
	dispatcher *voicein.Dispatcher
	srv        *server.Server

	outputDev    audio.OutputDevice
	openCapture  voicein.CaptureOpener
	micAvailable bool

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithOutputDevice injects a playback device instead of opening the default
// hardware device.
func WithOutputDevice(d audio.OutputDevice) Option {
	return func(a *App) { a.outputDev = d }
}

// WithCaptureOpener injects a microphone opener instead of the default
// hardware capture device.
func WithCaptureOpener(o voicein.CaptureOpener) Option {
	return func(a *App) { a.openCapture = o }
}

// WithMetrics injects metric instruments instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all pipeline stages together. The providers
// struct comes from main.go (populated via the config registry); nil slots
// leave the corresponding capability disabled.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.providers.TTS == nil {
		a.providers.TTS = disabledTTS{}
	}

	a.initBuses()
	a.initAudio()

	if err := a.initStages(); err != nil {
		return nil, err
	}
	a.initServer()
	return a, nil
}

// initBuses creates the three pipeline buses, all counting drops.
func (a *App) initBuses() {
	size := a.cfg.Server.BusBufferSize
	a.activity = bus.New[event.Activity]("activity",
		bus.WithBufferSize[event.Activity](size),
		bus.WithDropHandler[event.Activity](func(event.Activity) { a.countDrop("activity") }))
	a.narrations = bus.New[event.Narration]("narration",
		bus.WithBufferSize[event.Narration](size),
		bus.WithDropHandler[event.Narration](func(event.Narration) { a.countDrop("narration") }))
	a.responses = bus.New[event.Response]("response",
		bus.WithBufferSize[event.Response](size),
		bus.WithDropHandler[event.Response](func(event.Response) { a.countDrop("response") }))
}

// initAudio opens the playback device (or falls back to a silent one) and
// probes the microphone once so health can report it truthfully.
func (a *App) initAudio() {
	rate := a.cfg.Audio.SampleRate

	if a.outputDev == nil {
		dev, err := device.NewPlayback(rate)
		if err != nil {
			slog.Warn("no playback device, audio output disabled", "err", err)
			a.outputDev = silentOutput{}
		} else {
			a.outputDev = dev
		}
	}
	a.player = audio.NewPlayer(a.outputDev,
		audio.WithBacklogThreshold(a.cfg.Audio.BacklogThreshold))
	a.closers = append(a.closers, a.player.Close)

	if a.openCapture == nil {
		a.openCapture = func() (audio.InputDevice, error) {
			return device.NewCapture(rate)
		}
		// A quick open/close probe; the device itself is opened per listen
		// task so capture never holds the hardware between blocks.
		if dev, err := device.NewCapture(rate); err != nil {
			slog.Warn("no capture device, voice replies disabled", "err", err)
			a.openCapture = nil
		} else {
			dev.Close()
			a.micAvailable = true
		}
	} else {
		a.micAvailable = true
	}
}

// initStages builds the summarizer, voice-out, and voice-in stages plus the
// transcript watcher and the optional remote sink.
func (a *App) initStages() error {
	llm, err := summarize.NewLLMSummarizer(a.cfg.LLM, summarize.WithMetrics(a.metrics))
	if err != nil {
		return fmt.Errorf("app: init llm summarizer: %w", err)
	}
	a.llm = llm
	a.summarizer = summarize.New(a.activity, a.narrations, a.llm, a.cfg.Batch)

	sink, err := remote.New(a.cfg.Remote, a.cfg.Audio.SampleRate)
	if err != nil {
		return fmt.Errorf("app: init remote sink: %w", err)
	}
	a.sink = sink
	a.closers = append(a.closers, a.sink.Close)

	a.voiceOut = voiceout.New(a.narrations, a.player, a.providers.TTS, a.cfg.Alert,
		voiceout.WithRemote(a.sink),
		voiceout.WithMetrics(a.metrics),
		voiceout.WithSampleRate(a.cfg.Audio.SampleRate),
		voiceout.WithBacklogThreshold(a.cfg.Audio.BacklogThreshold),
		voiceout.WithTTSTimeout(a.cfg.TTS.Timeout))

	a.dispatcher = voicein.NewDispatcher(a.cfg.Dispatch.MethodOverride)
	a.voiceIn = voicein.New(a.activity, a.responses,
		a.providers.STT, a.providers.TTS, a.player,
		a.dispatcher, a.voiceOut.Alerts(), a.voiceOut.CriticalComplete(),
		a.openCapture, a.cfg.STT, a.cfg.Audio.SampleRate,
		voicein.WithMetrics(a.metrics))

	a.watcher = ingest.NewTranscriptWatcher(a.cfg.Transcript.ProjectsPath, a.activity)
	return nil
}

// initServer assembles the HTTP surface on top of the pipeline.
func (a *App) initServer() {
	a.srv = server.New(a.cfg.Server.Addr(), server.Deps{
		Activity:    a.activity,
		Narrations:  a.narrations,
		Responses:   a.responses,
		Speaker:     a.voiceOut,
		Responder:   a.voiceIn,
		TTSProvider: a.providers.TTS.Name(),
		Status:      a.healthStatus,
		Metrics:     a.metrics,
		Version:     Version,
		Checkers: []health.Checker{
			{Name: "audio", Check: func(context.Context) error {
				if !a.player.Available() {
					return errors.New("no playback device")
				}
				return nil
			}},
			{Name: "tts", Check: func(ctx context.Context) error {
				if !a.providers.TTS.Available(ctx) {
					return errors.New("tts provider unavailable")
				}
				return nil
			}},
		},
	})
}

// healthStatus snapshots every subsystem for GET /health.
func (a *App) healthStatus(ctx context.Context) server.Health {
	_, ttsDisabled := a.providers.TTS.(disabledTTS)
	h := server.Health{
		LLMAvailable:      a.llm.Available(),
		TTSProvider:       a.providers.TTS.Name(),
		TTSAvailable:      a.providers.TTS.Available(ctx),
		AudioAvailable:    a.player.Available(),
		RemoteConnected:   a.sink.Connected(),
		MicAvailable:      a.micAvailable,
		Listening:         a.voiceIn.Listening(),
		DispatchAvailable: a.dispatcher.Available(),
		DispatchMethod:    a.dispatcher.Method(),
		AlertActive:       a.voiceOut.Alerts().ActiveCount() > 0,
	}
	h.TTSState = ttsState(!ttsDisabled, h.TTSAvailable, h.AudioAvailable)
	if a.providers.STT != nil {
		h.STTProvider = a.providers.STT.Name()
		h.STTAvailable = a.providers.STT.Available(ctx)
	}
	h.STTState = sttState(a.providers.STT != nil, h.STTAvailable, h.MicAvailable, h.Listening)
	return h
}

// ttsState reduces provider and device availability to the narration
// subsystem's reported state.
func ttsState(configured, providerUp, audioUp bool) string {
	switch {
	case !configured:
		return "disabled"
	case providerUp && audioUp:
		return "active"
	default:
		return "degraded"
	}
}

// sttState reduces the reply loop's readiness to a single state; an in-flight
// capture overrides the rest.
func sttState(configured, providerUp, micUp, listening bool) string {
	switch {
	case listening:
		return "listening"
	case !configured || !micUp:
		return "disabled"
	case providerUp:
		return "active"
	default:
		return "degraded"
	}
}

// Run starts every stage and blocks until ctx is cancelled or the HTTP
// server fails. Stages keep running through provider outages; only a dead
// listener is fatal.
func (a *App) Run(ctx context.Context) error {
	if err := a.watcher.Start(ctx); err != nil {
		slog.Warn("transcript watcher disabled", "err", err)
	}
	a.llm.Start(ctx)
	a.summarizer.Start(ctx)
	a.voiceOut.Start(ctx)
	a.voiceIn.Start(ctx)

	// Room connection is best effort and must not delay startup.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_ = a.sink.Connect(gctx)
		return nil
	})

	srvErr := a.srv.Start()
	slog.Info("echo running", "addr", a.cfg.Server.Addr())

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case e := <-srvErr:
		if e != nil {
			err = fmt.Errorf("app: http server: %w", e)
		}
	}
	_ = g.Wait()
	return err
}

// Shutdown stops all stages in reverse start order. It respects the context
// deadline for the HTTP drain; everything else stops synchronously.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if err := a.srv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}

		a.voiceIn.Stop()
		a.voiceOut.Stop()
		a.summarizer.Stop()
		a.watcher.Stop()

		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) countDrop(busName string) {
	a.metrics.EventsDropped.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("bus", busName)))
}

// silentOutput stands in when no playback hardware is present: playback
// succeeds instantly and health reports audio as unavailable.
type silentOutput struct{}

func (silentOutput) Play([]byte) error { return nil }
func (silentOutput) Stop()             {}
func (silentOutput) Available() bool   { return false }
func (silentOutput) Close() error      { return nil }

// disabledTTS stands in when no TTS provider is configured, keeping the
// voice-out stage alive in tone-only mode.
type disabledTTS struct{}

func (disabledTTS) Synthesize(context.Context, string) ([]byte, error) { return nil, nil }
func (disabledTTS) Available(context.Context) bool                     { return false }
func (disabledTTS) Name() string                                       { return "none" }
