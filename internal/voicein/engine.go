package voicein

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/echovoice/echo/internal/bus"
	"github.com/echovoice/echo/internal/config"
	"github.com/echovoice/echo/internal/event"
	"github.com/echovoice/echo/internal/observe"
	"github.com/echovoice/echo/internal/voiceout"
	"github.com/echovoice/echo/pkg/audio"
	"github.com/echovoice/echo/pkg/provider/stt"
	"github.com/echovoice/echo/pkg/provider/tts"
)

const (
	// defaultSettleDelay lets the narration's critical playback begin before
	// the listen task starts waiting on it.
	defaultSettleDelay = 500 * time.Millisecond

	// defaultCriticalWait bounds the wait for critical playback to finish
	// before the microphone opens anyway.
	defaultCriticalWait = 20 * time.Second
)

// CaptureOpener opens the microphone for one listen task. The engine closes
// the returned device when the task ends, so capture never holds the hardware
// between blocks.
type CaptureOpener func() (audio.InputDevice, error)

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics attaches metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithConfirmation controls whether a "Sending: ..." phrase is spoken before
// dispatch. Enabled by default.
func WithConfirmation(enabled bool) Option {
	return func(e *Engine) { e.confirm = enabled }
}

// WithSettleDelay overrides the pause before a listen task engages.
func WithSettleDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.settleDelay = d
		}
	}
}

// WithCriticalWait overrides how long a listen task waits for critical
// playback to complete.
func WithCriticalWait(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.criticalWait = d
		}
	}
}

// Engine is the voice-in pipeline stage. It watches the activity bus for
// agent_blocked events and runs one listen task at a time:
// capture, transcribe, match, dispatch. A newer block or any non-blocking
// activity for the blocked session cancels the task in flight.
type Engine struct {
	activity  *bus.Bus[event.Activity]
	responses *bus.Bus[event.Response]

	transcriber stt.Provider
	synth       tts.Provider
	player      *audio.Player
	dispatcher  *Dispatcher
	alerts      *voiceout.AlertManager
	critical    *voiceout.Signal
	openCapture CaptureOpener
	metrics     *observe.Metrics

	cfg          config.STTConfig
	sampleRate   int
	confirm      bool
	settleDelay  time.Duration
	criticalWait time.Duration

	mu             sync.Mutex
	currentSession string
	listenCancel   context.CancelFunc
	listenGen      uint64
	listening      bool

	sub      *bus.Subscription[event.Activity]
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	listenWG sync.WaitGroup
}

// New creates the voice-in engine. transcriber and openCapture may be nil;
// the engine then still clears alerts and serves manual responses, it just
// never opens the microphone.
func New(activity *bus.Bus[event.Activity], responses *bus.Bus[event.Response],
	transcriber stt.Provider, synth tts.Provider, player *audio.Player,
	dispatcher *Dispatcher, alerts *voiceout.AlertManager, critical *voiceout.Signal,
	openCapture CaptureOpener, cfg config.STTConfig, sampleRate int, opts ...Option) *Engine {

	e := &Engine{
		activity:     activity,
		responses:    responses,
		transcriber:  transcriber,
		synth:        synth,
		player:       player,
		dispatcher:   dispatcher,
		alerts:       alerts,
		critical:     critical,
		openCapture:  openCapture,
		cfg:          cfg,
		sampleRate:   sampleRate,
		confirm:      true,
		settleDelay:  defaultSettleDelay,
		criticalWait: defaultCriticalWait,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Listening reports whether a listen task currently holds the microphone.
func (e *Engine) Listening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listening
}

// Start subscribes to the activity bus and launches the watcher.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.sub = e.activity.Subscribe()

	e.wg.Add(1)
	go e.worker(ctx)
	slog.Info("voice-in engine started",
		"dispatch", e.dispatcher.Method(),
		"capture", e.openCapture != nil)
}

// Stop cancels any listen task in flight and drains the workers.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.sub != nil {
		e.activity.Unsubscribe(e.sub)
	}
	e.mu.Lock()
	if e.listenCancel != nil {
		e.listenCancel()
		e.listenCancel = nil
	}
	e.mu.Unlock()
	e.wg.Wait()
	e.listenWG.Wait()
}

// HandleManualResponse dispatches text typed through the HTTP surface. It
// cancels any listen task for the session, emits a verbatim response event,
// and clears the session's alert whether or not dispatch succeeds.
func (e *Engine) HandleManualResponse(ctx context.Context, sessionID, text string) error {
	e.cancelListen(sessionID)

	resp := event.Response{
		Text:       text,
		Transcript: text,
		SessionID:  sessionID,
		Method:     event.MatchVerbatim,
		Confidence: 1.0,
		Timestamp:  event.Now(),
	}
	e.responses.Emit(resp)

	err := e.dispatch(ctx, resp)
	e.alerts.Clear(sessionID)
	return err
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.sub.C():
			if !ok {
				return
			}
			e.handle(ctx, ev)
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev event.Activity) {
	if ev.Type == event.AgentBlocked {
		e.startListen(ctx, ev)
		return
	}

	// The assistant produced activity, so it is no longer waiting on input:
	// stand down the alert and any listen task for that session.
	e.alerts.Clear(ev.SessionID)
	e.cancelListen(ev.SessionID)
}

// startListen replaces any listen task in flight with one for ev.
func (e *Engine) startListen(parent context.Context, ev event.Activity) {
	e.mu.Lock()
	if e.listenCancel != nil {
		e.listenCancel()
	}
	lctx, cancel := context.WithCancel(parent)
	e.listenGen++
	gen := e.listenGen
	e.listenCancel = cancel
	e.currentSession = ev.SessionID
	e.mu.Unlock()

	e.listenWG.Add(1)
	go func() {
		defer e.listenWG.Done()
		defer e.finishListen(gen, cancel)
		e.listen(lctx, ev)
	}()
}

// cancelListen aborts the in-flight listen task when it belongs to sessionID.
func (e *Engine) cancelListen(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listenCancel != nil && e.currentSession == sessionID {
		e.listenCancel()
		e.listenCancel = nil
		e.currentSession = ""
	}
}

// finishListen releases the listen slot, unless a newer task already holds it.
func (e *Engine) finishListen(gen uint64, cancel context.CancelFunc) {
	cancel()
	e.mu.Lock()
	if e.listenGen == gen {
		e.listenCancel = nil
		e.currentSession = ""
	}
	e.mu.Unlock()
}

// listen runs one capture-transcribe-match-dispatch cycle.
func (e *Engine) listen(ctx context.Context, ev event.Activity) {
	e.setListening(true)
	defer e.setListening(false)

	if !e.sleep(ctx, e.settleDelay) {
		return
	}
	if e.critical != nil && !e.critical.Wait(ctx, e.criticalWait) {
		if ctx.Err() != nil {
			return
		}
		slog.Debug("critical playback still running, listening anyway",
			"session_id", ev.SessionID)
	}

	pcm := e.capture(ctx, ev.SessionID)
	if len(pcm) == 0 || ctx.Err() != nil {
		return
	}

	transcript := e.transcribe(ctx, pcm)
	if transcript == "" || ctx.Err() != nil {
		return
	}

	m := MatchResponse(transcript, ev.Options, ev.BlockReason, e.cfg.ConfidenceThreshold)
	slog.Info("matched spoken response",
		"session_id", ev.SessionID,
		"transcript", transcript,
		"match", m.Text,
		"method", m.Method,
		"confidence", m.Confidence)

	if m.Method != event.MatchVerbatim && m.Confidence < e.cfg.ConfidenceThreshold {
		slog.Info("match below confidence threshold, not dispatching",
			"confidence", m.Confidence, "threshold", e.cfg.ConfidenceThreshold)
		return
	}

	resp := event.Response{
		Text:       m.Text,
		Transcript: transcript,
		SessionID:  ev.SessionID,
		Method:     m.Method,
		Confidence: m.Confidence,
		Options:    ev.Options,
		Timestamp:  event.Now(),
	}
	e.responses.Emit(resp)

	if e.confirm {
		e.speakConfirmation(ctx, m.Text)
	}

	if err := e.dispatch(ctx, resp); err != nil {
		slog.Warn("response dispatch failed", "err", err, "text", m.Text)
	}
	// Dispatched or not, the listener has answered; stop re-alerting.
	e.alerts.Clear(ev.SessionID)
}

// capture opens the microphone for this task and records one utterance.
// Returns nil when capture is unavailable or nothing was spoken.
func (e *Engine) capture(ctx context.Context, sessionID string) []byte {
	if e.openCapture == nil {
		slog.Debug("no capture device configured, skipping listen")
		return nil
	}
	dev, err := e.openCapture()
	if err != nil {
		slog.Warn("opening capture device failed", "err", err)
		return nil
	}
	defer dev.Close()
	if !dev.Available() {
		slog.Warn("capture device not available")
		return nil
	}

	slog.Info("listening for spoken response", "session_id", sessionID)
	pcm, err := audio.CaptureUtterance(ctx, dev, e.sampleRate, audio.VADConfig{
		SilenceThreshold:  e.cfg.SilenceThreshold,
		ListenTimeout:     e.cfg.ListenTimeout,
		SilenceDuration:   e.cfg.SilenceDuration,
		MaxRecordDuration: e.cfg.MaxRecordDuration,
	})
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("utterance capture failed", "err", err)
		}
		return nil
	}
	if pcm == nil {
		slog.Info("no speech detected before listen timeout", "session_id", sessionID)
	}
	return pcm
}

// transcribe wraps the captured PCM as WAV and sends it to the STT provider,
// recording latency. Empty result means the provider is down or heard nothing.
func (e *Engine) transcribe(ctx context.Context, pcm []byte) string {
	if e.transcriber == nil {
		return ""
	}
	wav := audio.EncodeWAV(pcm, e.sampleRate)

	start := time.Now()
	text, err := e.transcriber.Transcribe(ctx, wav)
	if e.metrics != nil {
		e.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("provider", e.transcriber.Name())))
	}
	if err != nil {
		slog.Warn("transcription failed", "err", err)
		return ""
	}
	return text
}

// speakConfirmation announces what is about to be typed. Best effort: any
// failure is logged and dispatch proceeds.
func (e *Engine) speakConfirmation(ctx context.Context, text string) {
	if e.synth == nil || e.player == nil {
		return
	}
	pcm, err := e.synth.Synthesize(ctx, "Sending: "+text)
	if err != nil || len(pcm) == 0 {
		return
	}
	if err := e.player.PlayImmediate(pcm); err != nil {
		slog.Debug("confirmation playback failed", "err", err)
	}
}

func (e *Engine) dispatch(ctx context.Context, resp event.Response) error {
	err := e.dispatcher.Dispatch(ctx, resp.Text)
	if e.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		e.metrics.ResponsesDispatched.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", string(resp.Method)),
			attribute.String("outcome", outcome)))
	}
	if err == nil {
		slog.Info("response dispatched",
			"session_id", resp.SessionID, "text", resp.Text, "method", resp.Method)
	}
	return err
}

func (e *Engine) setListening(v bool) {
	e.mu.Lock()
	e.listening = v
	e.mu.Unlock()
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
