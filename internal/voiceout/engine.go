package voiceout

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
	"github.com/echovoice/echo/pkg/audio"
	"github.com/echovoice/echo/pkg/provider/tts"
)

// RemotePublisher forwards synthesized audio to an optional remote room.
// Implementations swallow transport failures internally; Publish errors are
// only logged.
type RemotePublisher interface {
	Publish(ctx context.Context, pcm []byte) error
	Connected() bool
}

const defaultTTSTimeout = 10 * time.Second

// Option configures an Engine.
type Option func(*Engine)

// WithRemote attaches a remote audio sink. Critical narrations are forwarded
// to it after local playback.
func WithRemote(r RemotePublisher) Option {
	return func(e *Engine) { e.remote = r }
}

// WithMetrics attaches metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSampleRate overrides the tone synthesis sample rate.
func WithSampleRate(rate int) Option {
	return func(e *Engine) {
		if rate > 0 {
			e.sampleRate = rate
		}
	}
}

// WithBacklogThreshold sets the queue depth above which low-priority
// narrations are skipped without synthesis.
func WithBacklogThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.backlogThreshold = n
		}
	}
}

// WithTTSTimeout bounds each synthesis request.
func WithTTSTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.ttsTimeout = d
		}
	}
}

// Engine is the voice-out pipeline stage. One worker drains the narration
// bus; critical narrations preempt everything, normal ones queue, low ones
// queue only when the player is keeping up.
type Engine struct {
	narrations *bus.Bus[event.Narration]
	player     *audio.Player
	synth      tts.Provider
	remote     RemotePublisher
	alerts     *AlertManager
	metrics    *observe.Metrics

	sampleRate       int
	backlogThreshold int
	ttsTimeout       time.Duration

	// tones holds the pre-synthesized alert tone per block reason; the empty
	// key is the default signature.
	tones map[event.BlockReason][]byte

	criticalDone *Signal

	sub    *bus.Subscription[event.Narration]
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the voice-out engine. Alert tones are synthesized once here and
// cached as PCM for the engine's lifetime.
func New(narrations *bus.Bus[event.Narration], player *audio.Player, synth tts.Provider,
	alertCfg config.AlertConfig, opts ...Option) *Engine {

	e := &Engine{
		narrations:       narrations,
		player:           player,
		synth:            synth,
		sampleRate:       config.DefaultSampleRate,
		backlogThreshold: config.DefaultBacklogThreshold,
		ttsTimeout:       defaultTTSTimeout,
		criticalDone:     NewSignal(),
	}
	for _, o := range opts {
		o(e)
	}
	e.alerts = NewAlertManager(alertCfg, e.replayAlert)

	e.tones = map[event.BlockReason][]byte{
		event.BlockPermission: audio.SynthesizeTone(audio.PermissionTones, e.sampleRate),
		event.BlockQuestion:   audio.SynthesizeTone(audio.QuestionTones, e.sampleRate),
		event.BlockIdle:       audio.SynthesizeTone(audio.IdleTones, e.sampleRate),
		"":                    audio.SynthesizeTone(audio.DefaultTones, e.sampleRate),
	}
	return e
}

// CriticalComplete returns the signal set after each critical playback
// finishes. The reply loop waits on it before opening the microphone.
func (e *Engine) CriticalComplete() *Signal { return e.criticalDone }

// Alerts returns the engine's alert manager.
func (e *Engine) Alerts() *AlertManager { return e.alerts }

// Start subscribes to the narration bus and launches the worker.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.sub = e.narrations.Subscribe()

	e.wg.Add(1)
	go e.worker(ctx)
	slog.Info("voice-out engine started", "tts", e.synth.Name())
}

// Stop detaches from the narration bus, drains the worker, and cancels all
// alert timers.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.sub != nil {
		e.narrations.Unsubscribe(e.sub)
	}
	e.wg.Wait()
	e.alerts.Stop()
}

// TestSpeak synthesizes text and queues it at normal priority. Used by the
// diagnostic endpoint; returns the synthesized byte count.
func (e *Engine) TestSpeak(ctx context.Context, text string) (int, error) {
	pcm, err := e.synthesize(ctx, text)
	if err != nil {
		return 0, err
	}
	if len(pcm) > 0 {
		e.player.Enqueue(pcm, audio.RankNormal)
		e.countPlayback("narration")
	}
	return len(pcm), nil
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-e.sub.C():
			if !ok {
				return
			}
			e.countNarration(n.Priority)
			switch n.Priority {
			case event.PriorityCritical:
				e.handleCritical(ctx, n)
			case event.PriorityLow:
				e.handleLow(ctx, n)
			default:
				e.handleNormal(ctx, n)
			}
		}
	}
}

// handleCritical preempts all current audio, alerts the listener with a tone,
// speaks the narration, and arms the repeat alert. The tone plays even when
// synthesis is unavailable: the listener must be alerted regardless.
func (e *Engine) handleCritical(ctx context.Context, n event.Narration) {
	e.criticalDone.Clear()
	defer e.criticalDone.Set()

	e.player.Interrupt()
	e.playTone(n.BlockReason)

	pcm, err := e.synthesize(ctx, n.Text)
	if err != nil {
		slog.Warn("critical synthesis failed", "err", err)
	}
	if len(pcm) > 0 {
		if err := e.player.PlayImmediate(pcm); err != nil {
			slog.Warn("critical playback failed", "err", err)
		} else {
			e.countPlayback("narration")
		}
		e.publishRemote(ctx, pcm)
	} else {
		slog.Info("no audio for critical narration, tone-only alert",
			"session_id", n.SessionID)
	}

	if n.SourceEventType == event.AgentBlocked {
		e.alerts.Set(n)
	}
}

func (e *Engine) handleNormal(ctx context.Context, n event.Narration) {
	pcm, err := e.synthesize(ctx, n.Text)
	if err != nil {
		slog.Warn("synthesis failed", "err", err)
		return
	}
	if len(pcm) == 0 {
		slog.Debug("no audio for narration", "session_id", n.SessionID)
		return
	}
	if e.player.Enqueue(pcm, audio.RankNormal) {
		e.countPlayback("narration")
	}
}

// handleLow checks the backlog before synthesizing: a busy queue means the
// low-priority phrase is stale by the time it would play.
func (e *Engine) handleLow(ctx context.Context, n event.Narration) {
	if e.player.QueueDepth() > e.backlogThreshold {
		slog.Debug("skipping low-priority narration, queue backlogged",
			"depth", e.player.QueueDepth())
		return
	}
	pcm, err := e.synthesize(ctx, n.Text)
	if err != nil {
		slog.Warn("synthesis failed", "err", err)
		return
	}
	if len(pcm) == 0 {
		return
	}
	if e.player.Enqueue(pcm, audio.RankLow) {
		e.countPlayback("narration")
	}
}

// replayAlert is the alert manager's repeat callback: tone plus narration,
// played immediately.
func (e *Engine) replayAlert(n event.Narration) {
	e.playTone(n.BlockReason)

	ctx, cancel := context.WithTimeout(context.Background(), e.ttsTimeout)
	defer cancel()
	pcm, err := e.synthesize(ctx, n.Text)
	if err != nil || len(pcm) == 0 {
		return
	}
	if err := e.player.PlayImmediate(pcm); err == nil {
		e.countPlayback("narration")
	}
}

func (e *Engine) playTone(reason event.BlockReason) {
	tone, ok := e.tones[reason]
	if !ok {
		tone = e.tones[""]
	}
	if err := e.player.PlayImmediate(tone); err != nil {
		slog.Warn("tone playback failed", "err", err)
		return
	}
	e.countPlayback("tone")
}

// synthesize calls the TTS provider under the configured timeout and records
// latency. A nil result without error means the provider is unavailable.
func (e *Engine) synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.ttsTimeout)
	defer cancel()

	start := time.Now()
	pcm, err := e.synth.Synthesize(ctx, text)
	if e.metrics != nil {
		e.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("provider", e.synth.Name())))
	}
	return pcm, err
}

func (e *Engine) publishRemote(ctx context.Context, pcm []byte) {
	if e.remote == nil || !e.remote.Connected() {
		return
	}
	if err := e.remote.Publish(ctx, pcm); err != nil {
		slog.Warn("remote publish failed", "err", err)
	}
}

func (e *Engine) countNarration(p event.Priority) {
	if e.metrics == nil {
		return
	}
	e.metrics.NarrationsEmitted.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("priority", string(p))))
}

func (e *Engine) countPlayback(kind string) {
	if e.metrics == nil {
		return
	}
	e.metrics.Playbacks.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("kind", kind)))
}
