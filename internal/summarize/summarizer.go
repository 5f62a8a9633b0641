package summarize

import (
	"context"
	"log/slog"
	"sync"

	"github.com/echovoice/echo/internal/bus"
	"github.com/echovoice/echo/internal/config"
	"github.com/echovoice/echo/internal/event"
)

// MessageSummarizer produces a narration from an agent_message event.
// [LLMSummarizer] is the production implementation.
type MessageSummarizer interface {
	Summarize(ctx context.Context, ev event.Activity) event.Narration
}

// Summarizer is the pipeline stage between the activity and narration buses.
// A single sequential worker drains the activity subscription so narrations
// keep arrival order; handler panics are logged and the worker continues.
type Summarizer struct {
	activity   *bus.Bus[event.Activity]
	narrations *bus.Bus[event.Narration]
	messages   MessageSummarizer
	batcher    *Batcher

	sub    *bus.Subscription[event.Activity]
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Summarizer. messages handles agent_message events; batchCfg
// tunes the tool-event batcher.
func New(activity *bus.Bus[event.Activity], narrations *bus.Bus[event.Narration],
	messages MessageSummarizer, batchCfg config.BatchConfig) *Summarizer {

	s := &Summarizer{
		activity:   activity,
		narrations: narrations,
		messages:   messages,
	}
	s.batcher = NewBatcher(batchCfg.Window, batchCfg.MaxSize, narrations.Emit)
	return s
}

// Start subscribes to the activity bus and launches the worker.
func (s *Summarizer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.sub = s.activity.Subscribe()

	s.wg.Add(1)
	go s.worker(ctx)
	slog.Info("summarizer started")
}

// Stop detaches from the activity bus, waits for the worker to drain, and
// flushes any pending tool batch synchronously.
func (s *Summarizer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.sub != nil {
		s.activity.Unsubscribe(s.sub)
	}
	s.wg.Wait()
	s.batcher.Flush()
}

func (s *Summarizer) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.sub.C():
			if !ok {
				return
			}
			s.process(ctx, ev)
		}
	}
}

// process routes one activity event. Panics in handlers are contained here so
// one bad event cannot take the worker down.
func (s *Summarizer) process(ctx context.Context, ev event.Activity) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("summarizer handler panicked",
				"event_type", ev.Type, "event_id", ev.EventID, "panic", r)
		}
	}()

	// Any non-tool event closes out the pending tool batch first so the
	// spoken order matches what actually happened.
	if ev.Type != event.ToolExecuted {
		s.batcher.Flush()
	}

	switch ev.Type {
	case event.ToolExecuted:
		s.batcher.Add(ev)
	case event.AgentMessage:
		s.narrations.Emit(s.messages.Summarize(ctx, ev))
	case event.AgentBlocked, event.AgentStopped, event.SessionStart, event.SessionEnd:
		s.narrations.Emit(Render(ev))
	default:
		slog.Warn("summarizer received unknown event type", "type", ev.Type)
	}
}
