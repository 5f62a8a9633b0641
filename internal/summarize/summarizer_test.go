package summarize_test

import (
	"context"
	"testing"
	"time"

	"github.com/echovoice/echo/internal/bus"
	"github.com/echovoice/echo/internal/config"
	"github.com/echovoice/echo/internal/event"
	"github.com/echovoice/echo/internal/summarize"
)

// fakeMessages summarizes agent messages by echoing with a marker, or panics
// when told to.
type fakeMessages struct {
	panicOn string
}

func (f *fakeMessages) Summarize(_ context.Context, ev event.Activity) event.Narration {
	if f.panicOn != "" && ev.Text == f.panicOn {
		panic("boom")
	}
	return event.Narration{
		Text:            "summary: " + ev.Text,
		Priority:        event.PriorityNormal,
		SourceEventType: event.AgentMessage,
		SourceEventID:   ev.EventID,
		SessionID:       ev.SessionID,
		Timestamp:       event.Now(),
		Method:          event.MethodLLM,
	}
}

func newSummarizer(t *testing.T, messages summarize.MessageSummarizer, window time.Duration) (*bus.Bus[event.Activity], *bus.Subscription[event.Narration]) {
	t.Helper()
	activity := bus.New[event.Activity]("activity")
	narrations := bus.New[event.Narration]("narration")
	sub := narrations.Subscribe()
	t.Cleanup(func() { narrations.Unsubscribe(sub) })

	s := summarize.New(activity, narrations, messages, config.BatchConfig{
		Window:  window,
		MaxSize: 10,
	})
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return activity, sub
}

func nextNarration(t *testing.T, sub *bus.Subscription[event.Narration]) event.Narration {
	t.Helper()
	select {
	case n := <-sub.C():
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for narration")
		return event.Narration{}
	}
}

func TestSummarizerBatchesToolEvents(t *testing.T) {
	activity, sub := newSummarizer(t, &fakeMessages{}, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		activity.Emit(toolEvent("Edit", nil))
	}

	n := nextNarration(t, sub)
	if n.Text != "Edited 3 files." {
		t.Errorf("text = %q", n.Text)
	}
	if n.Method != event.MethodTemplate {
		t.Errorf("method = %q", n.Method)
	}
}

func TestSummarizerFlushesBatchBeforeNonToolEvent(t *testing.T) {
	activity, sub := newSummarizer(t, &fakeMessages{}, time.Hour)

	activity.Emit(toolEvent("Read", nil))
	blocked := event.NewActivity(event.AgentBlocked, "s1", event.SourceHook)
	blocked.BlockReason = event.BlockPermission
	activity.Emit(blocked)

	first := nextNarration(t, sub)
	if first.Text != "Read a file." {
		t.Errorf("first narration = %q, want the flushed batch", first.Text)
	}
	second := nextNarration(t, sub)
	if second.Priority != event.PriorityCritical {
		t.Errorf("second narration priority = %q, want critical", second.Priority)
	}
}

func TestSummarizerRoutesAgentMessages(t *testing.T) {
	activity, sub := newSummarizer(t, &fakeMessages{}, time.Hour)

	ev := event.NewActivity(event.AgentMessage, "s1", event.SourceTranscript)
	ev.Text = "refactored the parser"
	activity.Emit(ev)

	n := nextNarration(t, sub)
	if n.Text != "summary: refactored the parser" {
		t.Errorf("text = %q", n.Text)
	}
	if n.Method != event.MethodLLM {
		t.Errorf("method = %q", n.Method)
	}
}

func TestSummarizerSurvivesHandlerPanic(t *testing.T) {
	activity, sub := newSummarizer(t, &fakeMessages{panicOn: "bad"}, time.Hour)

	bad := event.NewActivity(event.AgentMessage, "s1", event.SourceTranscript)
	bad.Text = "bad"
	activity.Emit(bad)

	good := event.NewActivity(event.AgentMessage, "s1", event.SourceTranscript)
	good.Text = "good"
	activity.Emit(good)

	n := nextNarration(t, sub)
	if n.Text != "summary: good" {
		t.Errorf("worker did not survive panic, got %q", n.Text)
	}
}

func TestSummarizerStopFlushesPendingBatch(t *testing.T) {
	activity := bus.New[event.Activity]("activity")
	narrations := bus.New[event.Narration]("narration")
	sub := narrations.Subscribe()
	defer narrations.Unsubscribe(sub)

	s := summarize.New(activity, narrations, &fakeMessages{}, config.BatchConfig{
		Window:  time.Hour,
		MaxSize: 10,
	})
	s.Start(context.Background())

	activity.Emit(toolEvent("Bash", map[string]any{"command": "make"}))
	// Give the worker a beat to hand the event to the batcher.
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	select {
	case n := <-sub.C():
		if n.Text != "Ran a command." {
			t.Errorf("text = %q", n.Text)
		}
	default:
		t.Error("pending batch was not flushed on stop")
	}
}
