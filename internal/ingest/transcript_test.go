package ingest_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/echovoice/echo/internal/bus"
	"github.com/echovoice/echo/internal/event"
	"github.com/echovoice/echo/internal/ingest"
)

// assistantLine renders one qualifying transcript entry.
func assistantLine(sessionID, text, ts string) string {
	return fmt.Sprintf(`{"type":"assistant","sessionId":%q,"timestamp":%q,"message":{"role":"assistant","content":[{"type":"text","text":%q}]}}`,
		sessionID, ts, text)
}

func startWatcher(t *testing.T, root string) (*bus.Bus[event.Activity], *bus.Subscription[event.Activity]) {
	t.Helper()
	b := bus.New[event.Activity]("activity")
	sub := b.Subscribe()
	t.Cleanup(func() { b.Unsubscribe(sub) })

	w := ingest.NewTranscriptWatcher(root, b)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)
	return b, sub
}

// await receives one event or fails after a grace period.
func await(t *testing.T, sub *bus.Subscription[event.Activity]) event.Activity {
	t.Helper()
	select {
	case ev := <-sub.C():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for activity event")
		return event.Activity{}
	}
}

// expectNone asserts no event arrives within the window.
func expectNone(t *testing.T, sub *bus.Subscription[event.Activity], window time.Duration) {
	t.Helper()
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(window):
	}
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	appendRaw(t, path, line+"\n")
}

func appendRaw(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(data); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestTranscriptWatcherEmitsAssistantMessages(t *testing.T) {
	root := t.TempDir()
	_, sub := startWatcher(t, root)

	path := filepath.Join(root, "sess-a.jsonl")
	appendLine(t, path, assistantLine("sess-a", "I fixed the bug.", "2026-08-24T10:00:00Z"))

	ev := await(t, sub)
	if ev.Type != event.AgentMessage || ev.Source != event.SourceTranscript {
		t.Errorf("type/source = %q/%q", ev.Type, ev.Source)
	}
	if ev.SessionID != "sess-a" {
		t.Errorf("session_id = %q", ev.SessionID)
	}
	if ev.Text != "I fixed the bug." {
		t.Errorf("text = %q", ev.Text)
	}
}

func TestTranscriptWatcherSkipsExistingContent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "old.jsonl")
	appendLine(t, path, assistantLine("old", "history", "2026-08-24T09:00:00Z"))

	_, sub := startWatcher(t, root)
	expectNone(t, sub, 300*time.Millisecond)

	// New content after startup still flows.
	appendLine(t, path, assistantLine("old", "fresh", "2026-08-24T10:00:00Z"))
	ev := await(t, sub)
	if ev.Text != "fresh" {
		t.Errorf("text = %q, want fresh", ev.Text)
	}
}

func TestTranscriptWatcherIgnoresNonAssistantLines(t *testing.T) {
	root := t.TempDir()
	_, sub := startWatcher(t, root)

	path := filepath.Join(root, "s.jsonl")
	appendLine(t, path, `{"type":"user","message":{"role":"user","content":[{"type":"text","text":"hi"}]}}`)
	appendLine(t, path, `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","name":"Bash"}]}}`)
	appendLine(t, path, `not json at all`)

	expectNone(t, sub, 300*time.Millisecond)
}

func TestTranscriptWatcherJoinsTextBlocks(t *testing.T) {
	root := t.TempDir()
	_, sub := startWatcher(t, root)

	path := filepath.Join(root, "s.jsonl")
	appendLine(t, path, `{"type":"assistant","sessionId":"s","timestamp":"2026-08-24T10:00:00Z","message":{"role":"assistant","content":[{"type":"text","text":" first "},{"type":"tool_use","name":"Bash"},{"type":"text","text":"second"}]}}`)

	ev := await(t, sub)
	if ev.Text != "first\n\nsecond" {
		t.Errorf("text = %q, want blocks joined by blank line", ev.Text)
	}
}

func TestTranscriptWatcherSessionIDFallsBackToFileStem(t *testing.T) {
	root := t.TempDir()
	_, sub := startWatcher(t, root)

	path := filepath.Join(root, "stem-id.jsonl")
	appendLine(t, path, `{"type":"assistant","timestamp":"2026-08-24T10:00:00Z","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}`)

	ev := await(t, sub)
	if ev.SessionID != "stem-id" {
		t.Errorf("session_id = %q, want file stem", ev.SessionID)
	}
}

func TestTranscriptWatcherSuppressesDuplicates(t *testing.T) {
	root := t.TempDir()
	_, sub := startWatcher(t, root)

	// Same session and timestamp written to two files within the window.
	line := assistantLine("dup", "same message", "2026-08-24T10:00:00Z")
	appendLine(t, filepath.Join(root, "a.jsonl"), line)
	await(t, sub)

	appendLine(t, filepath.Join(root, "b.jsonl"), line)
	expectNone(t, sub, 300*time.Millisecond)
}

func TestTranscriptWatcherTruncationResetsOffset(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "s.jsonl")
	appendLine(t, path, assistantLine("s", "long original line that pads the offset", "2026-08-24T10:00:00Z"))

	_, sub := startWatcher(t, root)

	// Truncate below the stored offset, then write fresh content.
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	appendLine(t, path, assistantLine("s", "after truncation", "2026-08-24T11:00:00Z"))

	ev := await(t, sub)
	if ev.Text != "after truncation" {
		t.Errorf("text = %q, want after truncation", ev.Text)
	}
}

func TestTranscriptWatcherHoldsBackUnterminatedLine(t *testing.T) {
	root := t.TempDir()
	_, sub := startWatcher(t, root)

	path := filepath.Join(root, "s.jsonl")
	full := assistantLine("s", "written in two parts", "2026-08-24T10:00:00Z")
	half := len(full) / 2

	// A writer mid-line: the fragment must not be consumed or narrated.
	appendRaw(t, path, full[:half])
	expectNone(t, sub, 300*time.Millisecond)

	// The completing write delivers the whole line exactly once.
	appendRaw(t, path, full[half:]+"\n")
	ev := await(t, sub)
	if ev.Text != "written in two parts" {
		t.Errorf("text = %q, want the reassembled line", ev.Text)
	}
	expectNone(t, sub, 300*time.Millisecond)
}

func TestTranscriptWatcherHandlesCRLFLines(t *testing.T) {
	root := t.TempDir()
	_, sub := startWatcher(t, root)

	path := filepath.Join(root, "s.jsonl")
	appendRaw(t, path, assistantLine("s", "first", "2026-08-24T10:00:00Z")+"\r\n")
	if ev := await(t, sub); ev.Text != "first" {
		t.Errorf("text = %q, want first", ev.Text)
	}

	// Offsets must account for the full delimiter or the tail of the first
	// line would be re-read here.
	appendRaw(t, path, assistantLine("s", "second", "2026-08-24T11:00:00Z")+"\r\n")
	if ev := await(t, sub); ev.Text != "second" {
		t.Errorf("text = %q, want second", ev.Text)
	}
	expectNone(t, sub, 300*time.Millisecond)
}

func TestTranscriptWatcherPicksUpNewDirectories(t *testing.T) {
	root := t.TempDir()
	_, sub := startWatcher(t, root)

	project := filepath.Join(root, "new-project")
	if err := os.Mkdir(project, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// Give the watcher a beat to register the new directory.
	time.Sleep(200 * time.Millisecond)

	appendLine(t, filepath.Join(project, "s.jsonl"), assistantLine("s", "nested", "2026-08-24T10:00:00Z"))
	ev := await(t, sub)
	if ev.Text != "nested" {
		t.Errorf("text = %q, want nested", ev.Text)
	}
}
