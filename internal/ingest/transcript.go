package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/echovoice/echo/internal/bus"
	"github.com/echovoice/echo/internal/event"
)

const (
	// dedupTTL is how long a transcript entry's identity key suppresses
	// duplicates. Hooks and transcript writes can describe the same moment.
	dedupTTL = time.Second

	// dedupCleanupEvery bounds the dedup set: expired keys are swept after
	// this many processed entries.
	dedupCleanupEvery = 50
)

// TranscriptWatcher tails the assistant's JSONL session transcripts and
// publishes qualifying assistant messages as agent_message events. One file
// per session; files are read incrementally from a per-path byte offset.
type TranscriptWatcher struct {
	root    string
	bus     *bus.Bus[event.Activity]
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	offsets map[string]int64   // absolute path -> bytes consumed
	seen    map[string]float64 // dedup key -> expiry (unix seconds)
	entries int                // processed since last dedup sweep

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTranscriptWatcher creates a watcher rooted at root (typically
// ~/.claude/projects). The directory tree is watched recursively for *.jsonl
// changes.
func NewTranscriptWatcher(root string, activityBus *bus.Bus[event.Activity]) *TranscriptWatcher {
	return &TranscriptWatcher{
		root:    root,
		bus:     activityBus,
		offsets: make(map[string]int64),
		seen:    make(map[string]float64),
	}
}

// Start registers filesystem watches and launches the event loop. Existing
// transcript content is skipped: offsets start at the current end of each
// file so only new activity is narrated.
func (w *TranscriptWatcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ingest: create fs watcher: %w", err)
	}
	w.watcher = fsw

	if err := w.addTree(w.root); err != nil {
		fsw.Close()
		return err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)

	slog.Info("transcript watcher started", "root", w.root)
	return nil
}

// Stop tears down the filesystem watches and waits for the loop to exit.
func (w *TranscriptWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.wg.Wait()
}

// addTree walks dir registering a watch on every directory and seeding the
// offset of every existing transcript at its current size. A missing root is
// not an error; the assistant may not have created it yet.
func (w *TranscriptWatcher) addTree(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		if isTranscript(path) {
			if info, err := d.Info(); err == nil {
				w.mu.Lock()
				w.offsets[path] = info.Size()
				w.mu.Unlock()
			}
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("transcript root does not exist yet", "root", dir)
			return nil
		}
		return fmt.Errorf("ingest: watch transcript tree: %w", err)
	}
	return nil
}

func (w *TranscriptWatcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("transcript watcher error", "err", err)
		}
	}
}

func (w *TranscriptWatcher) handleFSEvent(ev fsnotify.Event) {
	path, err := filepath.Abs(ev.Name)
	if err != nil {
		path = ev.Name
	}

	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			// New project directory: watch it and anything already inside.
			if err := w.addTree(path); err != nil {
				slog.Warn("failed to watch new directory", "path", path, "err", err)
			}
			return
		}
		if isTranscript(path) {
			w.consume(path)
		}

	case ev.Has(fsnotify.Write):
		if isTranscript(path) {
			w.consume(path)
		}

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.offsets, path)
		w.mu.Unlock()
	}
}

// consume reads path from its stored offset to EOF, publishing an event for
// every qualifying line. Truncation (size below the offset) resets to the
// beginning of the file.
func (w *TranscriptWatcher) consume(path string) {
	w.mu.Lock()
	offset := w.offsets[path]
	w.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		slog.Warn("failed to open transcript", "path", path, "err", err)
		return
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return
	}

	reader := bufio.NewReaderSize(f, 64*1024)
	consumed := offset
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("failed to read transcript", "path", path, "err", err)
			}
			// An unterminated trailing fragment stays unconsumed: the writer
			// may still be mid-line, and the completing write re-delivers it.
			break
		}
		consumed += int64(len(line))
		w.processLine(bytes.TrimRight(line, "\r\n"), path)
	}

	w.mu.Lock()
	w.offsets[path] = consumed
	w.mu.Unlock()
}

// transcriptEntry is the subset of a transcript line Echo cares about.
type transcriptEntry struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Timestamp string `json:"timestamp"`
	Message   struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

// processLine parses one JSONL line and publishes an agent_message event when
// the line is an assistant message with text content. Anything else is
// silently skipped.
func (w *TranscriptWatcher) processLine(line []byte, path string) {
	if len(strings.TrimSpace(string(line))) == 0 {
		return
	}

	var entry transcriptEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		slog.Warn("skipping malformed transcript line", "path", path, "err", err)
		return
	}
	if entry.Type != "assistant" || entry.Message.Role != "assistant" {
		return
	}

	var blocks []string
	for _, c := range entry.Message.Content {
		if c.Type == "text" {
			if text := strings.TrimSpace(c.Text); text != "" {
				blocks = append(blocks, text)
			}
		}
	}
	if len(blocks) == 0 {
		return
	}

	sessionID := entry.SessionID
	if sessionID == "" {
		sessionID = strings.TrimSuffix(filepath.Base(path), ".jsonl")
	}

	ts := event.Now()
	if entry.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, entry.Timestamp); err == nil {
			ts = float64(parsed.UnixNano()) / float64(time.Second)
		}
	}

	if w.isDuplicate(sessionID, ts) {
		slog.Debug("suppressing duplicate transcript entry", "session_id", sessionID)
		return
	}

	ev := event.NewActivity(event.AgentMessage, sessionID, event.SourceTranscript)
	ev.Timestamp = ts
	ev.Text = strings.Join(blocks, "\n\n")
	w.bus.Emit(ev)
}

// isDuplicate records the entry's identity key and reports whether it was
// already seen within the TTL. The key quantizes the timestamp to 100 ms so
// the same message observed twice hashes identically.
func (w *TranscriptWatcher) isDuplicate(sessionID string, ts float64) bool {
	key := fmt.Sprintf("%s:%.1f", sessionID, ts)
	now := event.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if expiry, ok := w.seen[key]; ok && expiry > now {
		return true
	}
	w.seen[key] = now + dedupTTL.Seconds()

	w.entries++
	if w.entries >= dedupCleanupEvery {
		w.entries = 0
		for k, expiry := range w.seen {
			if expiry <= now {
				delete(w.seen, k)
			}
		}
	}
	return false
}

func isTranscript(path string) bool {
	return strings.HasSuffix(path, ".jsonl")
}
