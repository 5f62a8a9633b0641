package voiceout

import (
	"log/slog"
	"sync"
	"time"

	"github.com/echovoice/echo/internal/config"
	"github.com/echovoice/echo/internal/event"
)

// alertState tracks one session's active alert.
type alertState struct {
	narration event.Narration
	repeats   int
	timer     *time.Timer
	gen       uint64
}

// AlertManager keeps blocking events audible: each critical narration arms an
// alert keyed by session that replays on an interval until it is cleared or
// the repeat cap is reached. A second blocking event for the same session
// replaces the alert and its timer.
type AlertManager struct {
	interval   time.Duration
	maxRepeats int
	onRepeat   func(event.Narration)

	mu     sync.Mutex
	active map[string]*alertState
	gen    uint64
}

// NewAlertManager creates an AlertManager. onRepeat is invoked (from a timer
// goroutine) every time an alert replays; it typically re-plays the tone and
// narration. A zero interval disables repeats entirely.
func NewAlertManager(cfg config.AlertConfig, onRepeat func(event.Narration)) *AlertManager {
	return &AlertManager{
		interval:   cfg.RepeatInterval,
		maxRepeats: cfg.MaxRepeats,
		onRepeat:   onRepeat,
		active:     make(map[string]*alertState),
	}
}

// Set arms (or replaces) the alert for the narration's session.
func (a *AlertManager) Set(n event.Narration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if prev, ok := a.active[n.SessionID]; ok && prev.timer != nil {
		prev.timer.Stop()
	}

	a.gen++
	st := &alertState{narration: n, gen: a.gen}
	a.active[n.SessionID] = st
	if a.interval > 0 {
		st.timer = time.AfterFunc(a.interval, func() { a.repeat(n.SessionID, st.gen) })
	}
	slog.Debug("alert armed", "session_id", n.SessionID, "reason", n.BlockReason)
}

// Clear drops the alert for session, cancelling its repeat timer. Clearing a
// session with no active alert is a no-op.
func (a *AlertManager) Clear(session string) {
	a.mu.Lock()
	st, ok := a.active[session]
	if ok {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(a.active, session)
	}
	a.mu.Unlock()
	if ok {
		slog.Debug("alert cleared", "session_id", session)
	}
}

// ActiveCount returns the number of sessions with an armed alert.
func (a *AlertManager) ActiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}

// HasActive reports whether session has an armed alert.
func (a *AlertManager) HasActive(session string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.active[session]
	return ok
}

// Stop cancels all timers and drops all alerts.
func (a *AlertManager) Stop() {
	a.mu.Lock()
	for session, st := range a.active {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(a.active, session)
	}
	a.mu.Unlock()
}

// repeat fires on timer expiry. A generation mismatch means the alert was
// replaced or cleared since the timer was armed.
func (a *AlertManager) repeat(session string, gen uint64) {
	a.mu.Lock()
	st, ok := a.active[session]
	if !ok || st.gen != gen {
		a.mu.Unlock()
		return
	}
	if st.repeats >= a.maxRepeats {
		delete(a.active, session)
		a.mu.Unlock()
		slog.Info("alert expired after max repeats", "session_id", session)
		return
	}
	st.repeats++
	repeats := st.repeats
	narration := st.narration
	st.timer = time.AfterFunc(a.interval, func() { a.repeat(session, gen) })
	a.mu.Unlock()

	slog.Info("replaying alert", "session_id", session, "repeat", repeats)
	if a.onRepeat != nil {
		a.onRepeat(narration)
	}
}
