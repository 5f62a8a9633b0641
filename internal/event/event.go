// Package event defines the canonical data model flowing between Echo's
// pipeline stages: activity events produced by ingestion, narration events
// produced by summarization, and response events produced by the reply loop.
//
// Events are immutable after emission. Producers construct a value, publish
// it on a bus, and never touch it again; each subscriber works on its own
// copy of the struct.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies which ingestion adapter produced an activity event.
type Source string

const (
	SourceHook       Source = "hook"
	SourceTranscript Source = "transcript"
)

// Type discriminates the activity event variants. It determines which
// optional payload fields are meaningful; all others are left zero.
type Type string

const (
	ToolExecuted Type = "tool_executed"
	AgentBlocked Type = "agent_blocked"
	AgentStopped Type = "agent_stopped"
	AgentMessage Type = "agent_message"
	SessionStart Type = "session_start"
	SessionEnd   Type = "session_end"
)

// IsValid reports whether t is a recognised activity type.
func (t Type) IsValid() bool {
	switch t {
	case ToolExecuted, AgentBlocked, AgentStopped, AgentMessage, SessionStart, SessionEnd:
		return true
	}
	return false
}

// BlockReason classifies why the assistant is blocked awaiting input.
// The empty string means the reason could not be determined.
type BlockReason string

const (
	BlockPermission BlockReason = "permission_prompt"
	BlockIdle       BlockReason = "idle_prompt"
	BlockQuestion   BlockReason = "question"
)

// Priority orders narrations for playback scheduling.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Rank maps a priority to its integer scheduling rank. Lower ranks are
// serviced first: critical=0, normal=1, low=2. Unknown priorities rank as
// normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Method records how a narration's text was produced. Diagnostic only.
type Method string

const (
	MethodTemplate   Method = "template"
	MethodLLM        Method = "llm"
	MethodTruncation Method = "truncation"
)

// MatchMethod records which matching strategy produced a response.
type MatchMethod string

const (
	MatchOrdinal  MatchMethod = "ordinal"
	MatchYesNo    MatchMethod = "yes_no"
	MatchDirect   MatchMethod = "direct"
	MatchFuzzy    MatchMethod = "fuzzy"
	MatchVerbatim MatchMethod = "verbatim"
)

// Activity is the canonical unit on the activity bus. Optional fields are
// meaningful only for the variant indicated by Type.
type Activity struct {
	EventID   string  `json:"event_id"`
	Timestamp float64 `json:"timestamp"`
	SessionID string  `json:"session_id"`
	Source    Source  `json:"source"`
	Type      Type    `json:"type"`

	// tool_executed
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolOutput map[string]any `json:"tool_output,omitempty"`

	// agent_blocked
	BlockReason BlockReason `json:"block_reason,omitempty"`
	Message     string      `json:"message,omitempty"`
	Options     []string    `json:"options,omitempty"`

	// agent_message
	Text string `json:"text,omitempty"`

	// agent_stopped
	StopReason string `json:"stop_reason,omitempty"`
}

// NewActivity returns an Activity of the given variant with a fresh event ID
// and the current wall clock. sessionID falls back to "unknown" when empty.
func NewActivity(typ Type, sessionID string, source Source) Activity {
	if sessionID == "" {
		sessionID = "unknown"
	}
	return Activity{
		EventID:   uuid.NewString(),
		Timestamp: Now(),
		SessionID: sessionID,
		Source:    source,
		Type:      typ,
	}
}

// Narration is the unit on the narration bus: one phrase to be spoken.
type Narration struct {
	Text            string      `json:"text"`
	Priority        Priority    `json:"priority"`
	SourceEventType Type        `json:"source_event_type"`
	SourceEventID   string      `json:"source_event_id"`
	SessionID       string      `json:"session_id"`
	Timestamp       float64     `json:"timestamp"`
	BlockReason     BlockReason `json:"block_reason,omitempty"`
	Method          Method      `json:"summarization_method"`
	Options         []string    `json:"options,omitempty"`
}

// Response is a diagnostic emission produced when the reply loop matches or
// dispatches a spoken answer.
type Response struct {
	Text       string      `json:"text"`
	Transcript string      `json:"transcript"`
	SessionID  string      `json:"session_id"`
	Method     MatchMethod `json:"match_method"`
	Confidence float64     `json:"confidence"`
	Options    []string    `json:"options,omitempty"`
	Timestamp  float64     `json:"timestamp"`
}

// Now returns the current wall clock as fractional Unix seconds, the
// timestamp representation used across all event types.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
