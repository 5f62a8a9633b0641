// Package ingest translates raw assistant activity into canonical events on
// the activity bus. Two adapters feed it: hook payloads posted by the
// assistant's hook scripts, and JSONL transcript files watched on disk.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/echovoice/echo/internal/event"
)

// ErrUnrecognizedHook is returned by ParseHook for a well-formed payload
// whose hook_event_name is not one Echo handles. The caller reports it as
// ignored rather than failed.
var ErrUnrecognizedHook = errors.New("ingest: unrecognized hook event name")

// Hook event names sent by the assistant's hook scripts.
const (
	hookPostToolUse       = "PostToolUse"
	hookNotification      = "Notification"
	hookPermissionRequest = "PermissionRequest"
	hookStop              = "Stop"
	hookSessionStart      = "SessionStart"
	hookSessionEnd        = "SessionEnd"
)

// ParseHook converts a raw hook payload into an activity event. Invalid JSON
// is an error; a recognized name with a malformed body degrades to whatever
// fields could be extracted rather than failing.
func ParseHook(raw []byte) (event.Activity, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return event.Activity{}, fmt.Errorf("ingest: decode hook payload: %w", err)
	}

	name := str(payload, "hook_event_name")
	sessionID := str(payload, "session_id")
	slog.Debug("parsing hook event", "name", name, "session_id", sessionID)

	switch name {
	case hookPostToolUse:
		return parsePostToolUse(payload, sessionID), nil
	case hookNotification:
		return parseNotification(payload, sessionID), nil
	case hookPermissionRequest:
		return parsePermissionRequest(payload, sessionID), nil
	case hookStop:
		ev := event.NewActivity(event.AgentStopped, sessionID, event.SourceHook)
		ev.StopReason = str(payload, "stop_reason")
		if ev.StopReason == "" {
			ev.StopReason = str(payload, "reason")
		}
		return ev, nil
	case hookSessionStart:
		return event.NewActivity(event.SessionStart, sessionID, event.SourceHook), nil
	case hookSessionEnd:
		return event.NewActivity(event.SessionEnd, sessionID, event.SourceHook), nil
	}

	slog.Warn("unrecognized hook event name, skipping", "name", name)
	return event.Activity{}, fmt.Errorf("%w: %q", ErrUnrecognizedHook, name)
}

func parsePostToolUse(payload map[string]any, sessionID string) event.Activity {
	ev := event.NewActivity(event.ToolExecuted, sessionID, event.SourceHook)
	ev.ToolName = str(payload, "tool_name")
	ev.ToolInput = dict(payload, "tool_input")
	ev.ToolOutput = dict(payload, "tool_response")
	return ev
}

func parseNotification(payload map[string]any, sessionID string) event.Activity {
	ev := event.NewActivity(event.AgentBlocked, sessionID, event.SourceHook)
	ev.Message = str(payload, "message")
	ev.Options = strList(payload["options"])
	ev.BlockReason = inferBlockReason(str(payload, "type"), ev.Message)
	return ev
}

// parsePermissionRequest fires when a permission dialog is about to be shown.
// The payload carries tool_name and tool_input describing the pending action;
// the message is rebuilt so the narration names what needs approval.
func parsePermissionRequest(payload map[string]any, sessionID string) event.Activity {
	toolName := str(payload, "tool_name")
	if toolName == "" {
		toolName = "unknown tool"
	}
	toolInput := dict(payload, "tool_input")

	ev := event.NewActivity(event.AgentBlocked, sessionID, event.SourceHook)
	ev.BlockReason = event.BlockPermission
	ev.ToolName = toolName
	ev.ToolInput = toolInput
	ev.Message = permissionMessage(toolName, toolInput)

	// AskUserQuestion carries its own option labels; everything else is a
	// plain allow/deny dialog.
	ev.Options = []string{"Allow", "Deny"}
	if toolName == "AskUserQuestion" {
		if labels := questionOptionLabels(toolInput); len(labels) > 0 {
			ev.Options = labels
		}
	}
	return ev
}

// permissionMessage builds the spoken description of a permission request.
func permissionMessage(toolName string, toolInput map[string]any) string {
	if toolInput != nil {
		switch toolName {
		case "Bash":
			if cmd, ok := toolInput["command"].(string); ok {
				return "Claude wants to run: " + cmd
			}
		case "Write":
			if path, ok := toolInput["file_path"].(string); ok {
				return "Claude wants to write to: " + path
			}
		case "Edit":
			if path, ok := toolInput["file_path"].(string); ok {
				return "Claude wants to edit: " + path
			}
		case "AskUserQuestion":
			return askUserQuestionMessage(toolInput)
		}
	}
	return "Claude wants to use " + toolName
}

// askUserQuestionMessage extracts the first question and its choices.
func askUserQuestionMessage(toolInput map[string]any) string {
	q := firstQuestion(toolInput)
	if q == nil {
		return "Claude wants to ask you a question"
	}

	var b strings.Builder
	if text, ok := q["question"].(string); ok && text != "" {
		b.WriteString("Claude is asking: ")
		b.WriteString(text)
	} else {
		b.WriteString("Claude wants to ask you a question")
	}
	if labels := optionLabels(q["options"]); len(labels) > 0 {
		b.WriteString(" The choices are: ")
		b.WriteString(strings.Join(labels, ", "))
	}
	return b.String()
}

// questionOptionLabels returns the option labels of the first question, or
// nil when the shape is not what AskUserQuestion produces.
func questionOptionLabels(toolInput map[string]any) []string {
	q := firstQuestion(toolInput)
	if q == nil {
		return nil
	}
	return optionLabels(q["options"])
}

func firstQuestion(toolInput map[string]any) map[string]any {
	if toolInput == nil {
		return nil
	}
	questions, ok := toolInput["questions"].([]any)
	if !ok || len(questions) == 0 {
		return nil
	}
	q, ok := questions[0].(map[string]any)
	if !ok {
		return nil
	}
	return q
}

// optionLabels renders a questions[].options value as label strings. Options
// may be objects with a "label" field or bare values.
func optionLabels(v any) []string {
	opts, ok := v.([]any)
	if !ok || len(opts) == 0 {
		return nil
	}
	labels := make([]string, 0, len(opts))
	for _, opt := range opts {
		if m, ok := opt.(map[string]any); ok {
			if label, ok := m["label"].(string); ok {
				labels = append(labels, label)
				continue
			}
			labels = append(labels, fmt.Sprint(m))
			continue
		}
		labels = append(labels, fmt.Sprint(opt))
	}
	return labels
}

// inferBlockReason classifies a notification. The explicit type field wins;
// the message body is the fallback and can only signal permission or idle.
func inferBlockReason(notificationType, message string) event.BlockReason {
	lowered := strings.ToLower(notificationType)
	switch {
	case strings.Contains(lowered, "permission"):
		return event.BlockPermission
	case strings.Contains(lowered, "idle"):
		return event.BlockIdle
	case strings.Contains(lowered, "question"):
		return event.BlockQuestion
	}

	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "permission"):
		return event.BlockPermission
	case strings.Contains(msg, "idle"):
		return event.BlockIdle
	}

	slog.Debug("could not determine block reason",
		"notification_type", notificationType, "message", message)
	return ""
}

// str extracts a string field, empty when absent or the wrong type.
func str(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

// dict extracts an object field, nil when absent or the wrong type.
func dict(payload map[string]any, key string) map[string]any {
	m, _ := payload[key].(map[string]any)
	return m
}

// strList coerces a JSON array into strings, skipping non-string elements.
func strList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
