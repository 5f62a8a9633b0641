// Package summarize converts activity events into narrations: short spoken
// phrases with a playback priority. Tool executions are coalesced by a
// batcher and rendered from templates; assistant messages go through a local
// LLM with a truncation fallback; everything else renders from templates
// directly.
package summarize

import (
	"fmt"
	"strings"

	"github.com/echovoice/echo/internal/event"
)

// bashCommandMaxLen bounds how much of a shell command is spoken.
const bashCommandMaxLen = 60

// priorityFor maps activity types to playback priorities.
func priorityFor(typ event.Type) event.Priority {
	switch typ {
	case event.AgentBlocked:
		return event.PriorityCritical
	case event.SessionStart, event.SessionEnd:
		return event.PriorityLow
	default:
		return event.PriorityNormal
	}
}

// Render converts a single activity event into a narration using templates.
// It is total: any internal failure degrades to a generic phrase rather than
// propagating.
func Render(ev event.Activity) event.Narration {
	n := event.Narration{
		Text:            strings.TrimSpace(renderText(ev)),
		Priority:        priorityFor(ev.Type),
		SourceEventType: ev.Type,
		SourceEventID:   ev.EventID,
		SessionID:       ev.SessionID,
		Timestamp:       event.Now(),
		Method:          event.MethodTemplate,
	}
	if ev.Type == event.AgentBlocked {
		n.BlockReason = ev.BlockReason
		n.Options = ev.Options
	}
	return n
}

// RenderBatch converts a batch of tool_executed events into one narration.
// Events are counted per tool name: "Edited 3 files." or, mixed, "Edited 2
// files and Ran a command." The narration inherits the first event's session
// and event ID.
func RenderBatch(events []event.Activity) event.Narration {
	counts := make(map[string]int)
	var order []string
	for _, ev := range events {
		tool := ev.ToolName
		if tool == "" {
			tool = "Unknown"
		}
		if _, seen := counts[tool]; !seen {
			order = append(order, tool)
		}
		counts[tool]++
	}

	parts := make([]string, 0, len(order))
	for _, tool := range order {
		count := counts[tool]
		verb := batchVerb(tool)
		noun := batchNoun(tool, count)
		if count > 1 {
			parts = append(parts, fmt.Sprintf("%s %d %s", verb, count, noun))
		} else {
			parts = append(parts, verb+" "+noun)
		}
	}

	first := events[0]
	return event.Narration{
		Text:            strings.Join(parts, " and ") + ".",
		Priority:        event.PriorityNormal,
		SourceEventType: event.ToolExecuted,
		SourceEventID:   first.EventID,
		SessionID:       first.SessionID,
		Timestamp:       event.Now(),
		Method:          event.MethodTemplate,
	}
}

func batchVerb(tool string) string {
	switch tool {
	case "Edit":
		return "Edited"
	case "Read":
		return "Read"
	case "Write":
		return "Created"
	case "Bash":
		return "Ran"
	case "Glob", "Grep":
		return "Searched"
	default:
		return "Used"
	}
}

func batchNoun(tool string, count int) string {
	plural := count > 1
	switch tool {
	case "Edit", "Read", "Write":
		if plural {
			return "files"
		}
		return "a file"
	case "Bash":
		if plural {
			return "commands"
		}
		return "a command"
	case "Glob", "Grep":
		if plural {
			return "searches"
		}
		return "a search"
	default:
		if plural {
			return "tools"
		}
		return "a tool"
	}
}

// renderText dispatches on event type. Recover keeps the renderer total.
func renderText(ev event.Activity) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = "An event occurred."
		}
	}()

	switch ev.Type {
	case event.ToolExecuted:
		return renderToolExecuted(ev)
	case event.AgentBlocked:
		return renderAgentBlocked(ev)
	case event.AgentStopped:
		if ev.StopReason != "" {
			return fmt.Sprintf("Agent stopped: %s.", ev.StopReason)
		}
		return "Agent finished."
	case event.SessionStart:
		return "New coding session started."
	case event.SessionEnd:
		return "Session ended."
	default:
		return fmt.Sprintf("Agent event: %s.", ev.Type)
	}
}

func renderToolExecuted(ev event.Activity) string {
	tool := ev.ToolName
	if tool == "" {
		tool = "Unknown"
	}
	input := ev.ToolInput

	switch tool {
	case "Bash":
		command := inputStr(input, "command", "")
		// Cut on a rune boundary; byte slicing could split a multi-byte
		// character and hand invalid UTF-8 to the synthesizer.
		if r := []rune(command); len(r) > bashCommandMaxLen {
			command = string(r[:bashCommandMaxLen]) + "..."
		}
		return "Ran command: " + command
	case "Read":
		return "Read " + basename(inputStr(input, "file_path", "a file"))
	case "Edit":
		return "Edited " + basename(inputStr(input, "file_path", "a file"))
	case "Write":
		return "Created " + basename(inputStr(input, "file_path", "a file"))
	case "Glob":
		return "Searched for files matching " + inputStr(input, "pattern", "a pattern")
	case "Grep":
		return "Searched code for " + inputStr(input, "pattern", "a pattern")
	case "Task":
		return "Launched a sub-agent"
	case "WebFetch":
		return "Fetched a web page"
	case "WebSearch":
		return "Searched the web for " + inputStr(input, "query", "something")
	default:
		return fmt.Sprintf("Used %s tool", tool)
	}
}

func renderAgentBlocked(ev event.Activity) string {
	var base string
	switch ev.BlockReason {
	case event.BlockPermission:
		base = "The agent needs permission."
		if ev.Message != "" {
			base += " " + ev.Message
		}
	case event.BlockIdle:
		base = "The agent is waiting for your input."
	case event.BlockQuestion:
		base = "The agent has a question."
		if ev.Message != "" {
			base += " " + ev.Message
		}
	default:
		base = "The agent is blocked and needs attention."
	}

	if len(ev.Options) > 0 {
		base += " " + formatOptions(ev.Options)
	}
	return base
}

// formatOptions renders the choices as natural language: one option plain,
// two joined by "and", three or more with an Oxford-comma "or".
func formatOptions(options []string) string {
	switch len(options) {
	case 1:
		return fmt.Sprintf("Options are: %s.", options[0])
	case 2:
		return fmt.Sprintf("Options are: %s and %s.", options[0], options[1])
	default:
		head := strings.Join(options[:len(options)-1], ", ")
		return fmt.Sprintf("Options are: %s, or %s.", head, options[len(options)-1])
	}
}

// basename returns the final path segment for spoken readability.
func basename(path string) string {
	if path == "" || path == "a file" {
		return "a file"
	}
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// inputStr extracts a string field from a tool input map.
func inputStr(input map[string]any, key, fallback string) string {
	if input != nil {
		if s, ok := input[key].(string); ok && s != "" {
			return s
		}
		if v, ok := input[key]; ok {
			if s := fmt.Sprint(v); s != "" && s != "<nil>" {
				return s
			}
		}
	}
	return fallback
}
