// Package voicein implements the spoken reply loop: when the assistant
// blocks, it captures an utterance from the microphone, transcribes it,
// matches the transcript against the prompt's options, and injects the
// matched text back into the assistant's terminal.
package voicein

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/echovoice/echo/internal/event"
)

// Match is the result of mapping a transcript onto a prompt's options.
type Match struct {
	Text       string
	Confidence float64
	Method     event.MatchMethod
}

// ordinalWords maps spoken position words to option indices.
var ordinalWords = map[string]int{
	"one": 0, "first": 0, "1": 0,
	"two": 1, "second": 1, "2": 1,
	"three": 2, "third": 2, "3": 2,
	"four": 3, "fourth": 3, "4": 3,
	"five": 4, "fifth": 4, "5": 4,
	"six": 5, "sixth": 5, "6": 5,
	"seven": 6, "seventh": 6, "7": 6,
	"eight": 7, "eighth": 7, "8": 7,
	"nine": 8, "ninth": 8, "9": 8,
	"ten": 9, "tenth": 9, "10": 9,
}

// ordinalStripWords are filler words removed before ordinal lookup, so
// "pick option number two" reads as "two".
var ordinalStripWords = map[string]struct{}{
	"option": {}, "the": {}, "number": {}, "pick": {},
}

var yesWords = map[string]struct{}{
	"yes": {}, "yeah": {}, "yep": {}, "yup": {}, "sure": {},
	"allow": {}, "approve": {}, "accept": {}, "ok": {}, "okay": {},
}

var noWords = map[string]struct{}{
	"no": {}, "nah": {}, "nope": {}, "deny": {}, "reject": {},
	"decline": {}, "refuse": {}, "block": {},
}

// MatchResponse maps a transcript to the best option. Strategies apply in
// order, first hit wins: ordinal position, yes/no (permission prompts with
// exactly two options), direct substring, fuzzy similarity against threshold,
// and finally verbatim passthrough. The function is pure and deterministic.
func MatchResponse(transcript string, options []string, reason event.BlockReason, threshold float64) Match {
	trimmed := strings.TrimSpace(transcript)
	if len(options) == 0 {
		return Match{Text: trimmed, Confidence: 1.0, Method: event.MatchVerbatim}
	}

	lowered := strings.ToLower(trimmed)
	words := strings.Fields(lowered)

	if m, ok := matchOrdinal(words, options); ok {
		return m
	}
	if m, ok := matchYesNo(words, options, reason); ok {
		return m
	}
	if m, ok := matchDirect(lowered, options); ok {
		return m
	}
	if m, ok := matchFuzzy(lowered, options, threshold); ok {
		return m
	}
	return Match{Text: trimmed, Confidence: 1.0, Method: event.MatchVerbatim}
}

func matchOrdinal(words []string, options []string) (Match, bool) {
	for _, w := range words {
		if _, strip := ordinalStripWords[w]; strip {
			continue
		}
		if idx, ok := ordinalWords[w]; ok && idx < len(options) {
			return Match{Text: options[idx], Confidence: 0.95, Method: event.MatchOrdinal}, true
		}
	}
	return Match{}, false
}

// matchYesNo applies only to two-option permission prompts, where
// affirmative maps to the first option and negative to the second.
func matchYesNo(words []string, options []string, reason event.BlockReason) (Match, bool) {
	if len(options) != 2 || reason != event.BlockPermission {
		return Match{}, false
	}
	for _, w := range words {
		if _, ok := yesWords[w]; ok {
			return Match{Text: options[0], Confidence: 0.9, Method: event.MatchYesNo}, true
		}
	}
	for _, w := range words {
		if _, ok := noWords[w]; ok {
			return Match{Text: options[1], Confidence: 0.9, Method: event.MatchYesNo}, true
		}
	}
	return Match{}, false
}

// matchDirect looks for a case-insensitive substring relation in either
// direction, preferring the longest matching option.
func matchDirect(lowered string, options []string) (Match, bool) {
	best := ""
	for _, opt := range options {
		optLower := strings.ToLower(opt)
		if optLower == "" {
			continue
		}
		if strings.Contains(lowered, optLower) || strings.Contains(optLower, lowered) {
			if len(opt) > len(best) {
				best = opt
			}
		}
	}
	if best == "" {
		return Match{}, false
	}
	return Match{Text: best, Confidence: 0.85, Method: event.MatchDirect}, true
}

// matchFuzzy takes the option with the best normalized similarity ratio,
// accepted only at or above the confidence threshold.
func matchFuzzy(lowered string, options []string, threshold float64) (Match, bool) {
	bestRatio := 0.0
	bestOption := ""
	for _, opt := range options {
		ratio := matchr.JaroWinkler(lowered, strings.ToLower(opt), false)
		if ratio > bestRatio {
			bestRatio = ratio
			bestOption = opt
		}
	}
	if bestRatio < threshold || bestOption == "" {
		return Match{}, false
	}
	return Match{Text: bestOption, Confidence: bestRatio, Method: event.MatchFuzzy}, true
}
