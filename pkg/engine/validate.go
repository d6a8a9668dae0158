package engine

import (
	"fmt"
	"strings"
)

// errorIndicators are substrings whose presence in a result payload is
// worth flagging to the LLM even when the executor reported success —
// a log tail full of exceptions, an event stream of failures.
var errorIndicators = []string{
	"error",
	"failed",
	"exception",
	"not found",
	"forbidden",
	"timeout",
}

// ValidateResult scans a successful payload for error indicators and
// structural emptiness. The notes are informational: they ride along on
// the tool result and never block it.
func ValidateResult(content string) []string {
	var notes []string

	if isStructurallyEmpty(content) {
		return []string{"result payload is empty"}
	}

	lowered := strings.ToLower(content)
	for _, indicator := range errorIndicators {
		if strings.Contains(lowered, indicator) {
			notes = append(notes, fmt.Sprintf("result contains error indicator %q", indicator))
		}
	}
	return notes
}

func isStructurallyEmpty(content string) bool {
	switch strings.TrimSpace(content) {
	case "", "{}", "[]", "null":
		return true
	}
	return false
}
