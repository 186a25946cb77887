package cycle

import (
	"fmt"
	"strings"
)

// History is the append-only running transcript of a cycle. Entries are never
// rewritten; the prompt view truncates from the front when the transcript
// outgrows the configured window.
type History struct {
	entries []string
}

// NewHistory starts a transcript with the given seed line.
func NewHistory(seed string) *History {
	h := &History{}
	if seed != "" {
		h.entries = append(h.entries, seed)
	}
	return h
}

// Append records one completed reasoning step.
func (h *History) Append(thought, actionSig, observation string) {
	h.entries = append(h.entries, fmt.Sprintf("\nThought: %s\nAction: %s\nObservation: %s", thought, actionSig, observation))
}

// AppendObservation records a bare observation line, used for guard notices
// and step failures that have no associated action.
func (h *History) AppendObservation(observation string) {
	h.entries = append(h.entries, fmt.Sprintf("\nObservation: %s", observation))
}

// Len returns the number of recorded entries.
func (h *History) Len() int {
	return len(h.entries)
}

// Render returns the transcript for prompt injection. When the full text
// exceeds window characters, only the trailing window is kept, prefixed with
// "..." to mark the truncation. A window of zero or less disables truncation.
func (h *History) Render(window int) string {
	full := strings.Join(h.entries, "")
	if window <= 0 || len(full) <= window {
		return full
	}
	return "..." + full[len(full)-window:]
}
