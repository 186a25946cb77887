package cycle

import (
	"encoding/json"
	"fmt"
	"strings"
)

// defaultThought is substituted when the model omits its analysis.
const defaultThought = "No analysis provided"

// ActionRequest is one tool invocation chosen by the model.
type ActionRequest struct {
	Tool       string
	Parameters map[string]interface{}
}

// Signature returns the canonical string form of the request, used for
// repetition detection and for rendering the action into history. Map keys
// are serialized in sorted order, so equal parameter sets always produce
// equal signatures.
func (a ActionRequest) Signature() string {
	params := a.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		encoded = []byte("{}")
	}
	return fmt.Sprintf("%s(%s)", a.Tool, encoded)
}

// Reply is one parsed model response. A nil Action means the agent declined
// to choose a tool.
type Reply struct {
	Thought string
	Action  *ActionRequest
}

// ParseError reports a model response that could not be decoded, even after
// embedded-fragment extraction.
type ParseError struct {
	Raw   string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("undecodable model response: %v", e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// wireReply matches the JSON shape the prompt asks the model to produce.
type wireReply struct {
	Thought string `json:"thought"`
	Action  *struct {
		ToolName   string                 `json:"tool_name"`
		Parameters map[string]interface{} `json:"parameters"`
	} `json:"action"`
}

// ParseReply decodes raw model output into a Reply. Strict decoding is tried
// first; on failure the first balanced JSON object embedded in the text is
// extracted and decoded. Field values are never guessed.
func ParseReply(raw string) (*Reply, error) {
	cleaned := stripCodeFences(raw)

	var wire wireReply
	err := json.Unmarshal([]byte(cleaned), &wire)
	if err != nil {
		fragment, ok := extractJSONObject(cleaned)
		if !ok {
			return nil, &ParseError{Raw: raw, Cause: err}
		}
		if fragErr := json.Unmarshal([]byte(fragment), &wire); fragErr != nil {
			return nil, &ParseError{Raw: raw, Cause: fragErr}
		}
	}

	reply := &Reply{Thought: strings.TrimSpace(wire.Thought)}
	if reply.Thought == "" {
		reply.Thought = defaultThought
	}
	if wire.Action != nil && wire.Action.ToolName != "" {
		params := wire.Action.Parameters
		if params == nil {
			params = map[string]interface{}{}
		}
		reply.Action = &ActionRequest{Tool: wire.Action.ToolName, Parameters: params}
	}
	return reply, nil
}

// stripCodeFences removes a surrounding markdown fence, if present.
func stripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 && !strings.HasPrefix(s, "{") {
		// Drop a language tag like ```json.
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractJSONObject finds the first balanced top-level JSON object in text.
// Braces inside string literals are ignored.
func extractJSONObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
