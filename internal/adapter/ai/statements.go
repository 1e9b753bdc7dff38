package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kamusis/swissql-sub000/internal/domain"
)

// generationPayload is the strict contract the model must return.
type generationPayload struct {
	Statements []string `json:"statements"`
}

// ParseStatements validates a model reply against the generation contract
// and returns the cleaned statements plus their canonical JSON form. The
// reply must decode to {"statements":[...]} holding at least one non-blank
// string. Statements are trimmed and trailing semicolons removed. Markdown
// fences and prose around the JSON object are tolerated; quote rewriting is
// not attempted because SQL literals use single quotes.
func ParseStatements(reply string) ([]string, string, error) {
	raw := stripFences(reply)
	start := strings.Index(raw, "{")
	if start < 0 {
		return nil, "", fmt.Errorf("%w: model reply carries no JSON object", domain.ErrUpstream)
	}

	// A Decoder stops after the first complete value, so trailing prose
	// after the object does not break parsing.
	dec := json.NewDecoder(strings.NewReader(raw[start:]))
	var payload generationPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, "", fmt.Errorf("%w: model reply is not valid JSON: %v", domain.ErrUpstream, err)
	}
	if len(payload.Statements) == 0 {
		return nil, "", fmt.Errorf("%w: model reply has no statements", domain.ErrUpstream)
	}

	out := make([]string, 0, len(payload.Statements))
	for _, s := range payload.Statements {
		s = strings.TrimSpace(s)
		s = strings.TrimRight(s, ";")
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, "", fmt.Errorf("%w: model reply contains a blank statement", domain.ErrUpstream)
		}
		out = append(out, s)
	}

	canonical, err := json.Marshal(generationPayload{Statements: out})
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	return out, string(canonical), nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
