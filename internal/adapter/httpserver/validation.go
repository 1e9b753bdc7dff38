package httpserver

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kamusis/swissql-sub000/internal/domain"
)

// ValidationError describes one rejected input field; slices of these travel
// in the error envelope's details.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

var samplerIDRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidateSamplerID checks a caller-chosen sampler id. Ids become map keys
// and log fields, so the charset stays conservative.
func ValidateSamplerID(id string) []ValidationError {
	if id == "" {
		return []ValidationError{{
			Field:   "sampler_id",
			Code:    "REQUIRED",
			Message: "sampler id is required",
		}}
	}
	if len(id) > 100 {
		return []ValidationError{{
			Field:   "sampler_id",
			Code:    "TOO_LONG",
			Message: "sampler id is too long (max 100 characters)",
		}}
	}
	if !samplerIDRe.MatchString(id) {
		return []ValidationError{{
			Field:   "sampler_id",
			Code:    "INVALID_FORMAT",
			Message: "sampler id may contain letters, digits, dot, dash, underscore",
		}}
	}
	return nil
}

// queryInt reads a non-negative integer query parameter, returning def when
// the parameter is absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrInvalidArgument, name)
	}
	return n, nil
}

// SanitizeString normalizes a free-text query parameter: control characters
// and null bytes go, surrounding whitespace is trimmed, the result is valid
// UTF-8 and capped to keep identifiers out of DoS territory.
func SanitizeString(input string) string {
	input = strings.Map(func(r rune) rune {
		if r == 0 || (r < 0x20 && r != '\t') {
			return -1
		}
		return r
	}, input)
	input = strings.TrimSpace(input)
	if len(input) > 1000 {
		input = input[:1000]
	}
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}
	return input
}
