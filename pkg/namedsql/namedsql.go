// Package namedsql compiles SQL containing :name placeholders into
// positional form plus the ordered list of referenced parameter names.
package namedsql

import "strings"

// Statement is the result of compiling named-parameter SQL.
type Statement struct {
	// SQL is the input with every recognized :name replaced by ?.
	SQL string
	// Names holds the parameter names in placeholder order. The i-th ?
	// (1-based positional index i) binds Names[i-1].
	Names []string
}

// HasParams reports whether the statement references any named parameter.
func (s Statement) HasParams() bool { return len(s.Names) > 0 }

// BindArgs resolves the compiled parameter names against params in
// placeholder order. Names absent from params bind as nil.
func (s Statement) BindArgs(params map[string]any) []any {
	if len(s.Names) == 0 {
		return nil
	}
	args := make([]any, len(s.Names))
	for i, name := range s.Names {
		if v, ok := params[name]; ok {
			args[i] = v
		}
	}
	return args
}

// Compile scans sql and rewrites :name placeholders to ?.
//
// A colon starts a placeholder only outside single-quoted string literals and
// only when neither the preceding nor the following character is another
// colon, which leaves PostgreSQL ::type casts untouched. The placeholder name
// is the longest run of [A-Za-z0-9_] after the colon; a colon not followed by
// a name character passes through verbatim. Compiling already-positional SQL
// is a no-op, so Compile is idempotent.
func Compile(sql string) Statement {
	var (
		out      strings.Builder
		names    []string
		inString bool
	)
	out.Grow(len(sql))

	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if c == '\'' {
			inString = !inString
			out.WriteRune(c)
			continue
		}
		if inString || c != ':' {
			out.WriteRune(c)
			continue
		}

		// A colon adjacent to another colon is a cast, not a placeholder.
		prevIsColon := i > 0 && runes[i-1] == ':'
		nextIsColon := i+1 < len(runes) && runes[i+1] == ':'
		if prevIsColon || nextIsColon {
			out.WriteRune(c)
			continue
		}

		start := i + 1
		end := start
		for end < len(runes) && isNameRune(runes[end]) {
			end++
		}
		if end == start {
			// Bare colon with no name; leave it alone.
			out.WriteRune(c)
			continue
		}

		names = append(names, string(runes[start:end]))
		out.WriteByte('?')
		i = end - 1
	}

	return Statement{SQL: out.String(), Names: names}
}

func isNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_':
		return true
	}
	return false
}
