// Package dbversion extracts and compares dotted database version
// numbers from raw product version strings such as
// "Oracle Database 19c ... Release 19.7.0.0.0" or "PostgreSQL 16.3".
package dbversion

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	fiveDotted  = regexp.MustCompile(`\d+\.\d+\.\d+\.\d+\.\d+`)
	threeDotted = regexp.MustCompile(`\d+\.\d+\.\d+`)
)

// Extract pulls the first five-dotted version number from raw, falling
// back to three-dotted, then to the trimmed raw string.
func Extract(raw string) string {
	if m := fiveDotted.FindString(raw); m != "" {
		return m
	}
	if m := threeDotted.FindString(raw); m != "" {
		return m
	}
	return strings.TrimSpace(raw)
}

// Compare orders two dotted version strings component-wise. Missing or
// non-numeric components count as zero.
func Compare(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av := component(as, i)
		bv := component(bs, i)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	return 0
}

// InRange reports min <= v <= max.
func InRange(v, min, max string) bool {
	return Compare(v, min) >= 0 && Compare(v, max) <= 0
}

func component(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
	if err != nil {
		return 0
	}
	return n
}
