// Package ai provides AI client adapters and wrappers used by the gateway.
package ai

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// GenerationCache memoizes validated SQL generations. Keys combine dialect,
// model, prompt, and the schema context so a changed schema never serves
// stale statements. A nil cache is valid and caches nothing.
type GenerationCache struct {
	c *lru.Cache[string, []string]
}

// NewGenerationCache returns a cache holding up to capacity generations.
// Capacity <= 0 disables caching.
func NewGenerationCache(capacity int) *GenerationCache {
	if capacity <= 0 {
		return nil
	}
	c, err := lru.New[string, []string](capacity)
	if err != nil {
		return nil
	}
	return &GenerationCache{c: c}
}

// Key builds the cache key for one generation request.
func Key(dialect, model, prompt, schemaContext string) string {
	h := sha256.New()
	for _, part := range []string{dialect, model, strings.TrimSpace(prompt), strings.TrimSpace(schemaContext)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the statements cached under key. The returned slice is a copy.
func (g *GenerationCache) Get(key string) ([]string, bool) {
	if g == nil {
		return nil, false
	}
	v, ok := g.c.Get(key)
	if !ok {
		return nil, false
	}
	out := make([]string, len(v))
	copy(out, v)
	return out, true
}

// Add stores statements under key.
func (g *GenerationCache) Add(key string, statements []string) {
	if g == nil || len(statements) == 0 {
		return
	}
	cp := make([]string, len(statements))
	copy(cp, statements)
	g.c.Add(key, cp)
}

// Len reports the number of cached generations.
func (g *GenerationCache) Len() int {
	if g == nil {
		return 0
	}
	return g.c.Len()
}
