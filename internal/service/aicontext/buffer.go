// Package aicontext keeps a bounded per-session history of executed SQL,
// sanitized for prompt enrichment: sensitive columns are masked, cells and
// error text are cut to fixed budgets, and each session holds at most ten
// items.
package aicontext

import (
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kamusis/swissql-sub000/internal/domain"
	"github.com/kamusis/swissql-sub000/pkg/textx"
)

const (
	// MaxItems bounds each session's deque.
	MaxItems = 10
	// MaxSampleRows bounds how many result rows an item retains.
	MaxSampleRows = 3
	// MaxColumns bounds columns kept per item, in declared order.
	MaxColumns = 20
	// MaxCellChars cuts string cells.
	MaxCellChars = 64
	// MaxErrorChars cuts sanitized error messages.
	MaxErrorChars = 512

	// ItemTypeError tags items recorded from failures.
	ItemTypeError = "ERROR"

	mask = "***"
)

// sensitiveMarkers redact any column whose lowercased name contains one.
var sensitiveMarkers = []string{"password", "passwd", "token", "secret", "key", "credential"}

// kvSecretRe redacts inline key=value secrets in error text.
var kvSecretRe = regexp.MustCompile(`(?i)(password|passwd|pwd|token|secret|credential)\s*=\s*[^;&,\s]+`)

type deque struct {
	mu    sync.Mutex
	items []domain.ContextItem
}

// Buffer is the outer concurrent map of session id to deque. Each deque
// carries its own mutex; the buffer itself is safe for concurrent use.
type Buffer struct {
	m   sync.Map
	now func() time.Time
}

func NewBuffer() *Buffer {
	return &Buffer{now: time.Now}
}

func (b *Buffer) dequeFor(sessionID string) *deque {
	if d, ok := b.m.Load(sessionID); ok {
		return d.(*deque)
	}
	d, _ := b.m.LoadOrStore(sessionID, &deque{})
	return d.(*deque)
}

// RecordExecute stores a sanitized summary of a successful execution.
func (b *Buffer) RecordExecute(sessionID, sql string, resp *domain.ExecuteResponse) {
	if sessionID == "" || resp == nil {
		return
	}

	cols := keepColumns(resp.Data.Columns)
	item := domain.ContextItem{
		SQL:          textx.SanitizeText(sql),
		ExecutedAt:   b.now(),
		Type:         resp.Type,
		Columns:      cols,
		SampleRows:   sampleRows(resp.Data.Rows, cols),
		Truncated:    resp.Metadata.Truncated,
		RowsAffected: resp.Metadata.RowsAffected,
		DurationMS:   resp.Metadata.DurationMS,
	}
	b.push(sessionID, item)
}

// RecordExecuteError stores a failure with its sanitized message.
func (b *Buffer) RecordExecuteError(sessionID, sql string, err error) {
	if sessionID == "" || err == nil {
		return
	}
	b.push(sessionID, domain.ContextItem{
		SQL:        textx.SanitizeText(sql),
		ExecutedAt: b.now(),
		Type:       ItemTypeError,
		Error:      SanitizeError(err.Error()),
	})
}

func (b *Buffer) push(sessionID string, item domain.ContextItem) {
	d := b.dequeFor(sessionID)
	d.mu.Lock()
	defer d.mu.Unlock()

	d.items = append(d.items, domain.ContextItem{})
	copy(d.items[1:], d.items)
	d.items[0] = item
	if len(d.items) > MaxItems {
		d.items = d.items[:MaxItems]
	}
}

// Recent returns up to limit items, most recent first. Zero or negative
// limits mean the full deque.
func (b *Buffer) Recent(sessionID string, limit int) []domain.ContextItem {
	v, ok := b.m.Load(sessionID)
	if !ok {
		return nil
	}
	d := v.(*deque)

	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.ContextItem, n)
	copy(out, d.items[:n])
	return out
}

// Clear drops the session's history entirely.
func (b *Buffer) Clear(sessionID string) {
	b.m.Delete(sessionID)
}

func keepColumns(cols []domain.Column) []string {
	if len(cols) == 0 {
		return nil
	}
	n := len(cols)
	if n > MaxColumns {
		n = MaxColumns
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = cols[i].Name
	}
	return out
}

func sampleRows(rows []domain.Row, cols []string) []domain.Row {
	if len(rows) == 0 || len(cols) == 0 {
		return nil
	}
	n := len(rows)
	if n > MaxSampleRows {
		n = MaxSampleRows
	}
	out := make([]domain.Row, 0, n)
	for _, row := range rows[:n] {
		kept := make(domain.Row, len(cols))
		for _, col := range cols {
			v, ok := row[col]
			if !ok {
				continue
			}
			if sensitiveColumn(col) {
				kept[col] = mask
				continue
			}
			if s, isStr := v.(string); isStr {
				kept[col] = truncateCell(s)
				continue
			}
			kept[col] = v
		}
		out = append(out, kept)
	}
	return out
}

func sensitiveColumn(name string) bool {
	low := strings.ToLower(name)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(low, marker) {
			return true
		}
	}
	return false
}

func truncateCell(s string) string {
	if utf8.RuneCountInString(s) <= MaxCellChars {
		return s
	}
	return string([]rune(s)[:MaxCellChars])
}

// SanitizeError strips control characters and stacked "error:" prefixes,
// masks inline key=value secrets, and cuts the message to the error budget.
func SanitizeError(msg string) string {
	out := textx.SanitizeText(msg)
	for {
		low := strings.ToLower(out)
		if !strings.HasPrefix(low, "error:") {
			break
		}
		out = strings.TrimSpace(out[len("error:"):])
	}
	out = kvSecretRe.ReplaceAllString(out, "$1="+mask)
	if utf8.RuneCountInString(out) > MaxErrorChars {
		out = string([]rune(out)[:MaxErrorChars])
	}
	return out
}
