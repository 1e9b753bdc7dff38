package aicontext

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/swissql-sub000/internal/domain"
)

func tabularResponse(cols []string, rows []domain.Row) *domain.ExecuteResponse {
	out := &domain.ExecuteResponse{Type: domain.ResultTypeTabular}
	for _, c := range cols {
		out.Data.Columns = append(out.Data.Columns, domain.Column{Name: c})
	}
	out.Data.Rows = rows
	out.Metadata.RowsAffected = int64(len(rows))
	return out
}

func Test_RecordExecute_RedactsSensitiveColumns(t *testing.T) {
	b := NewBuffer()
	resp := tabularResponse(
		[]string{"user_id", "password", "api_token", "note"},
		[]domain.Row{{"user_id": int64(1), "password": "hunter2", "api_token": "abc", "note": "x"}},
	)

	b.RecordExecute("s1", "select * from users", resp)

	items := b.Recent("s1", 1)
	require.Len(t, items, 1)
	assert.Equal(t, domain.ResultTypeTabular, items[0].Type)
	require.Len(t, items[0].SampleRows, 1)
	assert.Equal(t, domain.Row{
		"user_id":   int64(1),
		"password":  "***",
		"api_token": "***",
		"note":      "x",
	}, items[0].SampleRows[0])
}

func Test_RecordExecute_TruncatesLongCells(t *testing.T) {
	b := NewBuffer()
	long := strings.Repeat("a", 100)
	resp := tabularResponse([]string{"body"}, []domain.Row{{"body": long}})

	b.RecordExecute("s1", "select body from posts", resp)

	items := b.Recent("s1", 1)
	require.Len(t, items, 1)
	cell := items[0].SampleRows[0]["body"].(string)
	assert.Equal(t, MaxCellChars, utf8.RuneCountInString(cell))
	assert.Equal(t, strings.Repeat("a", MaxCellChars), cell)
}

func Test_RecordExecute_CapsRowsAndColumns(t *testing.T) {
	b := NewBuffer()

	var cols []string
	row := domain.Row{}
	for i := 0; i < 25; i++ {
		name := fmt.Sprintf("c%02d", i)
		cols = append(cols, name)
		row[name] = int64(i)
	}
	rows := []domain.Row{row, row, row, row, row}

	b.RecordExecute("s1", "select * from wide", tabularResponse(cols, rows))

	items := b.Recent("s1", 1)
	require.Len(t, items, 1)
	assert.Len(t, items[0].Columns, MaxColumns)
	assert.Equal(t, "c00", items[0].Columns[0])
	assert.Equal(t, "c19", items[0].Columns[MaxColumns-1])
	require.Len(t, items[0].SampleRows, MaxSampleRows)
	assert.Len(t, items[0].SampleRows[0], MaxColumns)
	assert.NotContains(t, items[0].SampleRows[0], "c20")
}

func Test_Deque_CapAndOrder(t *testing.T) {
	b := NewBuffer()
	for i := 1; i <= 12; i++ {
		b.RecordExecute("s1", fmt.Sprintf("q%d", i), tabularResponse(nil, nil))
	}

	items := b.Recent("s1", 0)
	require.Len(t, items, MaxItems)
	assert.Equal(t, "q12", items[0].SQL)
	assert.Equal(t, "q3", items[MaxItems-1].SQL)
}

func Test_Recent_LimitAndUnknownSession(t *testing.T) {
	b := NewBuffer()
	b.RecordExecute("s1", "q1", tabularResponse(nil, nil))
	b.RecordExecute("s1", "q2", tabularResponse(nil, nil))

	items := b.Recent("s1", 1)
	require.Len(t, items, 1)
	assert.Equal(t, "q2", items[0].SQL)

	assert.Nil(t, b.Recent("ghost", 5))
}

func Test_RecordExecuteError_Sanitizes(t *testing.T) {
	b := NewBuffer()
	err := errors.New("Error: error: connect failed password=hunter2 token = abc123")

	b.RecordExecuteError("s1", "select 1", err)

	items := b.Recent("s1", 1)
	require.Len(t, items, 1)
	assert.Equal(t, ItemTypeError, items[0].Type)
	assert.Equal(t, "connect failed password=*** token=***", items[0].Error)
	assert.Empty(t, items[0].SampleRows)
}

func Test_RecordExecuteError_CapsLength(t *testing.T) {
	b := NewBuffer()
	b.RecordExecuteError("s1", "select 1", errors.New(strings.Repeat("x", 600)))

	items := b.Recent("s1", 1)
	require.Len(t, items, 1)
	assert.Equal(t, MaxErrorChars, utf8.RuneCountInString(items[0].Error))
}

func Test_Clear_Idempotent(t *testing.T) {
	b := NewBuffer()
	b.RecordExecute("s1", "q1", tabularResponse(nil, nil))

	b.Clear("s1")
	assert.Nil(t, b.Recent("s1", 0))
	b.Clear("s1")
	assert.Nil(t, b.Recent("s1", 0))
}

func Test_Record_Guards(t *testing.T) {
	b := NewBuffer()
	b.RecordExecute("", "q", tabularResponse(nil, nil))
	b.RecordExecute("s1", "q", nil)
	b.RecordExecuteError("s1", "q", nil)
	assert.Nil(t, b.Recent("s1", 0))
}

func Test_SanitizeError(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain failure", "plain failure"},
		{"Error: boom", "boom"},
		{"  error:   ERROR: nested", "nested"},
		{"pwd=x9 rest", "pwd=*** rest"},
		{"secret=abc;next=1", "secret=***;next=1"},
		{"driver\x00 said \x1bno", "driver said no"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SanitizeError(tc.in), tc.in)
	}
}
