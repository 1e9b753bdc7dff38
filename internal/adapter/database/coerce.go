package database

import (
	"database/sql"
	"encoding/base64"
	"fmt"
	"math"
	"time"
	"unicode/utf8"
)

// Coerce maps a driver-native cell value onto a JSON-safe value.
//
// Policy: character data stays a string, binary data becomes base64,
// temporals become ISO-8601 in UTC, arrays coerce element-wise, numbers
// keep their integral/decimal identity, and anything unrecognized falls
// back to its string form. A panicking conversion yields nil rather than
// aborting the row.
func Coerce(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
		}
	}()
	return coerceValue(v)
}

// CoerceRow coerces every cell of a scanned row in place.
func CoerceRow(cells []any) {
	for i := range cells {
		cells[i] = Coerce(cells[i])
	}
}

func coerceValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool, string:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return coerceUint64(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return coerceUint64(x)
	case float32:
		return float64(x)
	case float64:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return x.String()
	case []byte:
		return coerceBytes(x)
	case sql.RawBytes:
		return coerceBytes(x)
	case sql.NullString:
		if !x.Valid {
			return nil
		}
		return x.String
	case sql.NullInt64:
		if !x.Valid {
			return nil
		}
		return x.Int64
	case sql.NullFloat64:
		if !x.Valid {
			return nil
		}
		return x.Float64
	case sql.NullBool:
		if !x.Valid {
			return nil
		}
		return x.Bool
	case sql.NullTime:
		if !x.Valid {
			return nil
		}
		return x.Time.UTC().Format(time.RFC3339Nano)
	case []any:
		arr := make([]any, len(x))
		for i, el := range x {
			arr[i] = Coerce(el)
		}
		return arr
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, el := range x {
			m[k] = Coerce(el)
		}
		return m
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// coerceBytes distinguishes character LOBs from binary LOBs: drivers such
// as go-sql-driver/mysql hand back text columns as []byte, so valid UTF-8
// stays a string and only genuinely binary payloads become base64.
func coerceBytes(b []byte) any {
	if b == nil {
		return nil
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func coerceUint64(u uint64) any {
	if u > math.MaxInt64 {
		return fmt.Sprintf("%d", u)
	}
	return int64(u)
}
