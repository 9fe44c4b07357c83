package reportapi

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Row is one result row keyed by lower-cased column name.
type Row map[string]any

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (r Row) lookup(col string) (any, bool) {
	v, ok := r[col]
	if ok {
		return v, true
	}
	v, ok = r[strings.ToLower(col)]
	return v, ok
}

// IsNull reports whether the column is missing or NULL.
func (r Row) IsNull(col string) bool {
	v, ok := r.lookup(col)
	return !ok || v == nil
}

// String renders the column as text; NULL becomes "".
func (r Row) String(col string) string {
	v, ok := r.lookup(col)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "1"
		}
		return "0"
	case time.Time:
		return t.UTC().Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(t)
	}
}

// Int returns the column as an integer key; NULL and unparsable values give 0.
func (r Row) Int(col string) int64 {
	v, ok := r.lookup(col)
	if !ok || v == nil {
		return 0
	}
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case float32:
		return int64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if ferr != nil {
				return 0
			}
			return int64(f)
		}
		return n
	case []byte:
		return Row{"v": string(t)}.Int("v")
	}
	return 0
}

// Float returns the column as a float and whether it was non-NULL and numeric.
func (r Row) Float(col string) (float64, bool) {
	v, ok := r.lookup(col)
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		return f, err == nil
	}
	return 0, false
}

// Time parses the column as a timestamp.
func (r Row) Time(col string) (time.Time, bool) {
	v, ok := r.lookup(col)
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	}
	return time.Time{}, false
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
