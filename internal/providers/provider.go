package providers

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"tradereconcile/internal/model"
)

// LiveSource executes one live-source request and returns the raw rows as
// the source reported them.
type LiveSource interface {
	Name() string
	Query(ctx context.Context, query Query) ([]Row, error)
}

type Query struct {
	Flow model.Flow
	// Frequency is "A" for annual or "M" for monthly periods.
	Frequency      string
	Classification string
	Periods        []model.Period
	Reporter       string
	Product        string
	// Partner is optional; empty requests every partner.
	Partner string
}

// PeriodParam renders the periods in the comma-separated form live sources
// expect: YYYY for annual, YYYYMM for monthly.
func (q Query) PeriodParam() string {
	values := make([]string, 0, len(q.Periods))
	for _, period := range q.Periods {
		values = append(values, strings.ReplaceAll(period.Value, "-", ""))
	}
	return strings.Join(values, ",")
}

// Annual reports whether the query asks for yearly figures.
func (q Query) Annual() bool {
	return q.Frequency == "" || strings.EqualFold(q.Frequency, "A")
}

// Row is one schemaless record decoded from a live-source response.
type Row map[string]any

// Value returns the first of keys present on the row. Exact keys win over
// case-insensitive matches.
func (r Row) Value(keys ...string) (any, bool) {
	for _, key := range keys {
		if value, ok := r[key]; ok {
			return value, ok
		}
	}
	for rowKey, value := range r {
		for _, key := range keys {
			if strings.EqualFold(rowKey, key) {
				return value, true
			}
		}
	}
	return nil, false
}

func (r Row) String(keys ...string) (string, bool) {
	value, ok := r.Value(keys...)
	if !ok {
		return "", false
	}
	switch typed := value.(type) {
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return "", false
		}
		return trimmed, true
	case json.Number:
		return typed.String(), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32), true
	case int:
		return strconv.Itoa(typed), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	case uint64:
		return strconv.FormatUint(typed, 10), true
	default:
		return "", false
	}
}

// Float returns a finite numeric field. Nulls, unparsable strings and
// infinite or NaN values are not measured.
func (r Row) Float(keys ...string) (float64, bool) {
	value, ok := r.number(keys...)
	if !ok || math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, false
	}
	return value, true
}

func (r Row) number(keys ...string) (float64, bool) {
	value, ok := r.Value(keys...)
	if !ok {
		return 0, false
	}
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Bool returns a boolean field. The second result is false when the field is
// absent or null.
func (r Row) Bool(keys ...string) (bool, bool) {
	value, ok := r.Value(keys...)
	if !ok || value == nil {
		return false, false
	}
	return ParseBool(value), true
}

func ParseBool(value any) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "1", "true", "yes", "y":
			return true
		default:
			return false
		}
	case json.Number:
		return typed.String() != "0"
	case float64:
		return typed != 0
	case float32:
		return typed != 0
	case int:
		return typed != 0
	case int64:
		return typed != 0
	default:
		return false
	}
}
