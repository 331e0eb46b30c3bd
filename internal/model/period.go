package model

import (
	"fmt"
	"strconv"
	"strings"
)

type PeriodType string

const (
	PeriodMonth   PeriodType = "M"
	PeriodQuarter PeriodType = "Q"
	PeriodYear    PeriodType = "Y"
)

type Period struct {
	Type  PeriodType
	Value string
}

func YearPeriod(year int) Period {
	return Period{Type: PeriodYear, Value: fmt.Sprintf("%04d", year)}
}

func MonthPeriod(year, month int) Period {
	return Period{Type: PeriodMonth, Value: fmt.Sprintf("%04d-%02d", year, month)}
}

func (p Period) String() string {
	return p.Value
}

func (p Period) IsZero() bool {
	return p.Value == ""
}

// Year returns the calendar year of the period.
func (p Period) Year() (int, bool) {
	switch p.Type {
	case PeriodMonth:
		year, _, ok := parseYearMonth(p.Value)
		return year, ok
	case PeriodQuarter:
		year, _, ok := parseYearQuarter(p.Value)
		return year, ok
	case PeriodYear:
		return parseYear(p.Value)
	default:
		return 0, false
	}
}

// Column is the output column name for the period.
func (p Period) Column() string {
	if p.Type == PeriodYear {
		return "Year"
	}
	return "Period"
}

// Compare orders periods of the same type chronologically. Coarser periods
// sort before finer ones.
func (p Period) Compare(other Period) int {
	priorityA := periodPriority(p.Type)
	priorityB := periodPriority(other.Type)
	if priorityA != priorityB {
		if priorityA > priorityB {
			return 1
		}
		return -1
	}

	keyA := periodKey(p.Type, p.Value)
	keyB := periodKey(other.Type, other.Value)
	switch {
	case keyA > keyB:
		return 1
	case keyA < keyB:
		return -1
	default:
		return strings.Compare(p.Value, other.Value)
	}
}

// ParsePeriod normalizes a raw period value. Accepted forms are YYYY,
// YYYYMM, YYYY-MM, YYYY-Qn and YYYYQn.
func ParsePeriod(raw string) (Period, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Period{}, false
	}
	if year, month, ok := parseYearMonth(trimmed); ok {
		return MonthPeriod(year, month), true
	}
	if year, quarter, ok := parseYearQuarter(trimmed); ok {
		return Period{Type: PeriodQuarter, Value: fmt.Sprintf("%04d-Q%d", year, quarter)}, true
	}
	if year, ok := parseYear(trimmed); ok {
		return YearPeriod(year), true
	}
	// Some feeds render years as floats ("2020.0").
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && f == float64(int(f)) {
		if year, ok := parseYear(strconv.Itoa(int(f))); ok {
			return YearPeriod(year), true
		}
	}
	return Period{}, false
}

// YearsBetween returns the inclusive list of annual periods from start to end.
func YearsBetween(start, end int) []Period {
	if start > end {
		start, end = end, start
	}
	periods := make([]Period, 0, end-start+1)
	for year := start; year <= end; year++ {
		periods = append(periods, YearPeriod(year))
	}
	return periods
}

func periodPriority(periodType PeriodType) int {
	switch periodType {
	case PeriodMonth:
		return 3
	case PeriodQuarter:
		return 2
	case PeriodYear:
		return 1
	default:
		return 0
	}
}

func periodKey(periodType PeriodType, period string) int {
	switch periodType {
	case PeriodMonth:
		year, month, ok := parseYearMonth(period)
		if !ok {
			return 0
		}
		return year*100 + month
	case PeriodQuarter:
		year, quarter, ok := parseYearQuarter(period)
		if !ok {
			return 0
		}
		return year*10 + quarter
	case PeriodYear:
		year, ok := parseYear(period)
		if !ok {
			return 0
		}
		return year
	default:
		return 0
	}
}

func parseYearMonth(value string) (int, int, bool) {
	value = strings.TrimSpace(value)
	if len(value) == 6 && isDigits(value) {
		year, _ := strconv.Atoi(value[:4])
		month, _ := strconv.Atoi(value[4:])
		if month >= 1 && month <= 12 {
			return year, month, true
		}
	}

	parts := strings.Split(value, "-")
	if len(parts) == 2 && len(parts[0]) == 4 {
		year, errYear := strconv.Atoi(parts[0])
		month, errMonth := strconv.Atoi(parts[1])
		if errYear == nil && errMonth == nil && month >= 1 && month <= 12 {
			return year, month, true
		}
	}
	return 0, 0, false
}

func parseYearQuarter(value string) (int, int, bool) {
	value = strings.ToUpper(strings.TrimSpace(value))
	for _, sep := range []string{"-Q", "Q"} {
		if !strings.Contains(value, sep) {
			continue
		}
		parts := strings.Split(value, sep)
		if len(parts) != 2 || len(parts[0]) != 4 {
			continue
		}
		year, errYear := strconv.Atoi(parts[0])
		quarter, errQuarter := strconv.Atoi(parts[1])
		if errYear == nil && errQuarter == nil && quarter >= 1 && quarter <= 4 {
			return year, quarter, true
		}
	}
	return 0, 0, false
}

func parseYear(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if len(value) != 4 || !isDigits(value) {
		return 0, false
	}
	year, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return year, true
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
