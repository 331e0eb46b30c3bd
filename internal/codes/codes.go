// Package codes canonicalizes hierarchical product codes and numeric country
// codes so values from both sources and from user input compare equal
// regardless of leading-zero or padding conventions.
//
// Codes that contain anything other than digits (aggregate markers such as
// "TOTAL" or "AG2") bypass numeric normalization and only ever compare by
// exact string equality.
package codes

import "strings"

// ProductWidth is the fixed width of product codes in the reference tables.
const ProductWidth = 6

// LeafWidths are the hierarchical widths of a harmonized-system code.
var LeafWidths = []int{2, 4, 6}

// Normalize returns the canonical form of code: digits without leading zeros,
// "0" when nothing remains, including for an empty code. Non-digit codes are
// returned trimmed but otherwise unchanged.
func Normalize(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return "0"
	}
	if !isDigits(code) {
		return code
	}
	trimmed := strings.TrimLeft(code, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

// Numeric reports whether code is a pure digit code.
func Numeric(code string) bool {
	return isDigits(strings.TrimSpace(code))
}

// Equal reports whether a and b denote the same code.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// IsPrefixOf reports whether a is a parent category of b: the canonical form
// of a is a strict string prefix of the canonical form of b.
func IsPrefixOf(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if !isDigits(na) || !isDigits(nb) {
		return false
	}
	return len(nb) > len(na) && strings.HasPrefix(nb, na)
}

// Matches is the product filter used during ingestion: exact match or
// filter is a parent category of code. An empty filter matches everything.
func Matches(filter, code string) bool {
	if strings.TrimSpace(filter) == "" {
		return true
	}
	return Equal(filter, code) || IsPrefixOf(filter, code)
}

// Pad zero-pads the canonical form of code to width. Non-digit codes and
// codes already wider than width are returned in canonical form.
func Pad(code string, width int) string {
	normalized := Normalize(code)
	if !isDigits(normalized) || len(normalized) >= width {
		return normalized
	}
	return strings.Repeat("0", width-len(normalized)) + normalized
}

// PadProduct pads code to the reference product table width.
func PadProduct(code string) string {
	return Pad(code, ProductWidth)
}

// IsLeafWidth reports whether code, in its padded display form, has one of
// the expected hierarchical widths (2, 4 or 6 digits by default). Live
// sources emit intermediate aggregation codes of other widths; counting them
// next to their own children double-counts trade.
func IsLeafWidth(code string, widths ...int) bool {
	if len(widths) == 0 {
		widths = LeafWidths
	}
	code = strings.TrimSpace(code)
	if !isDigits(code) {
		return false
	}
	for _, width := range widths {
		if len(code) == width {
			return true
		}
	}
	return false
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
