// Package ranking derives the read-only summary views of a merged dataset:
// world totals, partner rankings, shares of world trade and zero-value
// partners.
package ranking

import (
	"math"
	"sort"
	"strconv"

	"tradereconcile/internal/codes"
	"tradereconcile/internal/model"
)

// DefaultTopN is the ranking length used when the caller asks for none.
const DefaultTopN = 10

// WorldTotal sums metric over every partner row except the world partner.
func WorldTotal(rows []model.Row, metric model.Metric) float64 {
	var total float64
	for _, row := range rows {
		if isWorld(row.Partner) {
			continue
		}
		total += row.Value(metric)
	}
	return total
}

// PartnerTotals sums metric per partner across periods, products and
// sources. The world partner is excluded. Partners are returned in
// first-seen order.
func PartnerTotals(rows []model.Row, metric model.Metric) []model.PartnerTotal {
	index := make(map[string]int)
	var out []model.PartnerTotal
	for _, row := range rows {
		if isWorld(row.Partner) {
			continue
		}
		code := codes.Normalize(row.Partner)
		i, ok := index[code]
		if !ok {
			i = len(out)
			index[code] = i
			out = append(out, model.PartnerTotal{Partner: code, Name: row.PartnerName})
		}
		if isPlaceholder(out[i].Name) && !isPlaceholder(row.PartnerName) {
			out[i].Name = row.PartnerName
		}
		out[i].Total += row.Value(metric)
	}
	return out
}

// Rank returns the n partners with the largest summed metric, descending,
// ties broken by partner code ascending. n <= 0 returns every partner.
func Rank(rows []model.Row, metric model.Metric, n int) []model.PartnerTotal {
	totals := PartnerTotals(rows, metric)
	sort.SliceStable(totals, func(i, j int) bool {
		if totals[i].Total != totals[j].Total {
			return totals[i].Total > totals[j].Total
		}
		return lessCode(totals[i].Partner, totals[j].Partner)
	})
	return Top(totals, n)
}

// Share is partner as a percentage of world, 0 when world is 0.
func Share(partner, world float64) float64 {
	if world == 0 {
		return 0
	}
	return partner / world * 100
}

// Round2 rounds a percentage to two decimals for presentation.
func Round2(value float64) float64 {
	return math.Round(value*100) / 100
}

// ZeroValuePartners lists the partners whose summed metric across all
// periods is exactly zero, ordered by partner code.
func ZeroValuePartners(rows []model.Row, metric model.Metric) []model.PartnerTotal {
	var out []model.PartnerTotal
	for _, total := range PartnerTotals(rows, metric) {
		if total.Total == 0 {
			out = append(out, total)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return lessCode(out[i].Partner, out[j].Partner)
	})
	return out
}

// Compute builds the full ranking view of rows for metric.
func Compute(rows []model.Row, metric model.Metric, n int) model.RankingResult {
	return model.RankingResult{
		Metric:     metric,
		WorldTotal: WorldTotal(rows, metric),
		Top:        Rank(rows, metric, n),
		Zero:       ZeroValuePartners(rows, metric),
	}
}

// Top returns the first n entries of list, or all of them when n <= 0.
func Top[T any](list []T, n int) []T {
	if n <= 0 || n >= len(list) {
		return list
	}
	return list[:n]
}

func isWorld(code string) bool {
	return codes.Normalize(code) == model.WorldCode
}

func isPlaceholder(name string) bool {
	return name == "" || name == model.UnknownPartner
}

// lessCode orders numeric codes numerically and everything else as strings.
func lessCode(a, b string) bool {
	na, errA := strconv.ParseUint(codes.Normalize(a), 10, 64)
	nb, errB := strconv.ParseUint(codes.Normalize(b), 10, 64)
	switch {
	case errA == nil && errB == nil:
		if na != nb {
			return na < nb
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
