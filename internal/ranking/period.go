package ranking

import (
	"sort"

	"tradereconcile/internal/codes"
	"tradereconcile/internal/model"
)

// PeriodShare is one partner's share of world trade in one period.
type PeriodShare struct {
	Period  model.Period
	Partner float64
	World   float64
	Share   float64
}

// PeriodShares returns, per period in chronological order, the partner's
// summed metric, the world total and the partner's share of it.
func PeriodShares(rows []model.Row, partner string, metric model.Metric) []PeriodShare {
	partner = codes.Normalize(partner)
	index := make(map[model.Period]int)
	var out []PeriodShare
	for _, row := range rows {
		if isWorld(row.Partner) {
			continue
		}
		i, ok := index[row.Period]
		if !ok {
			i = len(out)
			index[row.Period] = i
			out = append(out, PeriodShare{Period: row.Period})
		}
		value := row.Value(metric)
		out[i].World += value
		if codes.Normalize(row.Partner) == partner {
			out[i].Partner += value
		}
	}
	for i := range out {
		out[i].Share = Share(out[i].Partner, out[i].World)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Period.Compare(out[j].Period) < 0
	})
	return out
}

// Recent keeps the last n periods of shares.
func Recent(shares []PeriodShare, n int) []PeriodShare {
	if n <= 0 || n >= len(shares) {
		return shares
	}
	return shares[len(shares)-n:]
}

// ProductTotal is one product's summed metric within a subcategory breakdown.
type ProductTotal struct {
	Product     string
	Description string
	Total       float64
	Share       float64
}

// Subcategories breaks the trade with partner down by product. Only codes of
// a leaf width are counted so an aggregate code is never summed next to its
// own children. An empty partner covers every partner except the world.
// Results are sorted descending, ties by product code.
func Subcategories(rows []model.Row, partner string, metric model.Metric, widths ...int) []ProductTotal {
	if partner != "" {
		partner = codes.Normalize(partner)
	}
	index := make(map[string]int)
	var out []ProductTotal
	var total float64
	for _, row := range rows {
		if row.Product == "" || !codes.IsLeafWidth(row.Product, widths...) {
			continue
		}
		if partner == "" && isWorld(row.Partner) {
			continue
		}
		if partner != "" && codes.Normalize(row.Partner) != partner {
			continue
		}
		key := codes.Normalize(row.Product)
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, ProductTotal{Product: row.Product, Description: row.ProductDesc})
		}
		if (out[i].Description == "" || out[i].Description == model.UnknownProduct) && row.ProductDesc != "" {
			out[i].Description = row.ProductDesc
		}
		value := row.Value(metric)
		out[i].Total += value
		total += value
	}
	for i := range out {
		out[i].Share = Share(out[i].Total, total)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return lessCode(out[i].Product, out[j].Product)
	})
	return out
}
