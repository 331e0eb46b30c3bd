// Package aggregate reduces matched trade records to one row per
// (partner, [product], period) key and resolves display names.
package aggregate

import (
	"tradereconcile/internal/codes"
	"tradereconcile/internal/model"
)

// NameResolver maps codes to display names. *reference.Dictionary satisfies it.
type NameResolver interface {
	CountryName(code string) (string, bool)
	ProductDescription(code string) (string, bool)
}

type Options struct {
	// KeepProducts groups by product code as well as partner and period.
	KeepProducts bool
}

type group struct {
	row     model.Row
	partner string
	product string
}

// Aggregate groups records by key and sums each of metricList. An empty
// metricList sums every metric present on the records. Groups are emitted in
// first-seen order and every key that had a record produces exactly one row.
func Aggregate(records []model.TradeRecord, metricList []model.Metric, opts Options, names NameResolver) []model.Row {
	index := make(map[model.AggregationKey]int, len(records))
	groups := make([]*group, 0)

	wanted := make(map[model.Metric]bool, len(metricList))
	for _, metric := range metricList {
		wanted[metric] = true
	}

	for _, record := range records {
		key := model.AggregationKey{
			Partner: codes.Normalize(record.Partner),
			Period:  record.Period,
		}
		if opts.KeepProducts {
			key.Product = codes.Normalize(record.Product)
		}

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			row := model.Row{
				Partner: key.Partner,
				Period:  record.Period,
				Metrics: make(model.Metrics),
				Present: make(map[model.Metric]bool),
				Source:  record.Source,
			}
			if opts.KeepProducts {
				row.Product = record.Product
			}
			groups = append(groups, &group{row: row})
		}

		g := groups[i]
		g.row.Count++
		if g.partner == "" {
			g.partner = record.PartnerName
		}
		if opts.KeepProducts && g.product == "" {
			g.product = record.ProductDesc
		}
		for metric, value := range record.Metrics {
			if len(wanted) > 0 && !wanted[metric] {
				continue
			}
			g.row.Metrics[metric] += value
			g.row.Present[metric] = true
		}
	}

	rows := make([]model.Row, 0, len(groups))
	for _, g := range groups {
		row := g.row
		row.PartnerName = resolvePartner(row.Partner, g.partner, names)
		if opts.KeepProducts {
			row.ProductDesc = resolveProduct(row.Product, g.product, names)
		}
		rows = append(rows, row)
	}
	return rows
}

// CollapseProducts re-aggregates product-level rows to partner level per
// source and period. Rows already at partner level pass through unchanged.
func CollapseProducts(rows []model.Row) []model.Row {
	type collapseKey struct {
		source  model.Source
		partner string
		period  model.Period
	}
	index := make(map[collapseKey]int, len(rows))
	out := make([]model.Row, 0, len(rows))
	for _, row := range rows {
		key := collapseKey{source: row.Source, partner: codes.Normalize(row.Partner), period: row.Period}
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			collapsed := row
			collapsed.Product = ""
			collapsed.ProductDesc = ""
			collapsed.Metrics = row.Metrics.Clone()
			collapsed.Present = clonePresent(row.Present)
			out = append(out, collapsed)
			continue
		}
		target := &out[i]
		target.Count += row.Count
		target.Selected += row.Selected
		for metric, value := range row.Metrics {
			target.Metrics[metric] += value
		}
		for metric := range row.Present {
			target.Present[metric] = true
		}
	}
	return out
}

func resolvePartner(code, carried string, names NameResolver) string {
	if carried != "" {
		return carried
	}
	if names != nil {
		if name, ok := names.CountryName(code); ok {
			return name
		}
	}
	return model.UnknownPartner
}

func resolveProduct(code, carried string, names NameResolver) string {
	if carried != "" {
		return carried
	}
	if code != "" && names != nil {
		if desc, ok := names.ProductDescription(code); ok {
			return desc
		}
	}
	return model.UnknownProduct
}

func clonePresent(present map[model.Metric]bool) map[model.Metric]bool {
	out := make(map[model.Metric]bool, len(present))
	for k, v := range present {
		out[k] = v
	}
	return out
}
