// Package metrics discovers which measurement columns a batch actually
// populates. Each source has a fixed candidate list; a batch's discovered set
// is the authoritative schema for that batch.
package metrics

import (
	"strings"

	"tradereconcile/internal/model"
)

const (
	Value    model.Metric = "value"
	Quantity model.Metric = "quantity"

	PrimaryValue model.Metric = "primaryValue"
	FOBValue     model.Metric = "fobValue"
	CIFValue     model.Metric = "cifValue"
	Qty          model.Metric = "qty"
	NetWeight    model.Metric = "netWgt"
	GrossWeight  model.Metric = "grossWgt"
)

// DefaultSample is the number of records inspected for large batches.
const DefaultSample = 10000

type Kind string

const (
	KindValue    Kind = "value"
	KindQuantity Kind = "quantity"
	KindWeight   Kind = "weight"
)

var candidates = map[model.Source][]model.Metric{
	model.SourceHistorical: {Value, Quantity},
	model.SourceLive:       {PrimaryValue, FOBValue, CIFValue, Qty, NetWeight, GrossWeight},
}

var displayNames = map[model.Metric]string{
	Value:        "Trade_Value_USD",
	Quantity:     "Quantity_MT",
	PrimaryValue: "Primary_Value_USD",
	FOBValue:     "FOB_Value_USD",
	CIFValue:     "CIF_Value_USD",
	Qty:          "Quantity",
	NetWeight:    "Net_Weight_Kg",
	GrossWeight:  "Gross_Weight_Kg",
}

var kinds = map[model.Metric]Kind{
	Value:        KindValue,
	Quantity:     KindQuantity,
	PrimaryValue: KindValue,
	FOBValue:     KindValue,
	CIFValue:     KindValue,
	Qty:          KindQuantity,
	NetWeight:    KindWeight,
	GrossWeight:  KindWeight,
}

// Candidates returns the fixed candidate list of source, in display order.
func Candidates(source model.Source) []model.Metric {
	list := candidates[source]
	out := make([]model.Metric, len(list))
	copy(out, list)
	return out
}

// Default is the metric used for ranking when the caller selects none.
func Default(source model.Source) model.Metric {
	if source == model.SourceLive {
		return PrimaryValue
	}
	return Value
}

// Discover returns the candidates of source with at least one non-missing
// observation among the first sample records. sample <= 0 scans the whole
// batch.
func Discover(records []model.TradeRecord, source model.Source, sample int) []model.Metric {
	counts := Counts(records, source, sample)
	out := make([]model.Metric, 0, len(counts))
	for _, metric := range candidates[source] {
		if counts[metric] > 0 {
			out = append(out, metric)
		}
	}
	return out
}

// Counts returns the number of non-missing observations per candidate among
// the first sample records. Candidates never observed are omitted.
func Counts(records []model.TradeRecord, source model.Source, sample int) map[model.Metric]int {
	if sample <= 0 || sample > len(records) {
		sample = len(records)
	}
	counts := make(map[model.Metric]int)
	for _, record := range records[:sample] {
		for _, metric := range candidates[source] {
			if _, ok := record.Metrics[metric]; ok {
				counts[metric]++
			}
		}
	}
	return counts
}

// Contains reports whether metric is in set.
func Contains(set []model.Metric, metric model.Metric) bool {
	for _, m := range set {
		if m == metric {
			return true
		}
	}
	return false
}

// DisplayName is the output column name of metric.
func DisplayName(metric model.Metric) string {
	if name, ok := displayNames[metric]; ok {
		return name
	}
	return string(metric)
}

func KindOf(metric model.Metric) Kind {
	if kind, ok := kinds[metric]; ok {
		return kind
	}
	return KindValue
}

// Parse accepts a native metric name or its display name, case-insensitively.
func Parse(source model.Source, name string) (model.Metric, bool) {
	name = strings.TrimSpace(name)
	for _, metric := range candidates[source] {
		if strings.EqualFold(string(metric), name) || strings.EqualFold(DisplayName(metric), name) {
			return metric, true
		}
	}
	return "", false
}

// Shared is the presentation column that equivalent metrics of both sources
// share. Metrics without a counterpart keep their own display name.
func Shared(metric model.Metric) string {
	switch metric {
	case Value, PrimaryValue:
		return "Trade_Value_USD"
	case Quantity, Qty:
		return "Quantity"
	default:
		return DisplayName(metric)
	}
}
