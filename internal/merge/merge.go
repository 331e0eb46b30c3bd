// Package merge unions the aggregated rows of both sources into one dataset
// under a common schema. Rows are tagged with their provenance before the
// union and never deduplicated: a key reported by both sources appears once
// per source.
package merge

import (
	"tradereconcile/internal/metrics"
	"tradereconcile/internal/model"
)

// Selection names, per source, the metric copied into each row's selected
// slot for ranking. An empty entry selects the source default.
type Selection struct {
	Historical model.Metric
	Live       model.Metric
}

// For returns the selected metric of source.
func (s Selection) For(source model.Source) model.Metric {
	var metric model.Metric
	switch source {
	case model.SourceHistorical:
		metric = s.Historical
	case model.SourceLive:
		metric = s.Live
	}
	if metric == "" {
		return metrics.Default(source)
	}
	return metric
}

// Merge returns historical followed by live as one dataset. One empty side
// passes the other through; two empty sides yield a dataset flagged Empty.
// The input slices are not modified.
func Merge(historical, live []model.Row, sel Selection, liveLevel model.DataLevel) *model.Dataset {
	ds := &model.Dataset{
		Rows:      make([]model.Row, 0, len(historical)+len(live)),
		Counts:    make(map[model.Source]int, 2),
		LiveLevel: liveLevel,
		Selection: map[model.Source]model.Metric{
			model.SourceHistorical: sel.For(model.SourceHistorical),
			model.SourceLive:       sel.For(model.SourceLive),
		},
	}

	appendTagged(ds, historical, model.SourceHistorical)
	appendTagged(ds, live, model.SourceLive)
	return finish(ds)
}

// appendTagged stamps provenance and the selected value on copies of rows.
func appendTagged(ds *model.Dataset, rows []model.Row, source model.Source) {
	selected := ds.Selection[source]
	for _, row := range rows {
		row.Source = source
		row.Metrics = row.Metrics.Clone()
		row.Selected = row.Metrics[selected]
		ds.Rows = append(ds.Rows, row)
		ds.Counts[source]++
	}
}

func finish(ds *model.Dataset) *model.Dataset {
	for _, source := range []model.Source{model.SourceHistorical, model.SourceLive} {
		if ds.Counts[source] > 0 {
			ds.Sources = append(ds.Sources, source)
		}
	}
	for _, row := range ds.Rows {
		if row.Product != "" {
			ds.KeepsProducts = true
			break
		}
	}
	ds.Empty = len(ds.Rows) == 0
	return ds
}

// SharedMetric is the presentation column for metric of source. Equivalent
// metrics of the two sources share a column; the rows keep their native
// names.
func SharedMetric(source model.Source, metric model.Metric) string {
	_ = source
	return metrics.Shared(metric)
}

// Columns lists the presentation metric columns of ds in a stable order:
// the shared selected-metric columns first, then every other metric observed
// on any row.
func Columns(ds *model.Dataset) []string {
	if ds == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, source := range []model.Source{model.SourceHistorical, model.SourceLive} {
		if ds.Contributed(source) {
			add(SharedMetric(source, ds.Selection[source]))
		}
	}
	for _, source := range []model.Source{model.SourceHistorical, model.SourceLive} {
		if !ds.Contributed(source) {
			continue
		}
		present := make(map[model.Metric]bool)
		for _, row := range ds.Rows {
			if row.Source != source {
				continue
			}
			for metric := range row.Present {
				present[metric] = true
			}
		}
		for _, metric := range metrics.Candidates(source) {
			if present[metric] {
				add(SharedMetric(source, metric))
			}
		}
	}
	return out
}
