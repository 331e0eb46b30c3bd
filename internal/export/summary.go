package export

import (
	"encoding/json"
	"io"
	"time"

	"tradereconcile/internal/analysis"
	"tradereconcile/internal/merge"
	"tradereconcile/internal/metrics"
	"tradereconcile/internal/model"
	"tradereconcile/internal/ranking"
)

// Summary is the derived view of a run: world total, top partners with
// their shares, zero-value partners and per-period shares.
type Summary struct {
	RunID        string                                 `json:"run_id"`
	GeneratedAt  string                                 `json:"generated_at"`
	Reporter     string                                 `json:"reporter"`
	Partner      string                                 `json:"partner,omitempty"`
	Product      string                                 `json:"product,omitempty"`
	Flow         model.Flow                             `json:"flow"`
	Metric       string                                 `json:"metric"`
	MetricKind   metrics.Kind                           `json:"metric_kind"`
	WorldTotal   float64                                `json:"world_total"`
	Top          []RankedPartner                        `json:"top"`
	ZeroValue    []model.PartnerTotal                   `json:"zero_value_partners"`
	PeriodShares []PeriodShareEntry                     `json:"period_shares,omitempty"`
	Products     []ranking.ProductTotal                 `json:"subcategories,omitempty"`
	Sources      map[model.Source]analysis.SourceReport `json:"sources"`
	DataLevel    model.DataLevel                        `json:"data_level"`
	Warnings     []string                               `json:"warnings,omitempty"`
}

type RankedPartner struct {
	Rank    int     `json:"rank"`
	Partner string  `json:"partner_code"`
	Name    string  `json:"partner_name"`
	Total   float64 `json:"total"`
	Share   float64 `json:"share_pct"`
}

type PeriodShareEntry struct {
	Period  string  `json:"period"`
	Partner float64 `json:"partner"`
	World   float64 `json:"world"`
	Share   float64 `json:"share_pct"`
}

// BuildSummary derives the summary of report. Shares are rounded to two
// decimals.
func BuildSummary(report *analysis.Report, now time.Time) Summary {
	summary := Summary{
		RunID:       report.ID,
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Reporter:    report.Request.Reporter,
		Partner:     report.Request.Partner,
		Product:     report.Request.Product,
		Flow:        report.Request.Flow,
		Metric:      metricLabel(report),
		MetricKind:  metricKind(report),
		WorldTotal:  report.Ranking.WorldTotal,
		Top:         make([]RankedPartner, 0, len(report.Ranking.Top)),
		ZeroValue:   report.Ranking.Zero,
		Products:    report.Subcategories,
		Sources:     report.Sources,
		DataLevel:   report.DataLevel,
		Warnings:    report.Warnings,
	}
	for i, total := range report.Ranking.Top {
		summary.Top = append(summary.Top, RankedPartner{
			Rank:    i + 1,
			Partner: total.Partner,
			Name:    total.Name,
			Total:   total.Total,
			Share:   ranking.Round2(ranking.Share(total.Total, report.Ranking.WorldTotal)),
		})
	}
	for _, share := range report.PeriodShares {
		summary.PeriodShares = append(summary.PeriodShares, PeriodShareEntry{
			Period:  share.Period.Value,
			Partner: share.Partner,
			World:   share.World,
			Share:   ranking.Round2(share.Share),
		})
	}
	return summary
}

// metricLabel names the ranked metric by its shared presentation column when
// every contributing source agrees on it.
func metricLabel(report *analysis.Report) string {
	label := ""
	for _, source := range []model.Source{model.SourceHistorical, model.SourceLive} {
		sr, ok := report.Sources[source]
		if !ok || sr.Status != analysis.StatusOK || sr.Selected == "" {
			continue
		}
		name := merge.SharedMetric(source, sr.Selected)
		if label == "" {
			label = name
		} else if label != name {
			return string(model.SelectedMetric)
		}
	}
	if label == "" {
		return string(model.SelectedMetric)
	}
	return label
}

// metricKind is the kind of the first contributing source's ranked metric.
func metricKind(report *analysis.Report) metrics.Kind {
	for _, source := range []model.Source{model.SourceHistorical, model.SourceLive} {
		if sr, ok := report.Sources[source]; ok && sr.Status == analysis.StatusOK && sr.Selected != "" {
			return metrics.KindOf(sr.Selected)
		}
	}
	return metrics.KindValue
}

// WriteSummary writes the indented JSON summary of report to w.
func WriteSummary(w io.Writer, report *analysis.Report, now time.Time) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(BuildSummary(report, now))
}
