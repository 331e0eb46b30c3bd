package model

type Flow string

const (
	FlowExport Flow = "export"
	FlowImport Flow = "import"
)

// Code returns the single-letter flow code used by the live source.
func (f Flow) Code() string {
	if f == FlowImport {
		return "M"
	}
	return "X"
}

type Source string

const (
	SourceHistorical Source = "historical"
	SourceLive       Source = "live"
)

// Label is the provenance tag written to the Source output column.
func (s Source) Label() string {
	switch s {
	case SourceHistorical:
		return "BACI"
	case SourceLive:
		return "COMTRADE"
	default:
		return string(s)
	}
}

type DataLevel string

const (
	LevelLeaf      DataLevel = "leaf"
	LevelAggregate DataLevel = "aggregate"
	LevelUnknown   DataLevel = "unknown"
)

// WorldCode is the partner code reserved for world/all partners.
const WorldCode = "0"

const (
	UnknownPartner = "Unknown"
	UnknownProduct = "Unknown Product"
)

type Metric string

// SelectedMetric addresses the reconciled scalar the merger stores on each row.
const SelectedMetric Metric = "Metric_Value"

// Metrics maps a metric name to its value. A missing key means the metric was
// not measured; a present zero is a real zero.
type Metrics map[Metric]float64

func (m Metrics) Clone() Metrics {
	if m == nil {
		return nil
	}
	out := make(Metrics, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type TradeRecord struct {
	Reporter    string
	Partner     string
	PartnerName string
	Product     string
	ProductDesc string
	Period      Period
	Metrics     Metrics
	Source      Source
	Leaf        *bool
}

type AggregationKey struct {
	Partner string
	Product string
	Period  Period
}

type Row struct {
	Partner     string
	PartnerName string
	Product     string
	ProductDesc string
	Period      Period
	Metrics     Metrics
	Present     map[Metric]bool
	Count       int
	Source      Source
	Selected    float64
}

func (r Row) Key() AggregationKey {
	return AggregationKey{Partner: r.Partner, Product: r.Product, Period: r.Period}
}

// Value returns the value of metric on the row. SelectedMetric reads the
// reconciled scalar.
func (r Row) Value(metric Metric) float64 {
	if metric == SelectedMetric {
		return r.Selected
	}
	return r.Metrics[metric]
}

type Dataset struct {
	Rows          []Row
	Empty         bool
	Counts        map[Source]int
	Sources       []Source
	LiveLevel     DataLevel
	Selection     map[Source]Metric
	KeepsProducts bool
}

// Contributed reports whether source added at least one row.
func (d *Dataset) Contributed(source Source) bool {
	if d == nil {
		return false
	}
	return d.Counts[source] > 0
}

type PartnerTotal struct {
	Partner string
	Name    string
	Total   float64
}

type RankingResult struct {
	Metric     Metric
	WorldTotal float64
	Top        []PartnerTotal
	Zero       []PartnerTotal
}

type Country struct {
	Code   string
	Name   string
	ISO3   string
	Source Source
}

type Product struct {
	Code        string
	Description string
}
