// Package live turns raw live-source rows into trade records and decides
// which classification level the batch is reported at.
package live

import (
	"math"
	"strings"

	"tradereconcile/internal/codes"
	"tradereconcile/internal/metrics"
	"tradereconcile/internal/model"
	"tradereconcile/internal/providers"
)

var (
	partnerKeys     = []string{"partnerCode", "partner_code"}
	partnerDescKeys = []string{"partnerDesc", "partnerName"}
	productKeys     = []string{"cmdCode", "productCode"}
	productDescKeys = []string{"cmdDesc", "productDesc"}
	periodKeys      = []string{"refPeriodId", "period"}
	yearKeys        = []string{"refYear", "yr", "year"}
	leafKeys        = []string{"isLeaf"}
	reporterKeys    = []string{"reporterCode"}
)

type Options struct {
	Reporter string
	// Partner is the requested partner. When empty, world rows are dropped.
	Partner string
	// Annual collapses every period to its calendar year.
	Annual bool
}

// Batch is a prepared live-source response.
type Batch struct {
	Records []model.TradeRecord
	Level   model.DataLevel
	// Received is the number of raw rows before any filtering.
	Received int
	// WorldRows counts rows dropped because they carried the world partner.
	WorldRows int
	// NonLeaf counts aggregate rows discarded in favour of leaf rows.
	NonLeaf int
	// Malformed counts rows without a usable partner or period.
	Malformed int
}

// Aggregate reports whether the batch fell back to aggregate-level rows.
func (b Batch) Aggregate() bool {
	return b.Level == model.LevelAggregate
}

// Prepare converts raw rows into records. If any row is flagged isLeaf=true
// only those rows are kept. If rows carry the flag but none is a leaf, every
// row is kept and the batch is marked aggregate. Rows without the flag at all
// leave the level unknown.
func Prepare(raw []providers.Row, opts Options) Batch {
	batch := Batch{Received: len(raw), Level: model.LevelUnknown}
	requestedPartner := strings.TrimSpace(opts.Partner) != ""

	records := make([]model.TradeRecord, 0, len(raw))
	flagged, anyLeaf := false, false
	for _, row := range raw {
		record, ok := toRecord(row, opts)
		if !ok {
			batch.Malformed++
			continue
		}
		if !requestedPartner && record.Partner == model.WorldCode {
			batch.WorldRows++
			continue
		}
		if record.Leaf != nil {
			flagged = true
			anyLeaf = anyLeaf || *record.Leaf
		}
		records = append(records, record)
	}

	switch {
	case anyLeaf:
		batch.Level = model.LevelLeaf
		leaves := records[:0]
		for _, record := range records {
			if record.Leaf != nil && *record.Leaf {
				leaves = append(leaves, record)
			}
		}
		batch.NonLeaf = len(records) - len(leaves)
		records = leaves
	case flagged:
		batch.Level = model.LevelAggregate
	}
	batch.Records = records
	return batch
}

func toRecord(row providers.Row, opts Options) (model.TradeRecord, bool) {
	partner, ok := row.String(partnerKeys...)
	if !ok {
		return model.TradeRecord{}, false
	}
	period, ok := rowPeriod(row, opts.Annual)
	if !ok {
		return model.TradeRecord{}, false
	}

	reporter := opts.Reporter
	if value, ok := row.String(reporterKeys...); ok {
		reporter = value
	}

	record := model.TradeRecord{
		Reporter: codes.Normalize(reporter),
		Partner:  codes.Normalize(partner),
		Period:   period,
		Metrics:  make(model.Metrics),
		Source:   model.SourceLive,
	}
	record.PartnerName, _ = row.String(partnerDescKeys...)
	if product, ok := row.String(productKeys...); ok && !strings.EqualFold(product, "TOTAL") {
		record.Product = product
		record.ProductDesc, _ = row.String(productDescKeys...)
	}
	if leaf, ok := row.Bool(leafKeys...); ok {
		record.Leaf = &leaf
	}

	for _, metric := range metrics.Candidates(model.SourceLive) {
		value, ok := row.Float(string(metric))
		if !ok || value < 0 || math.IsInf(value, 0) || math.IsNaN(value) {
			continue
		}
		record.Metrics[metric] = value
	}
	return record, true
}

func rowPeriod(row providers.Row, annual bool) (model.Period, bool) {
	var period model.Period
	if value, ok := row.String(periodKeys...); ok {
		// refPeriodId is a YYYYMMDD date of the first day of the period.
		if len(value) == 8 && codes.Numeric(value) {
			value = value[:6]
		}
		period, _ = model.ParsePeriod(value)
	}
	if period.IsZero() {
		if value, ok := row.String(yearKeys...); ok {
			period, _ = model.ParsePeriod(value)
		}
	}
	if period.IsZero() {
		return model.Period{}, false
	}
	if annual && period.Type != model.PeriodYear {
		year, ok := period.Year()
		if !ok {
			return model.Period{}, false
		}
		period = model.YearPeriod(year)
	}
	return period, true
}
