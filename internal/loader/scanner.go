package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"tradereconcile/internal/codes"
	"tradereconcile/internal/metrics"
	"tradereconcile/internal/model"
)

const (
	DefaultBlockSize       = 500000
	DefaultValueMultiplier = 1000
)

// Filter selects the rows of one reporter, optionally narrowed to a product
// or product category.
type Filter struct {
	Reporter string
	Product  string
	Flow     model.Flow
}

type Options struct {
	BlockSize       int
	ValueMultiplier float64
}

func (o Options) withDefaults() Options {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.ValueMultiplier == 0 {
		o.ValueMultiplier = DefaultValueMultiplier
	}
	return o
}

type Stats struct {
	Blocks      int
	RowsRead    int
	RowsMatched int
	Malformed   int
}

type columns struct {
	period   int
	reporter int
	partner  int
	product  int
	value    int
	quantity int
}

var headerAliases = map[string][]string{
	"period":   {"t", "period", "year"},
	"exporter": {"i", "exporter_code", "exporter"},
	"importer": {"j", "importer_code", "importer"},
	"product":  {"k", "product_code", "product"},
	"value":    {"v", "value"},
	"quantity": {"q", "quantity"},
}

// Scanner streams the rows of one historical file that match a Filter. The
// file is consumed in blocks of BlockSize rows; each block is filtered as it
// is read and only matching rows are kept. A Scanner is single-use.
type Scanner struct {
	ctx      context.Context
	reader   *csv.Reader
	filter   Filter
	reporter string
	opts     Options
	cols     columns
	fallback model.Period

	matched []model.TradeRecord
	pos     int
	record  model.TradeRecord
	stats   Stats
	err     error
	done    bool
}

// NewScanner reads the header of r and prepares a scan. fallback is used for
// rows whose period cell is empty or unparsable.
func NewScanner(ctx context.Context, r io.Reader, filter Filter, fallback model.Period, opts Options) (*Scanner, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("loader: file has no header")
		}
		return nil, fmt.Errorf("loader: read header: %w", err)
	}
	cols, err := resolveColumns(header, filter.Flow)
	if err != nil {
		return nil, err
	}

	return &Scanner{
		ctx:      ctx,
		reader:   reader,
		filter:   filter,
		reporter: codes.Normalize(filter.Reporter),
		opts:     opts.withDefaults(),
		cols:     cols,
		fallback: fallback,
	}, nil
}

// Next advances to the next matching record.
func (s *Scanner) Next() bool {
	for s.pos >= len(s.matched) {
		if s.done || s.err != nil {
			return false
		}
		s.readBlock()
	}
	s.record = s.matched[s.pos]
	s.pos++
	return true
}

func (s *Scanner) Record() model.TradeRecord {
	return s.record
}

func (s *Scanner) Err() error {
	return s.err
}

func (s *Scanner) Stats() Stats {
	return s.stats
}

func (s *Scanner) readBlock() {
	if s.ctx != nil {
		if err := s.ctx.Err(); err != nil {
			s.err = err
			return
		}
	}

	s.matched = s.matched[:0]
	s.pos = 0
	s.stats.Blocks++

	for i := 0; i < s.opts.BlockSize; i++ {
		row, err := s.reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return
			}
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				s.stats.Malformed++
				continue
			}
			s.err = fmt.Errorf("loader: read row: %w", err)
			return
		}
		s.stats.RowsRead++

		if codes.Normalize(cell(row, s.cols.reporter)) != s.reporter {
			continue
		}
		product := cell(row, s.cols.product)
		if !codes.Matches(s.filter.Product, product) {
			continue
		}

		record, ok := s.toRecord(row, product)
		if !ok {
			s.stats.Malformed++
			continue
		}
		s.matched = append(s.matched, record)
		s.stats.RowsMatched++
	}
}

func (s *Scanner) toRecord(row []string, product string) (model.TradeRecord, bool) {
	partner := cell(row, s.cols.partner)
	if partner == "" {
		return model.TradeRecord{}, false
	}

	period := s.fallback
	if parsed, ok := model.ParsePeriod(cell(row, s.cols.period)); ok {
		period = parsed
	}
	if period.IsZero() {
		return model.TradeRecord{}, false
	}

	values := make(model.Metrics, 2)
	if value, ok := parseAmount(cell(row, s.cols.value)); ok {
		values[metrics.Value] = value * s.opts.ValueMultiplier
	}
	if quantity, ok := parseAmount(cell(row, s.cols.quantity)); ok {
		values[metrics.Quantity] = quantity
	}

	if product != "" {
		product = codes.PadProduct(product)
	}

	leaf := true
	return model.TradeRecord{
		Reporter: s.reporter,
		Partner:  codes.Normalize(partner),
		Product:  product,
		Period:   period,
		Metrics:  values,
		Source:   model.SourceHistorical,
		Leaf:     &leaf,
	}, true
}

func resolveColumns(header []string, flow model.Flow) (columns, error) {
	index := make(map[string]int, len(header))
	for i, value := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(value, "\ufeff")))
		if key != "" {
			index[key] = i
		}
	}
	find := func(name string) int {
		for _, alias := range headerAliases[name] {
			if i, ok := index[alias]; ok {
				return i
			}
		}
		return -1
	}

	exporter, importer := find("exporter"), find("importer")
	cols := columns{
		period:   find("period"),
		product:  find("product"),
		value:    find("value"),
		quantity: find("quantity"),
	}
	// Exports: the reporter is the exporter. Imports: the reporter is the importer.
	if flow == model.FlowImport {
		cols.reporter, cols.partner = importer, exporter
	} else {
		cols.reporter, cols.partner = exporter, importer
	}

	var missing []string
	if cols.reporter < 0 || cols.partner < 0 {
		missing = append(missing, "exporter/importer")
	}
	if cols.product < 0 {
		missing = append(missing, "product")
	}
	if cols.value < 0 && cols.quantity < 0 {
		missing = append(missing, "value/quantity")
	}
	if len(missing) > 0 {
		return columns{}, fmt.Errorf("loader: header missing columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func cell(row []string, index int) string {
	if index < 0 || index >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[index])
}

// parseAmount parses a finite non-negative measurement. Empty, NA,
// negative and infinite cells count as not measured.
func parseAmount(raw string) (float64, bool) {
	if raw == "" || strings.EqualFold(raw, "NA") || strings.EqualFold(raw, "nan") {
		return 0, false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 || math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, false
	}
	return value, true
}
