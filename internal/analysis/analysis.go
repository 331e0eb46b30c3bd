// Package analysis runs one reconciliation request end to end: both sources
// are loaded independently, aggregated, merged with provenance and ranked.
// A failing source degrades the report and never aborts the run.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tradereconcile/internal/aggregate"
	"tradereconcile/internal/live"
	"tradereconcile/internal/loader"
	"tradereconcile/internal/merge"
	"tradereconcile/internal/metrics"
	"tradereconcile/internal/model"
	"tradereconcile/internal/providers"
	"tradereconcile/internal/ranking"
)

// ErrSourceUnavailable marks a live query that failed or returned nothing.
var ErrSourceUnavailable = errors.New("analysis: source unavailable")

// HistoricalLoader scans the historical source. *loader.Loader satisfies it.
type HistoricalLoader interface {
	Load(ctx context.Context, periods []model.Period, filter loader.Filter) (loader.Result, error)
}

type Status string

const (
	StatusOK          Status = "ok"
	StatusEmpty       Status = "empty"
	StatusUnavailable Status = "unavailable"
	StatusSkipped     Status = "skipped"
)

// SourceReport tells the caller what one source contributed.
type SourceReport struct {
	Status   Status         `json:"status"`
	Records  int            `json:"records"`
	Rows     int            `json:"rows"`
	Metrics  []model.Metric `json:"metrics,omitempty"`
	// Coverage counts the records that populate each discovered metric.
	Coverage map[model.Metric]int `json:"coverage,omitempty"`
	Selected model.Metric         `json:"selected,omitempty"`
	Level    model.DataLevel      `json:"level,omitempty"`
	Detail   string               `json:"detail,omitempty"`
}

type Report struct {
	ID            string                        `json:"id"`
	Request       Request                       `json:"request"`
	StartedAt     time.Time                     `json:"started_at"`
	FinishedAt    time.Time                     `json:"finished_at"`
	Dataset       *model.Dataset                `json:"-"`
	Ranking       model.RankingResult           `json:"ranking"`
	PeriodShares  []ranking.PeriodShare         `json:"period_shares,omitempty"`
	Subcategories []ranking.ProductTotal        `json:"subcategories,omitempty"`
	Sources       map[model.Source]SourceReport `json:"sources"`
	// DataLevel is the classification level of the live rows.
	DataLevel model.DataLevel `json:"data_level"`
	Warnings  []string        `json:"warnings,omitempty"`
}

// Contributed lists the sources that added rows to the dataset.
func (r *Report) Contributed() []model.Source {
	if r == nil || r.Dataset == nil {
		return nil
	}
	return r.Dataset.Sources
}

type Config struct {
	Historical HistoricalLoader
	Live       providers.LiveSource
	Names      aggregate.NameResolver
	Logger     *zerolog.Logger
	// Classification is passed to the live source, "HS" when empty.
	Classification string
	// Sample bounds the records inspected by metric discovery.
	Sample int
}

type Analyzer struct {
	historical     HistoricalLoader
	live           providers.LiveSource
	names          aggregate.NameResolver
	logger         zerolog.Logger
	classification string
	sample         int
	validate       *validator.Validate
	now            func() time.Time
}

func New(cfg Config) *Analyzer {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.Classification == "" {
		cfg.Classification = "HS"
	}
	if cfg.Sample <= 0 {
		cfg.Sample = metrics.DefaultSample
	}
	return &Analyzer{
		historical:     cfg.Historical,
		live:           cfg.Live,
		names:          cfg.Names,
		logger:         logger.With().Str("component", "analysis").Logger(),
		classification: cfg.Classification,
		sample:         cfg.Sample,
		validate:       newValidator(),
		now:            time.Now,
	}
}

// sourceResult is what one source contributes before the merge.
type sourceResult struct {
	rows     []model.Row
	report   SourceReport
	warnings []string
}

// Run executes req. The only errors returned are an invalid request and a
// cancelled context; every source problem is reported on the Report.
func (a *Analyzer) Run(ctx context.Context, req Request) (*Report, error) {
	if err := a.Validate(req); err != nil {
		return nil, err
	}

	report := &Report{
		ID:        uuid.NewString(),
		Request:   req,
		StartedAt: a.now().UTC(),
		Sources:   make(map[model.Source]SourceReport, 2),
		DataLevel: model.LevelUnknown,
	}
	logger := a.logger.With().Str("run_id", report.ID).Str("reporter", req.Reporter).Str("flow", string(req.Flow)).Logger()

	var hist, liveRes sourceResult
	level := model.LevelUnknown
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hist, err = a.runHistorical(gctx, req, logger)
		return err
	})
	g.Go(func() error {
		var err error
		liveRes, level, err = a.runLive(gctx, req, logger)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Sources[model.SourceHistorical] = hist.report
	report.Sources[model.SourceLive] = liveRes.report
	report.Warnings = append(report.Warnings, hist.warnings...)
	report.Warnings = append(report.Warnings, liveRes.warnings...)
	report.DataLevel = level

	sel := merge.Selection{Historical: hist.report.Selected, Live: liveRes.report.Selected}
	ds := merge.Merge(hist.rows, liveRes.rows, sel, level)
	report.Dataset = ds

	if ds.Empty {
		report.Warnings = append(report.Warnings, "no data from any source")
		logger.Warn().Msg("no data from any source")
	}

	topN := req.TopN
	switch {
	case topN == AllPartners:
		topN = 0
	case topN == 0:
		topN = ranking.DefaultTopN
	}
	report.Ranking = ranking.Compute(ds.Rows, model.SelectedMetric, topN)
	for _, zero := range report.Ranking.Zero {
		report.Warnings = append(report.Warnings, fmt.Sprintf("partner %s (%s) has zero total", zero.Partner, zero.Name))
	}
	if req.Partner != "" {
		report.PeriodShares = ranking.PeriodShares(ds.Rows, req.Partner, model.SelectedMetric)
	}
	if ds.KeepsProducts {
		report.Subcategories = ranking.Subcategories(ds.Rows, req.Partner, model.SelectedMetric)
	}

	report.FinishedAt = a.now().UTC()
	logger.Info().
		Int("rows", len(ds.Rows)).
		Int("historical_rows", ds.Counts[model.SourceHistorical]).
		Int("live_rows", ds.Counts[model.SourceLive]).
		Str("data_level", string(level)).
		Float64("world_total", report.Ranking.WorldTotal).
		Msg("analysis complete")
	return report, nil
}

func (a *Analyzer) runHistorical(ctx context.Context, req Request, logger zerolog.Logger) (sourceResult, error) {
	var res sourceResult
	switch {
	case !req.Wants(model.SourceHistorical):
		res.report = SourceReport{Status: StatusSkipped, Detail: "not requested"}
		return res, nil
	case a.historical == nil:
		res.report = SourceReport{Status: StatusSkipped, Detail: "no historical source configured"}
		return res, nil
	case !req.Annual():
		res.report = SourceReport{Status: StatusSkipped, Detail: "historical source is annual only"}
		res.warnings = append(res.warnings, "historical source skipped: monthly periods requested")
		return res, nil
	}

	result, err := a.historical.Load(ctx, req.Years(), loader.Filter{Reporter: req.Reporter, Product: req.Product, Flow: req.Flow})
	if err != nil {
		if ctx.Err() != nil {
			return res, err
		}
		res.report = SourceReport{Status: StatusUnavailable, Detail: err.Error()}
		res.warnings = append(res.warnings, err.Error())
		return res, nil
	}
	for _, warning := range result.Warnings() {
		res.warnings = append(res.warnings, warning.Error())
	}

	res.report = SourceReport{Records: len(result.Records), Level: model.LevelLeaf}
	if result.NoFiles {
		res.report.Status = StatusEmpty
		res.report.Detail = "no historical files for requested periods"
		return res, nil
	}
	if result.Empty() {
		res.report.Status = StatusEmpty
		res.report.Detail = "no matching rows"
		return res, nil
	}

	res.rows, res.report = a.reduce(result.Records, model.SourceHistorical, req.Metrics.Historical, req.KeepProducts, res.report, &res.warnings)
	res.report.Status = StatusOK
	logger.Debug().Int("records", len(result.Records)).Int("rows", len(res.rows)).Msg("historical source reduced")
	return res, nil
}

func (a *Analyzer) runLive(ctx context.Context, req Request, logger zerolog.Logger) (sourceResult, model.DataLevel, error) {
	var res sourceResult
	switch {
	case !req.Wants(model.SourceLive):
		res.report = SourceReport{Status: StatusSkipped, Detail: "not requested"}
		return res, model.LevelUnknown, nil
	case a.live == nil:
		res.report = SourceReport{Status: StatusSkipped, Detail: "no live source configured"}
		return res, model.LevelUnknown, nil
	}

	query := providers.Query{
		Flow:           req.Flow,
		Frequency:      req.Frequency,
		Classification: a.classification,
		Periods:        req.Periods,
		Reporter:       req.Reporter,
		Product:        req.Product,
		Partner:        req.Partner,
	}
	if query.Frequency == "" {
		query.Frequency = FrequencyAnnual
	}
	raw, err := a.live.Query(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return res, model.LevelUnknown, ctx.Err()
		}
		err = fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, a.live.Name(), err)
		logger.Warn().Err(err).Msg("live source failed")
		res.report = SourceReport{Status: StatusUnavailable, Detail: err.Error()}
		res.warnings = append(res.warnings, err.Error())
		return res, model.LevelUnknown, nil
	}

	batch := live.Prepare(raw, live.Options{Reporter: req.Reporter, Partner: req.Partner, Annual: req.Annual()})
	res.report = SourceReport{Records: len(batch.Records), Level: batch.Level}
	if batch.Malformed > 0 {
		res.warnings = append(res.warnings, fmt.Sprintf("live source: %d malformed rows skipped", batch.Malformed))
	}
	if len(batch.Records) == 0 {
		err := fmt.Errorf("%w: %s returned no rows", ErrSourceUnavailable, a.live.Name())
		res.report.Status = StatusEmpty
		res.report.Detail = err.Error()
		res.warnings = append(res.warnings, err.Error())
		return res, batch.Level, nil
	}
	if batch.Aggregate() {
		res.warnings = append(res.warnings, "live source reported aggregate-level rows only, not leaf detail")
		logger.Warn().Int("rows", len(batch.Records)).Msg("no leaf rows, using aggregate level")
	}

	res.rows, res.report = a.reduce(batch.Records, model.SourceLive, req.Metrics.Live, req.KeepProducts, res.report, &res.warnings)
	res.report.Status = StatusOK
	logger.Debug().Int("received", batch.Received).Int("world_rows", batch.WorldRows).Int("rows", len(res.rows)).Msg("live source reduced")
	return res, batch.Level, nil
}

// reduce discovers the populated metrics, settles the selected one and
// aggregates the records.
func (a *Analyzer) reduce(records []model.TradeRecord, source model.Source, requested model.Metric, keepProducts bool, report SourceReport, warnings *[]string) ([]model.Row, SourceReport) {
	discovered := metrics.Discover(records, source, a.sample)
	report.Metrics = discovered
	report.Coverage = metrics.Counts(records, source, a.sample)
	report.Selected = selectMetric(source, requested, discovered, warnings)

	rows := aggregate.Aggregate(records, discovered, aggregate.Options{KeepProducts: keepProducts}, a.names)
	report.Rows = len(rows)
	return rows, report
}

// selectMetric keeps the requested metric when the batch populates it and
// otherwise falls back to the source default, then to the first discovered
// metric.
func selectMetric(source model.Source, requested model.Metric, discovered []model.Metric, warnings *[]string) model.Metric {
	if requested != "" {
		if metrics.Contains(discovered, requested) {
			return requested
		}
		*warnings = append(*warnings, fmt.Sprintf("%s metric %s not populated", source.Label(), requested))
	}
	fallback := metrics.Default(source)
	if metrics.Contains(discovered, fallback) || len(discovered) == 0 {
		return fallback
	}
	return discovered[0]
}
