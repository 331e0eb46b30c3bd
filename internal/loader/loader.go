// Package loader ingests the historical flat-file source: one large CSV file
// per annual period, filtered by reporter and product while streaming so
// peak memory stays bounded by the block size and the match count.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tradereconcile/internal/model"
)

const (
	DefaultPattern     = "BACI_HS92_Y{year}_V202601.csv"
	DefaultConcurrency = 4
)

var (
	ErrMissingSourceFile = errors.New("loader: source file missing")
	ErrEmptyMatch        = errors.New("loader: no matching rows")
	ErrReporterRequired  = errors.New("loader: reporter is required")
)

// Files locates the per-period files of the historical source.
type Files struct {
	Dir     string
	Pattern string
}

func (f Files) Path(period model.Period) string {
	pattern := f.Pattern
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultPattern
	}
	year, ok := period.Year()
	yearValue := period.Value
	if ok {
		yearValue = fmt.Sprintf("%04d", year)
	}
	name := strings.ReplaceAll(pattern, "{year}", yearValue)
	name = strings.ReplaceAll(name, "{period}", period.Value)
	return filepath.Join(f.Dir, name)
}

type Config struct {
	Files       Files
	Options     Options
	Concurrency int
	Logger      *zerolog.Logger
}

type Loader struct {
	files       Files
	opts        Options
	concurrency int
	logger      zerolog.Logger
	open        func(path string) (io.ReadCloser, error)
}

func New(cfg Config) *Loader {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Loader{
		files:       cfg.Files,
		opts:        cfg.Options.withDefaults(),
		concurrency: cfg.Concurrency,
		logger:      logger.With().Str("component", "loader").Logger(),
		open: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// PeriodError records a period whose file existed but could not be scanned.
type PeriodError struct {
	Period model.Period
	Err    error
}

func (e PeriodError) Error() string {
	return fmt.Sprintf("period %s: %v", e.Period, e.Err)
}

func (e PeriodError) Unwrap() error {
	return e.Err
}

type Result struct {
	Records      []model.TradeRecord
	Loaded       []model.Period
	Missing      []model.Period
	EmptyPeriods []model.Period
	Failed       []PeriodError
	Stats        Stats
	// NoFiles is set when no file existed for any requested period.
	NoFiles bool
}

// Empty reports whether the scan produced no records.
func (r Result) Empty() bool {
	return len(r.Records) == 0
}

// Warnings lists the per-period problems as errors wrapping the taxonomy
// sentinels.
func (r Result) Warnings() []error {
	var out []error
	for _, period := range r.Missing {
		out = append(out, fmt.Errorf("%w: period %s", ErrMissingSourceFile, period))
	}
	for _, period := range r.EmptyPeriods {
		out = append(out, fmt.Errorf("%w: period %s", ErrEmptyMatch, period))
	}
	for _, failed := range r.Failed {
		out = append(out, failed)
	}
	return out
}

type periodResult struct {
	records []model.TradeRecord
	stats   Stats
	missing bool
	err     error
}

// Load scans the files of periods in parallel and returns the matching rows
// in period order. Per-period problems degrade the result and never fail the
// call; the only error returned is a cancelled context or an invalid filter.
func (l *Loader) Load(ctx context.Context, periods []model.Period, filter Filter) (Result, error) {
	if strings.TrimSpace(filter.Reporter) == "" {
		return Result{}, ErrReporterRequired
	}

	results := make([]periodResult, len(periods))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, period := range periods {
		g.Go(func() error {
			results[i] = l.loadPeriod(gctx, period, filter)
			if errors.Is(results[i].err, context.Canceled) || errors.Is(results[i].err, context.DeadlineExceeded) {
				return results[i].err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var out Result
	for i, period := range periods {
		res := results[i]
		switch {
		case res.missing:
			out.Missing = append(out.Missing, period)
			l.logger.Warn().Str("period", period.Value).Str("path", l.files.Path(period)).Msg("historical file not found, skipping period")
		case res.err != nil:
			out.Failed = append(out.Failed, PeriodError{Period: period, Err: res.err})
			l.logger.Error().Err(res.err).Str("period", period.Value).Msg("historical file unreadable, skipping period")
		case len(res.records) == 0:
			out.Loaded = append(out.Loaded, period)
			out.EmptyPeriods = append(out.EmptyPeriods, period)
			l.logger.Info().Str("period", period.Value).Int("rows_read", res.stats.RowsRead).Msg("no matching rows")
		default:
			out.Loaded = append(out.Loaded, period)
			out.Records = append(out.Records, res.records...)
			l.logger.Info().Str("period", period.Value).Int("rows_read", res.stats.RowsRead).Int("matched", len(res.records)).Msg("period loaded")
		}
		out.Stats.Blocks += res.stats.Blocks
		out.Stats.RowsRead += res.stats.RowsRead
		out.Stats.RowsMatched += res.stats.RowsMatched
		out.Stats.Malformed += res.stats.Malformed
	}
	out.NoFiles = len(periods) == 0 || len(out.Missing) == len(periods)
	if out.NoFiles {
		l.logger.Warn().Int("periods", len(periods)).Msg("no historical files found for requested periods")
	}
	return out, nil
}

func (l *Loader) loadPeriod(ctx context.Context, period model.Period, filter Filter) periodResult {
	path := l.files.Path(period)
	file, err := l.open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return periodResult{missing: true}
		}
		return periodResult{err: err}
	}
	defer file.Close()

	scanner, err := NewScanner(ctx, file, filter, period, l.opts)
	if err != nil {
		return periodResult{err: err}
	}
	var records []model.TradeRecord
	for scanner.Next() {
		records = append(records, scanner.Record())
	}
	if err := scanner.Err(); err != nil {
		return periodResult{err: err, stats: scanner.Stats()}
	}
	return periodResult{records: records, stats: scanner.Stats()}
}
