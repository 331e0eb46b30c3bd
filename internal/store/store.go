package store

import (
	"context"
	"errors"
	"time"

	"tradereconcile/internal/analysis"
)

var ErrRunNotFound = errors.New("store: run not found")

// Store persists completed analysis runs so they can be published later.
type Store interface {
	SaveRun(ctx context.Context, report *analysis.Report) error
	LoadRun(ctx context.Context, id string) (*analysis.Report, error)
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	Close() error
}

type RunSummary struct {
	ID         string
	Reporter   string
	Partner    string
	Product    string
	Flow       string
	Rows       int
	FinishedAt time.Time
}

// NopStore discards runs.
type NopStore struct{}

func (s *NopStore) SaveRun(ctx context.Context, report *analysis.Report) error {
	_ = ctx
	_ = report
	return nil
}

func (s *NopStore) LoadRun(ctx context.Context, id string) (*analysis.Report, error) {
	_ = ctx
	_ = id
	return nil, ErrRunNotFound
}

func (s *NopStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	_ = ctx
	_ = limit
	return nil, nil
}

func (s *NopStore) Close() error {
	return nil
}
