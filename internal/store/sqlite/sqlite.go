package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"tradereconcile/internal/analysis"
	"tradereconcile/internal/merge"
	"tradereconcile/internal/model"
	"tradereconcile/internal/store"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun writes the report and its dataset rows in one transaction. Saving
// the same run twice replaces it.
func (s *Store) SaveRun(ctx context.Context, report *analysis.Report) (err error) {
	if report == nil || report.ID == "" {
		return errors.New("sqlite: report id is required")
	}

	encoded, err := json.Marshal(report)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM run_rows WHERE run_id = ?`, report.ID); err != nil {
		return err
	}

	req := report.Request
	rowCount := 0
	if report.Dataset != nil {
		rowCount = len(report.Dataset.Rows)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, reporter, partner, product, flow, frequency, data_level,
			row_count, started_at, finished_at, report_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data_level = excluded.data_level,
			row_count = excluded.row_count,
			finished_at = excluded.finished_at,
			report_json = excluded.report_json
	`,
		report.ID,
		req.Reporter,
		req.Partner,
		req.Product,
		string(req.Flow),
		req.Frequency,
		string(report.DataLevel),
		rowCount,
		report.StartedAt.UTC().Format(timeLayout),
		report.FinishedAt.UTC().Format(timeLayout),
		string(encoded),
	)
	if err != nil {
		return err
	}

	if report.Dataset == nil || len(report.Dataset.Rows) == 0 {
		return tx.Commit()
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_rows (
			run_id, seq, source, partner_code, partner_name, product_code,
			product_desc, period_type, period, row_count, metrics_json, present_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, row := range report.Dataset.Rows {
		metricsJSON, err := json.Marshal(row.Metrics)
		if err != nil {
			return err
		}
		presentJSON, err := json.Marshal(row.Present)
		if err != nil {
			return err
		}
		if _, err = stmt.ExecContext(ctx,
			report.ID,
			i,
			string(row.Source),
			row.Partner,
			row.PartnerName,
			row.Product,
			row.ProductDesc,
			string(row.Period.Type),
			row.Period.Value,
			row.Count,
			string(metricsJSON),
			string(presentJSON),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadRun restores a saved report including its dataset.
func (s *Store) LoadRun(ctx context.Context, id string) (*analysis.Report, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx, `SELECT report_json FROM runs WHERE id = ?`, id).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var report analysis.Report
	if err := json.Unmarshal([]byte(encoded), &report); err != nil {
		return nil, fmt.Errorf("sqlite: decode run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, partner_code, partner_name, product_code, product_desc,
			period_type, period, row_count, metrics_json, present_json
		FROM run_rows
		WHERE run_id = ?
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var historical, live []model.Row
	for rows.Next() {
		var row model.Row
		var source, periodType, metricsJSON, presentJSON string
		if err := rows.Scan(&source, &row.Partner, &row.PartnerName, &row.Product, &row.ProductDesc, &periodType, &row.Period.Value, &row.Count, &metricsJSON, &presentJSON); err != nil {
			return nil, err
		}
		row.Period.Type = model.PeriodType(periodType)
		if err := json.Unmarshal([]byte(metricsJSON), &row.Metrics); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(presentJSON), &row.Present); err != nil {
			return nil, err
		}
		if model.Source(source) == model.SourceLive {
			live = append(live, row)
		} else {
			historical = append(historical, row)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sel := merge.Selection{
		Historical: report.Sources[model.SourceHistorical].Selected,
		Live:       report.Sources[model.SourceLive].Selected,
	}
	report.Dataset = merge.Merge(historical, live, sel, report.DataLevel)
	return &report, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error) {
	query := `
		SELECT id, reporter, partner, product, flow, row_count, finished_at
		FROM runs
		ORDER BY finished_at DESC, id
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]store.RunSummary, 0)
	for rows.Next() {
		var summary store.RunSummary
		var finishedAt string
		if err := rows.Scan(&summary.ID, &summary.Reporter, &summary.Partner, &summary.Product, &summary.Flow, &summary.Rows, &finishedAt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(timeLayout, finishedAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: run %s: %w", summary.ID, err)
		}
		summary.FinishedAt = parsed
		results = append(results, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) migrate() error {
	statements := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			reporter TEXT NOT NULL,
			partner TEXT NOT NULL,
			product TEXT NOT NULL,
			flow TEXT NOT NULL,
			frequency TEXT NOT NULL,
			data_level TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			report_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS run_rows (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			source TEXT NOT NULL,
			partner_code TEXT NOT NULL,
			partner_name TEXT NOT NULL,
			product_code TEXT NOT NULL,
			product_desc TEXT NOT NULL,
			period_type TEXT NOT NULL,
			period TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			metrics_json TEXT NOT NULL,
			present_json TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return err
		}
	}

	return nil
}

var _ store.Store = (*Store)(nil)
