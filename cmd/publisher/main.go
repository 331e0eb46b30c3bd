package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradereconcile/internal/analysis"
	"tradereconcile/internal/codes"
	"tradereconcile/internal/export"
	"tradereconcile/internal/store"
	"tradereconcile/internal/store/sqlite"
)

type metaFile struct {
	GeneratedAt string   `json:"generated_at"`
	RunID       string   `json:"run_id"`
	Files       []string `json:"files"`
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "build":
		build(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func build(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	outDir := fs.String("out", "site/data", "output directory")
	dbPath := fs.String("db", "tradereconcile.db", "sqlite database path")
	runID := fs.String("run", "", "run id (default: latest run)")
	formats := fs.String("formats", "csv,xlsx,json", "comma-separated output formats")
	fs.Parse(args)

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "failed to create output dir:", err)
		os.Exit(1)
	}

	st, err := sqlite.New(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open store:", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	report, err := loadReport(ctx, st, *runID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load run:", err)
		os.Exit(1)
	}

	now := time.Now().UTC()
	written, err := writeOutputs(*outDir, report, parseList(*formats), now)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to write outputs:", err)
		os.Exit(1)
	}

	meta := metaFile{GeneratedAt: now.Format(time.RFC3339), RunID: report.ID, Files: written}
	if err := writeJSON(filepath.Join(*outDir, "meta.json"), meta); err != nil {
		fmt.Fprintln(os.Stderr, "failed to write meta.json:", err)
		os.Exit(1)
	}

	fmt.Printf("publisher build complete (run=%s out=%s files=%d)\n", report.ID, *outDir, len(written))
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: publisher build [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "options:")
	fmt.Fprintln(os.Stderr, "  -out      output directory (default: site/data)")
	fmt.Fprintln(os.Stderr, "  -db       sqlite database path (default: tradereconcile.db)")
	fmt.Fprintln(os.Stderr, "  -run      run id (default: latest run)")
	fmt.Fprintln(os.Stderr, "  -formats  comma-separated formats: csv,xlsx,json (default: all)")
}

func loadReport(ctx context.Context, st store.Store, runID string) (*analysis.Report, error) {
	if strings.TrimSpace(runID) != "" {
		return st.LoadRun(ctx, runID)
	}
	runs, err := st.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, errors.New("no runs stored")
	}
	return st.LoadRun(ctx, runs[0].ID)
}

// writeOutputs writes every requested format and returns the file names.
func writeOutputs(dir string, report *analysis.Report, formats []string, now time.Time) ([]string, error) {
	var written []string
	for _, format := range formats {
		switch strings.ToLower(format) {
		case "csv":
			if err := writeFile(filepath.Join(dir, "data.csv"), func(w io.Writer) error {
				return export.WriteCSV(w, report.Dataset)
			}); err != nil {
				return written, err
			}
			written = append(written, "data.csv")
			if report.Request.Partner != "" && len(report.PeriodShares) > 0 {
				name := partnerName(report)
				if err := writeFile(filepath.Join(dir, "period_shares.csv"), func(w io.Writer) error {
					return export.WritePeriodSharesCSV(w, report.Request.Partner, name, report.PeriodShares)
				}); err != nil {
					return written, err
				}
				written = append(written, "period_shares.csv")
			}
		case "xlsx":
			if err := writeFile(filepath.Join(dir, "report.xlsx"), func(w io.Writer) error {
				return export.WriteXLSX(w, report, now)
			}); err != nil {
				return written, err
			}
			written = append(written, "report.xlsx")
		case "json":
			if err := writeFile(filepath.Join(dir, "summary.json"), func(w io.Writer) error {
				return export.WriteSummary(w, report, now)
			}); err != nil {
				return written, err
			}
			written = append(written, "summary.json")
		default:
			return written, fmt.Errorf("unknown format: %s", format)
		}
	}
	return written, nil
}

func partnerName(report *analysis.Report) string {
	if report.Dataset == nil {
		return ""
	}
	for _, row := range report.Dataset.Rows {
		if codes.Normalize(row.Partner) == codes.Normalize(report.Request.Partner) {
			return row.PartnerName
		}
	}
	return ""
}

func writeFile(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func writeJSON(path string, value any) error {
	return writeFile(path, func(w io.Writer) error {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	})
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
