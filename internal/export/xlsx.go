package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"tradereconcile/internal/analysis"
	"tradereconcile/internal/model"
	"tradereconcile/internal/ranking"
)

const (
	sheetData          = "Data"
	sheetRanking       = "Ranking"
	sheetPeriodShares  = "Period Shares"
	sheetSubcategories = "Subcategories"
	sheetSources       = "Sources"
)

// WriteXLSX writes the dataset and its derived views as a workbook.
func WriteXLSX(w io.Writer, report *analysis.Report, now time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetData); err != nil {
		return err
	}
	table := BuildTable(report.Dataset)
	if err := writeSheet(f, sheetData, table.Header, table.Rows); err != nil {
		return err
	}

	summary := BuildSummary(report, now)
	rankRows := make([][]any, 0, len(summary.Top))
	for _, entry := range summary.Top {
		rankRows = append(rankRows, []any{entry.Rank, entry.Partner, entry.Name, entry.Total, entry.Share})
	}
	rankRows = append(rankRows, []any{nil, model.WorldCode, WorldLabel, summary.WorldTotal, ranking.Share(summary.WorldTotal, summary.WorldTotal)})
	if err := addSheet(f, sheetRanking, []string{"Rank", "Partner_Code", "Partner_Name", summary.Metric, "Share_Pct"}, rankRows); err != nil {
		return err
	}

	if len(summary.PeriodShares) > 0 {
		shareRows := make([][]any, 0, len(summary.PeriodShares))
		for _, share := range summary.PeriodShares {
			shareRows = append(shareRows, []any{share.Period, share.Partner, share.World, share.Share})
		}
		if err := addSheet(f, sheetPeriodShares, []string{"Period", "Partner", WorldLabel, "Share_Pct"}, shareRows); err != nil {
			return err
		}
	}

	if len(summary.Products) > 0 {
		productRows := make([][]any, 0, len(summary.Products))
		for _, product := range summary.Products {
			productRows = append(productRows, []any{product.Product, product.Description, product.Total, product.Share})
		}
		if err := addSheet(f, sheetSubcategories, []string{"Product_Code", "Product_Desc", summary.Metric, "Share_Pct"}, productRows); err != nil {
			return err
		}
	}

	sourceRows := make([][]any, 0, len(summary.Sources))
	for _, source := range []model.Source{model.SourceHistorical, model.SourceLive} {
		sr, ok := summary.Sources[source]
		if !ok {
			continue
		}
		sourceRows = append(sourceRows, []any{source.Label(), string(sr.Status), sr.Records, sr.Rows, string(sr.Selected), string(sr.Level), sr.Detail})
	}
	if err := addSheet(f, sheetSources, []string{"Source", "Status", "Records", "Rows", "Metric", "Level", "Detail"}, sourceRows); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export: write xlsx: %w", err)
	}
	return nil
}

func addSheet(f *excelize.File, name string, header []string, rows [][]any) error {
	if _, err := f.NewSheet(name); err != nil {
		return err
	}
	return writeSheet(f, name, header, rows)
}

func writeSheet(f *excelize.File, name string, header []string, rows [][]any) error {
	headerRow := make([]any, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &headerRow); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
