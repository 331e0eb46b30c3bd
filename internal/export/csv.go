package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"tradereconcile/internal/model"
	"tradereconcile/internal/ranking"
)

// WriteCSV writes the dataset table to w.
func WriteCSV(w io.Writer, ds *model.Dataset) error {
	table := BuildTable(ds)
	writer := csv.NewWriter(w)
	if err := writer.Write(table.Header); err != nil {
		return err
	}
	if err := writer.WriteAll(table.Strings()); err != nil {
		return fmt.Errorf("export: write csv: %w", err)
	}
	return nil
}

// WritePeriodSharesCSV writes one partner's per-period values followed by
// the calculated world rows.
func WritePeriodSharesCSV(w io.Writer, partner, name string, shares []ranking.PeriodShare) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Partner_Code", "Partner_Name", "Period", "Value", "Share_Pct"}); err != nil {
		return err
	}
	records := make([][]string, 0, 2*len(shares))
	for _, share := range shares {
		records = append(records, []string{
			partner, name, share.Period.Value,
			formatCell(share.Partner),
			formatCell(ranking.Round2(share.Share)),
		})
	}
	for _, share := range shares {
		records = append(records, []string{
			model.WorldCode, WorldLabel, share.Period.Value,
			formatCell(share.World),
			formatCell(ranking.Share(share.World, share.World)),
		})
	}
	if err := writer.WriteAll(records); err != nil {
		return fmt.Errorf("export: write csv: %w", err)
	}
	return nil
}
