// Package export writes a completed analysis in the output formats consumed
// by reporting tools: a flat CSV table, an XLSX workbook and a JSON summary.
package export

import (
	"strconv"

	"tradereconcile/internal/merge"
	"tradereconcile/internal/model"
)

// WorldLabel names the calculated world row of per-period share tables.
const WorldLabel = "World (TOTAL - calculated)"

// Table is the normalized tabular form of a dataset.
type Table struct {
	Header []string
	Rows   [][]any
}

// Strings renders every cell as text. Missing metrics become empty cells.
func (t Table) Strings() [][]string {
	out := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = formatCell(cell)
		}
		out = append(out, cells)
	}
	return out
}

// BuildTable lays out ds as Partner_Code, Partner_Name, [Product_Code,
// Product_Desc], the period column, one column per presentation metric and
// Source.
func BuildTable(ds *model.Dataset) Table {
	if ds == nil {
		return Table{}
	}
	periodColumn := "Year"
	if len(ds.Rows) > 0 {
		periodColumn = ds.Rows[0].Period.Column()
	}

	columns := merge.Columns(ds)
	header := []string{"Partner_Code", "Partner_Name"}
	if ds.KeepsProducts {
		header = append(header, "Product_Code", "Product_Desc")
	}
	header = append(header, periodColumn)
	header = append(header, columns...)
	header = append(header, "Source")

	table := Table{Header: header, Rows: make([][]any, 0, len(ds.Rows))}
	for _, row := range ds.Rows {
		values := make(map[string]float64, len(row.Metrics))
		for metric, value := range row.Metrics {
			if len(row.Present) > 0 && !row.Present[metric] {
				continue
			}
			values[merge.SharedMetric(row.Source, metric)] = value
		}

		cells := []any{row.Partner, row.PartnerName}
		if ds.KeepsProducts {
			cells = append(cells, row.Product, row.ProductDesc)
		}
		cells = append(cells, row.Period.Value)
		for _, column := range columns {
			if value, ok := values[column]; ok {
				cells = append(cells, value)
			} else {
				cells = append(cells, nil)
			}
		}
		cells = append(cells, row.Source.Label())
		table.Rows = append(table.Rows, cells)
	}
	return table
}

func formatCell(cell any) string {
	switch typed := cell.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	default:
		return ""
	}
}
