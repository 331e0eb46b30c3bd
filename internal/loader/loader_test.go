package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradereconcile/internal/metrics"
	"tradereconcile/internal/model"
)

const baci2020 = `t,i,j,k,v,q
2020,818,251,1001,10.5,2
2020,818,251,100190,1.0,NA
2020,818,842,2001,3.0,4
2020,251,818,100190,7.0,1
2020,818,842,100110,0.5,
`

const baci2021 = `t,i,j,k,v,q
2021,818,251,100190,2.0,1
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func scanAll(t *testing.T, content string, filter Filter, opts Options) ([]model.TradeRecord, Stats) {
	t.Helper()
	scanner, err := NewScanner(context.Background(), strings.NewReader(content), filter, model.YearPeriod(2020), opts)
	require.NoError(t, err)
	var out []model.TradeRecord
	for scanner.Next() {
		out = append(out, scanner.Record())
	}
	require.NoError(t, scanner.Err())
	return out, scanner.Stats()
}

func TestScannerPrefixFilter(t *testing.T) {
	records, stats := scanAll(t, baci2020, Filter{Reporter: "818", Product: "10", Flow: model.FlowExport}, Options{})
	require.Len(t, records, 3)

	var products []string
	for _, record := range records {
		products = append(products, record.Product)
	}
	assert.Equal(t, []string{"001001", "100190", "100110"}, products)
	assert.Equal(t, 5, stats.RowsRead)
	assert.Equal(t, 3, stats.RowsMatched)
}

func TestScannerExcludesOtherCategory(t *testing.T) {
	records, _ := scanAll(t, baci2020, Filter{Reporter: "818", Product: "2001", Flow: model.FlowExport}, Options{})
	require.Len(t, records, 1)
	assert.Equal(t, "842", records[0].Partner)
}

func TestScannerMetricsAndUnits(t *testing.T) {
	records, _ := scanAll(t, baci2020, Filter{Reporter: "818", Product: "100190", Flow: model.FlowExport}, Options{})
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, model.SourceHistorical, record.Source)
	assert.Equal(t, "251", record.Partner)
	assert.InDelta(t, 1000.0, record.Metrics[metrics.Value], 1e-9)
	_, hasQuantity := record.Metrics[metrics.Quantity]
	assert.False(t, hasQuantity, "NA quantity must be absent, not zero")
	require.NotNil(t, record.Leaf)
	assert.True(t, *record.Leaf)
}

func TestScannerNonFiniteCellsNotMeasured(t *testing.T) {
	content := "t,i,j,k,v,q\n2020,818,251,100190,inf,1\n2020,818,842,100190,2,NaN\n2020,818,76,100190,-Infinity,+Inf\n"
	records, stats := scanAll(t, content, Filter{Reporter: "818", Flow: model.FlowExport}, Options{ValueMultiplier: 1})
	require.Len(t, records, 3)
	assert.Zero(t, stats.Malformed)

	_, hasValue := records[0].Metrics[metrics.Value]
	assert.False(t, hasValue)
	assert.Equal(t, 1.0, records[0].Metrics[metrics.Quantity])

	assert.Equal(t, 2.0, records[1].Metrics[metrics.Value])
	_, hasQuantity := records[1].Metrics[metrics.Quantity]
	assert.False(t, hasQuantity)

	assert.Empty(t, records[2].Metrics)
}

func TestScannerImportDirection(t *testing.T) {
	records, _ := scanAll(t, baci2020, Filter{Reporter: "818", Flow: model.FlowImport}, Options{ValueMultiplier: 1})
	require.Len(t, records, 1)
	assert.Equal(t, "251", records[0].Partner)
	assert.Equal(t, 7.0, records[0].Metrics[metrics.Value])
}

func TestScannerSmallBlocks(t *testing.T) {
	records, stats := scanAll(t, baci2020, Filter{Reporter: "818", Flow: model.FlowExport}, Options{BlockSize: 2})
	assert.Len(t, records, 4)
	assert.Equal(t, 3, stats.Blocks)
}

func TestScannerHeaderErrors(t *testing.T) {
	_, err := NewScanner(context.Background(), strings.NewReader(""), Filter{Reporter: "1"}, model.Period{}, Options{})
	assert.Error(t, err)

	_, err = NewScanner(context.Background(), strings.NewReader("a,b,c\n"), Filter{Reporter: "1"}, model.Period{}, Options{})
	assert.ErrorContains(t, err, "header missing columns")
}

func TestScannerLongHeaderNames(t *testing.T) {
	content := "period,exporter_code,importer_code,product_code,value,quantity\n2020,818,251,100190,1,1\n"
	records, _ := scanAll(t, content, Filter{Reporter: "0818", Product: "100190", Flow: model.FlowExport}, Options{})
	require.Len(t, records, 1)
}

func TestScannerBlankProductStaysBlank(t *testing.T) {
	content := "t,i,j,k,v,q\n2020,818,251,,1,1\n2020,818,251,10210,2,1\n"
	records, _ := scanAll(t, content, Filter{Reporter: "818", Flow: model.FlowExport}, Options{})
	require.Len(t, records, 2)
	assert.Empty(t, records[0].Product)
	assert.Equal(t, "010210", records[1].Product)
}

func TestScannerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	scanner, err := NewScanner(ctx, strings.NewReader(baci2020), Filter{Reporter: "818"}, model.YearPeriod(2020), Options{})
	require.NoError(t, err)
	assert.False(t, scanner.Next())
	assert.ErrorIs(t, scanner.Err(), context.Canceled)
}

func TestLoadSkipsMissingPeriods(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "BACI_HS92_Y2020_V202601.csv", baci2020)
	writeFile(t, dir, "BACI_HS92_Y2021_V202601.csv", baci2021)

	l := New(Config{Files: Files{Dir: dir}})
	result, err := l.Load(context.Background(), model.YearsBetween(2019, 2021), Filter{Reporter: "818", Product: "100190", Flow: model.FlowExport})
	require.NoError(t, err)

	assert.False(t, result.NoFiles)
	assert.Equal(t, []model.Period{model.YearPeriod(2019)}, result.Missing)
	assert.Equal(t, []model.Period{model.YearPeriod(2020), model.YearPeriod(2021)}, result.Loaded)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "2020", result.Records[0].Period.Value)
	assert.Equal(t, "2021", result.Records[1].Period.Value)

	warnings := result.Warnings()
	require.Len(t, warnings, 1)
	assert.True(t, errors.Is(warnings[0], ErrMissingSourceFile))
}

func TestLoadEmptyMatchIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "BACI_HS92_Y2021_V202601.csv", baci2021)

	l := New(Config{Files: Files{Dir: dir}})
	result, err := l.Load(context.Background(), []model.Period{model.YearPeriod(2021)}, Filter{Reporter: "999", Flow: model.FlowExport})
	require.NoError(t, err)
	assert.True(t, result.Empty())
	assert.False(t, result.NoFiles)
	assert.Equal(t, []model.Period{model.YearPeriod(2021)}, result.EmptyPeriods)
}

func TestLoadNoFiles(t *testing.T) {
	l := New(Config{Files: Files{Dir: t.TempDir()}})
	result, err := l.Load(context.Background(), model.YearsBetween(2000, 2001), Filter{Reporter: "818"})
	require.NoError(t, err)
	assert.True(t, result.NoFiles)
	assert.True(t, result.Empty())
	assert.Len(t, result.Missing, 2)
}

func TestLoadCorruptFileDegrades(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "BACI_HS92_Y2020_V202601.csv", "nothing,useful\n1,2\n")
	writeFile(t, dir, "BACI_HS92_Y2021_V202601.csv", baci2021)

	l := New(Config{Files: Files{Dir: dir}})
	result, err := l.Load(context.Background(), model.YearsBetween(2020, 2021), Filter{Reporter: "818", Flow: model.FlowExport})
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "2020", result.Failed[0].Period.Value)
	assert.Len(t, result.Records, 1)
}

func TestLoadRequiresReporter(t *testing.T) {
	l := New(Config{})
	_, err := l.Load(context.Background(), model.YearsBetween(2020, 2020), Filter{})
	assert.ErrorIs(t, err, ErrReporterRequired)
}

func TestFilesPath(t *testing.T) {
	files := Files{Dir: "/data", Pattern: "trade_{year}.csv"}
	assert.Equal(t, filepath.Join("/data", "trade_2020.csv"), files.Path(model.YearPeriod(2020)))
	assert.Equal(t, filepath.Join("/data", "BACI_HS92_Y2020_V202601.csv"), Files{Dir: "/data"}.Path(model.YearPeriod(2020)))
}
