package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradereconcile/internal/metrics"
	"tradereconcile/internal/model"
)

func historicalRows() []model.Row {
	return []model.Row{
		{Partner: "818", Period: model.YearPeriod(2020), Metrics: model.Metrics{metrics.Value: 1500, metrics.Quantity: 3}, Present: map[model.Metric]bool{metrics.Value: true, metrics.Quantity: true}},
		{Partner: "251", Period: model.YearPeriod(2020), Metrics: model.Metrics{metrics.Value: 200}, Present: map[model.Metric]bool{metrics.Value: true}},
	}
}

func liveRows() []model.Row {
	return []model.Row{
		{Partner: "818", Period: model.YearPeriod(2020), Metrics: model.Metrics{metrics.PrimaryValue: 1400, metrics.NetWeight: 9}, Present: map[model.Metric]bool{metrics.PrimaryValue: true, metrics.NetWeight: true}},
	}
}

func TestMergeConservesRows(t *testing.T) {
	a, b := historicalRows(), liveRows()
	ds := Merge(a, b, Selection{}, model.LevelLeaf)
	require.NotNil(t, ds)
	assert.Len(t, ds.Rows, len(a)+len(b))
	assert.False(t, ds.Empty)
	assert.Equal(t, []model.Source{model.SourceHistorical, model.SourceLive}, ds.Sources)
	assert.Equal(t, 2, ds.Counts[model.SourceHistorical])
	assert.Equal(t, 1, ds.Counts[model.SourceLive])
}

func TestMergeKeepsConflictingReports(t *testing.T) {
	ds := Merge(historicalRows(), liveRows(), Selection{}, model.LevelLeaf)

	var egypt []model.Row
	for _, row := range ds.Rows {
		if row.Partner == "818" {
			egypt = append(egypt, row)
		}
	}
	require.Len(t, egypt, 2)
	assert.Equal(t, model.SourceHistorical, egypt[0].Source)
	assert.Equal(t, 1500.0, egypt[0].Selected)
	assert.Equal(t, model.SourceLive, egypt[1].Source)
	assert.Equal(t, 1400.0, egypt[1].Selected)
}

func TestMergeSelectedSlot(t *testing.T) {
	ds := Merge(historicalRows(), liveRows(), Selection{Historical: metrics.Quantity, Live: metrics.NetWeight}, model.LevelLeaf)
	assert.Equal(t, 3.0, ds.Rows[0].Value(model.SelectedMetric))
	assert.Equal(t, 0.0, ds.Rows[1].Value(model.SelectedMetric), "absent metric selects zero")
	assert.Equal(t, 9.0, ds.Rows[2].Value(model.SelectedMetric))
	assert.Equal(t, metrics.NetWeight, ds.Selection[model.SourceLive])
}

func TestMergePassThroughAndEmpty(t *testing.T) {
	ds := Merge(nil, liveRows(), Selection{}, model.LevelAggregate)
	assert.Len(t, ds.Rows, 1)
	assert.Equal(t, []model.Source{model.SourceLive}, ds.Sources)
	assert.False(t, ds.Contributed(model.SourceHistorical))
	assert.Equal(t, model.LevelAggregate, ds.LiveLevel)

	ds = Merge(nil, nil, Selection{}, model.LevelUnknown)
	require.NotNil(t, ds)
	assert.True(t, ds.Empty)
	assert.Empty(t, ds.Rows)
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	a := historicalRows()
	ds := Merge(a, nil, Selection{}, model.LevelUnknown)
	ds.Rows[0].Metrics[metrics.Value] = 0
	assert.Equal(t, 1500.0, a[0].Metrics[metrics.Value])
	assert.Equal(t, model.Source(""), a[0].Source)
}

func TestColumns(t *testing.T) {
	ds := Merge(historicalRows(), liveRows(), Selection{}, model.LevelLeaf)
	assert.Equal(t, []string{"Trade_Value_USD", "Quantity", "Net_Weight_Kg"}, Columns(ds))
	assert.Nil(t, Columns(nil))
}
