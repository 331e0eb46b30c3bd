package live

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradereconcile/internal/metrics"
	"tradereconcile/internal/model"
	"tradereconcile/internal/providers"
)

func row(partner any, product string, leaf any, value any) providers.Row {
	r := providers.Row{
		"partnerCode":  partner,
		"partnerDesc":  "Partner " + product,
		"cmdCode":      product,
		"cmdDesc":      "Product " + product,
		"refPeriodId":  float64(20230101),
		"primaryValue": value,
		"netWgt":       nil,
	}
	if leaf != nil {
		r["isLeaf"] = leaf
	}
	return r
}

func TestPrepareAggregateFallback(t *testing.T) {
	raw := []providers.Row{
		row(float64(251), "10", false, float64(100)),
		row(float64(842), "1001", false, float64(50)),
		row(float64(818), "100190", false, float64(25)),
	}

	batch := Prepare(raw, Options{Reporter: "156", Partner: "", Annual: true})
	assert.Equal(t, model.LevelAggregate, batch.Level)
	assert.True(t, batch.Aggregate())
	assert.Len(t, batch.Records, len(raw))
	assert.Zero(t, batch.NonLeaf)
}

func TestPrepareKeepsOnlyLeaves(t *testing.T) {
	raw := []providers.Row{
		row(float64(251), "10", false, float64(100)),
		row(float64(251), "100190", true, float64(60)),
		row(float64(251), "100110", "true", float64(40)),
	}

	batch := Prepare(raw, Options{Annual: true})
	assert.Equal(t, model.LevelLeaf, batch.Level)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, 1, batch.NonLeaf)
	assert.Equal(t, "100190", batch.Records[0].Product)
}

func TestPrepareUnknownLevel(t *testing.T) {
	raw := []providers.Row{row(float64(251), "100190", nil, float64(1))}
	batch := Prepare(raw, Options{Annual: true})
	assert.Equal(t, model.LevelUnknown, batch.Level)
	assert.Len(t, batch.Records, 1)
}

func TestPrepareDropsWorldUnlessPartnerRequested(t *testing.T) {
	raw := []providers.Row{
		row(float64(0), "100190", true, float64(100)),
		row(float64(251), "100190", true, float64(10)),
	}

	batch := Prepare(raw, Options{Annual: true})
	assert.Equal(t, 1, batch.WorldRows)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "251", batch.Records[0].Partner)

	batch = Prepare(raw, Options{Partner: "0", Annual: true})
	assert.Zero(t, batch.WorldRows)
	assert.Len(t, batch.Records, 2)
}

func TestPrepareRecordFields(t *testing.T) {
	raw := []providers.Row{row("0251", "010121", true, float64(12.5))}

	batch := Prepare(raw, Options{Reporter: "156", Annual: true})
	require.Len(t, batch.Records, 1)
	record := batch.Records[0]
	assert.Equal(t, "251", record.Partner)
	assert.Equal(t, "156", record.Reporter)
	assert.Equal(t, "010121", record.Product, "live codes keep their source form")
	assert.Equal(t, "Partner 010121", record.PartnerName)
	assert.Equal(t, model.YearPeriod(2023), record.Period)
	assert.Equal(t, model.SourceLive, record.Source)
	assert.Equal(t, 12.5, record.Metrics[metrics.PrimaryValue])
	_, hasWeight := record.Metrics[metrics.NetWeight]
	assert.False(t, hasWeight, "null metrics are not measured")
}

func TestPrepareMonthlyPeriods(t *testing.T) {
	r := row(float64(251), "100190", true, float64(1))
	r["refPeriodId"] = "20230301"
	batch := Prepare([]providers.Row{r}, Options{Annual: false})
	require.Len(t, batch.Records, 1)
	assert.Equal(t, model.MonthPeriod(2023, 3), batch.Records[0].Period)
}

func TestPrepareMalformed(t *testing.T) {
	raw := []providers.Row{
		{"cmdCode": "100190", "refPeriodId": "20230101"},
		{"partnerCode": float64(251)},
	}
	batch := Prepare(raw, Options{Annual: true})
	assert.Equal(t, 2, batch.Malformed)
	assert.Empty(t, batch.Records)
	assert.Equal(t, 2, batch.Received)
}

func TestPrepareNonFiniteMetricsNotMeasured(t *testing.T) {
	raw := []providers.Row{
		row(float64(251), "100190", true, math.Inf(1)),
		row(float64(842), "100190", true, "Infinity"),
		row(float64(818), "100190", true, json.Number("NaN")),
		row(float64(76), "100190", true, float64(12)),
	}

	batch := Prepare(raw, Options{Annual: true})
	require.Len(t, batch.Records, 4)
	for _, record := range batch.Records[:3] {
		_, ok := record.Metrics[metrics.PrimaryValue]
		assert.False(t, ok, record.Partner)
	}
	assert.Equal(t, 12.0, batch.Records[3].Metrics[metrics.PrimaryValue])

	discovered := metrics.Discover(batch.Records[:3], model.SourceLive, 0)
	assert.Empty(t, discovered)
}
