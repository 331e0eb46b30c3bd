package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tradereconcile/internal/model"
)

func liveRecord(values model.Metrics) model.TradeRecord {
	return model.TradeRecord{Source: model.SourceLive, Metrics: values}
}

func TestDiscoverOnlyPopulated(t *testing.T) {
	records := []model.TradeRecord{
		liveRecord(model.Metrics{PrimaryValue: 10, NetWeight: 0}),
		liveRecord(model.Metrics{PrimaryValue: 5, CIFValue: 3}),
	}
	got := Discover(records, model.SourceLive, 0)
	assert.Equal(t, []model.Metric{PrimaryValue, CIFValue, NetWeight}, got)
}

func TestDiscoverIgnoresOtherSourceColumns(t *testing.T) {
	records := []model.TradeRecord{
		{Source: model.SourceHistorical, Metrics: model.Metrics{Value: 1, NetWeight: 4}},
	}
	assert.Equal(t, []model.Metric{Value}, Discover(records, model.SourceHistorical, 0))
}

func TestDiscoverSample(t *testing.T) {
	records := []model.TradeRecord{
		liveRecord(model.Metrics{PrimaryValue: 1}),
		liveRecord(model.Metrics{Qty: 2}),
	}
	assert.Equal(t, []model.Metric{PrimaryValue}, Discover(records, model.SourceLive, 1))
	assert.Equal(t, []model.Metric{PrimaryValue, Qty}, Discover(records, model.SourceLive, 50))
}

func TestDiscoverEmpty(t *testing.T) {
	assert.Empty(t, Discover(nil, model.SourceLive, 0))
}

func TestCounts(t *testing.T) {
	records := []model.TradeRecord{
		liveRecord(model.Metrics{PrimaryValue: 1, Qty: 0}),
		liveRecord(model.Metrics{PrimaryValue: 2}),
	}
	counts := Counts(records, model.SourceLive, 0)
	assert.Equal(t, 2, counts[PrimaryValue])
	assert.Equal(t, 1, counts[Qty])
	_, ok := counts[FOBValue]
	assert.False(t, ok)
}

func TestParseAndNames(t *testing.T) {
	metric, ok := Parse(model.SourceLive, "fob_value_usd")
	assert.True(t, ok)
	assert.Equal(t, FOBValue, metric)

	metric, ok = Parse(model.SourceHistorical, "quantity")
	assert.True(t, ok)
	assert.Equal(t, Quantity, metric)

	_, ok = Parse(model.SourceHistorical, "netWgt")
	assert.False(t, ok)

	assert.Equal(t, "Trade_Value_USD", Shared(PrimaryValue))
	assert.Equal(t, "Trade_Value_USD", Shared(Value))
	assert.Equal(t, "Quantity", Shared(Quantity))
	assert.Equal(t, "Net_Weight_Kg", Shared(NetWeight))
	assert.Equal(t, KindWeight, KindOf(GrossWeight))
	assert.Equal(t, PrimaryValue, Default(model.SourceLive))
}
