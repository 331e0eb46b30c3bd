package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradereconcile/internal/analysis"
	"tradereconcile/internal/metrics"
	"tradereconcile/internal/model"
	"tradereconcile/internal/reference"
)

func TestParsePeriodsAnnual(t *testing.T) {
	periods, err := parsePeriods("2019", "2021", "A")
	require.NoError(t, err)
	assert.Equal(t, model.YearsBetween(2019, 2021), periods)

	periods, err = parsePeriods("2020", "", "")
	require.NoError(t, err)
	assert.Equal(t, []model.Period{model.YearPeriod(2020)}, periods)
}

func TestParsePeriodsMonthly(t *testing.T) {
	periods, err := parsePeriods("2020-11", "2021-02", "M")
	require.NoError(t, err)
	assert.Equal(t, []model.Period{
		model.MonthPeriod(2020, 11),
		model.MonthPeriod(2020, 12),
		model.MonthPeriod(2021, 1),
		model.MonthPeriod(2021, 2),
	}, periods)

	periods, err = parsePeriods("2021", "", "M")
	require.NoError(t, err)
	assert.Len(t, periods, 12)
}

func TestParsePeriodsErrors(t *testing.T) {
	_, err := parsePeriods("", "", "A")
	assert.Error(t, err)

	_, err = parsePeriods("soon", "", "A")
	assert.Error(t, err)
}

func TestParseSources(t *testing.T) {
	sources, err := parseSources("baci, live")
	require.NoError(t, err)
	assert.Equal(t, []model.Source{model.SourceHistorical, model.SourceLive}, sources)

	_, err = parseSources("wto")
	assert.Error(t, err)
}

func TestBuildRequestResolvesNames(t *testing.T) {
	dict := reference.New(reference.Tables{
		Countries: []model.Country{
			{Code: "251", Name: "France", ISO3: "FRA"},
			{Code: "818", Name: "Egypt", ISO3: "EGY"},
		},
	})
	req, err := buildRequest(runOptions{
		reporter:   "France",
		partner:    "EGY",
		flow:       "Export",
		from:       "2020",
		frequency:  "a",
		sources:    "historical",
		metricLive: "fob_value_usd",
		top:        -1,
	}, dict, 5)
	require.NoError(t, err)

	assert.Equal(t, "251", req.Reporter)
	assert.Equal(t, "818", req.Partner)
	assert.Equal(t, model.FlowExport, req.Flow)
	assert.Equal(t, "A", req.Frequency)
	assert.Equal(t, metrics.FOBValue, req.Metrics.Live)
	assert.Equal(t, 5, req.TopN)
}

func TestBuildRequestTop(t *testing.T) {
	opts := runOptions{reporter: "251", flow: "export", from: "2020", sources: "historical"}
	tests := []struct {
		top  int
		want int
	}{
		{-1, 7},
		{0, analysis.AllPartners},
		{3, 3},
	}
	for _, tt := range tests {
		opts.top = tt.top
		req, err := buildRequest(opts, reference.Empty(), 7)
		require.NoError(t, err)
		assert.Equal(t, tt.want, req.TopN, "top %d", tt.top)
	}
}

func TestResolveCountryNumericPassThrough(t *testing.T) {
	code, err := resolveCountry(reference.Empty(), "0818")
	require.NoError(t, err)
	assert.Equal(t, "0818", code)

	_, err = resolveCountry(reference.Empty(), "")
	assert.Error(t, err)
}

func TestWriteProducts(t *testing.T) {
	dict := reference.New(reference.Tables{
		Products: []model.Product{
			{Code: "100190", Description: "Wheat and meslin, other"},
			{Code: "100110", Description: "Durum wheat"},
			{Code: "200110", Description: "Cucumbers"},
		},
	})

	var buf bytes.Buffer
	assert.Equal(t, 2, writeProducts(&buf, dict, "10"))
	assert.Equal(t, "100110 Durum wheat\n100190 Wheat and meslin, other\n", buf.String())

	buf.Reset()
	assert.Zero(t, writeProducts(&buf, dict, "30"))
	assert.Empty(t, buf.String())
}
