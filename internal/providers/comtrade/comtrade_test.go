package comtrade

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradereconcile/internal/model"
	"tradereconcile/internal/providers"
)

const sampleResponse = `{"elapsedTime":"0.1 secs","count":2,"data":[
 {"refPeriodId":20230101,"reporterCode":251,"flowCode":"X","partnerCode":818,"partnerDesc":"Egypt","cmdCode":"100190","cmdDesc":"Wheat","isLeaf":true,"primaryValue":1234.5,"netWgt":null},
 {"refPeriodId":20230101,"reporterCode":251,"flowCode":"X","partnerCode":0,"partnerDesc":"World","cmdCode":"100190","cmdDesc":"Wheat","isLeaf":true,"primaryValue":9999}
]}`

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p, err := NewWithConfig(Config{
		BaseURL:         server.URL,
		APIKeyPrimary:   "primary",
		APIKeySecondary: "secondary",
		RateLimitPerSec: 1000,
		RateLimitBurst:  10,
		MaxRetries:      1,
		IncludeDesc:     true,
	}, nil)
	require.NoError(t, err)
	return p
}

func testQuery() providers.Query {
	return providers.Query{
		Flow:      model.FlowExport,
		Frequency: "A",
		Periods:   model.YearsBetween(2022, 2023),
		Reporter:  "251",
		Product:   "100190",
	}
}

func TestQueryBuildsRequest(t *testing.T) {
	var got *http.Request
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(sampleResponse))
	})

	rows, err := p.Query(context.Background(), testQuery())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NotNil(t, got)
	assert.Equal(t, "/data/v1/get/C/A/HS", got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "251", q.Get("reporterCode"))
	assert.Equal(t, "2022,2023", q.Get("period"))
	assert.Equal(t, "X", q.Get("flowCode"))
	assert.Equal(t, "100190", q.Get("cmdCode"))
	assert.Empty(t, q.Get("partnerCode"))
	assert.Equal(t, "true", q.Get("includeDesc"))
	assert.Equal(t, "primary", got.Header.Get("Ocp-Apim-Subscription-Key"))

	partner, ok := rows[0].String("partnerCode")
	assert.True(t, ok)
	assert.Equal(t, "818", partner)
	value, ok := rows[0].Float("primaryValue")
	assert.True(t, ok)
	assert.Equal(t, 1234.5, value)
	_, ok = rows[0].Float("netWgt")
	assert.False(t, ok)
}

func TestQueryImportAndPartner(t *testing.T) {
	var got *http.Request
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(sampleResponse))
	})
	query := testQuery()
	query.Flow = model.FlowImport
	query.Partner = "818"
	query.Product = ""
	query.Frequency = "M"
	query.Periods = []model.Period{model.MonthPeriod(2023, 1)}

	_, err := p.Query(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, "/data/v1/get/C/M/HS", got.URL.Path)
	assert.Equal(t, "M", got.URL.Query().Get("flowCode"))
	assert.Equal(t, "818", got.URL.Query().Get("partnerCode"))
	assert.Equal(t, "TOTAL", got.URL.Query().Get("cmdCode"))
	assert.Equal(t, "202301", got.URL.Query().Get("period"))
}

func TestQueryNoRecords(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"count":0,"data":[]}`))
	})
	_, err := p.Query(context.Background(), testQuery())
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestQueryRetriesOnTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(sampleResponse))
	})

	start := time.Now()
	rows, err := p.Query(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestQueryRotatesKeyOnUnauthorized(t *testing.T) {
	var keys []string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("subscription-key")
		keys = append(keys, key)
		if key == "primary" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(sampleResponse))
	})

	_, err := p.Query(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "secondary"}, keys)
}

func TestQueryQuotaExceeded(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"statusCode":403,"message":"Out of call volume quota. Quota will be replenished in 10:00:00."}`))
	})
	_, err := p.Query(context.Background(), testQuery())
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestQueryRequiresKey(t *testing.T) {
	p, err := NewWithConfig(Config{BaseURL: "http://127.0.0.1:0"}, nil)
	require.NoError(t, err)
	_, err = p.Query(context.Background(), testQuery())
	assert.ErrorContains(t, err, "api key is required")
}

func TestParseRetrySeconds(t *testing.T) {
	assert.Equal(t, 7, parseRetrySeconds("Rate limit is exceeded. Try again in 7 seconds."))
	assert.Zero(t, parseRetrySeconds("nothing here"))
}
