package comtrade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tradereconcile/internal/providers"
)

const (
	defaultBaseURL         = "https://comtradeapi.un.org/"
	defaultDataPath        = "data/v1/get/{type}/{freq}/{cl}"
	defaultAPIKeyParam     = "subscription-key"
	defaultType            = "C"
	defaultFrequency       = "A"
	monthlyFrequency       = "M"
	defaultClassification  = "HS"
	defaultCommodity       = "TOTAL"
	defaultFlowExport      = "X"
	defaultFlowImport      = "M"
	defaultFormat          = "JSON"
	defaultBreakdownMode   = "classic"
	defaultMaxRecords      = 250000
	defaultRateLimitPerSec = 2
	defaultRateLimitBurst  = 2
	defaultTimeoutSeconds  = 60
	defaultUserAgent       = "tradereconcile/0.1"
	defaultMaxRetries      = 3
)

var ErrNoRecords = errors.New("comtrade: no records found")
var ErrQuotaExceeded = errors.New("comtrade: quota exceeded")

type Config struct {
	BaseURL         string
	DataPath        string
	APIKeyPrimary   string
	APIKeySecondary string
	APIKeyParam     string
	Type            string
	Commodity       string
	FlowExport      string
	FlowImport      string
	Format          string
	BreakdownMode   string
	IncludeDesc     bool
	MaxRecords      int
	Timeout         time.Duration
	UserAgent       string
	RateLimitPerSec float64
	RateLimitBurst  int
	MaxRetries      int
}

type Provider struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func New(logger *zerolog.Logger) (*Provider, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, logger)
}

func NewWithConfig(cfg Config, logger *zerolog.Logger) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.DataPath) == "" {
		cfg.DataPath = defaultDataPath
	}
	if strings.TrimSpace(cfg.APIKeyParam) == "" {
		cfg.APIKeyParam = defaultAPIKeyParam
	}
	if strings.TrimSpace(cfg.Type) == "" {
		cfg.Type = defaultType
	}
	if strings.TrimSpace(cfg.Commodity) == "" {
		cfg.Commodity = defaultCommodity
	}
	if strings.TrimSpace(cfg.FlowExport) == "" {
		cfg.FlowExport = defaultFlowExport
	}
	if strings.TrimSpace(cfg.FlowImport) == "" {
		cfg.FlowImport = defaultFlowImport
	}
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = defaultFormat
	}
	if strings.TrimSpace(cfg.BreakdownMode) == "" {
		cfg.BreakdownMode = defaultBreakdownMode
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = defaultMaxRecords
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeoutSeconds * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = defaultRateLimitPerSec
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}

	return &Provider{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst),
		logger:  l.With().Str("provider", "comtrade").Logger(),
	}, nil
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL:         getenv("COMTRADE_BASE_URL", defaultBaseURL),
		DataPath:        getenv("COMTRADE_DATA_PATH", defaultDataPath),
		APIKeyPrimary:   strings.TrimSpace(os.Getenv("COMTRADE_PRIMARY_KEY")),
		APIKeySecondary: strings.TrimSpace(os.Getenv("COMTRADE_SECONDARY_KEY")),
		APIKeyParam:     getenv("COMTRADE_API_KEY_PARAM", defaultAPIKeyParam),
		Type:            getenv("COMTRADE_TYPE", defaultType),
		Commodity:       getenv("COMTRADE_COMMODITY", defaultCommodity),
		FlowExport:      getenv("COMTRADE_FLOW_EXPORT", defaultFlowExport),
		FlowImport:      getenv("COMTRADE_FLOW_IMPORT", defaultFlowImport),
		Format:          getenv("COMTRADE_FORMAT", defaultFormat),
		BreakdownMode:   getenv("COMTRADE_BREAKDOWN_MODE", defaultBreakdownMode),
		IncludeDesc:     getenvBool("COMTRADE_INCLUDE_DESC", true),
		UserAgent:       getenv("COMTRADE_USER_AGENT", defaultUserAgent),
	}

	cfg.MaxRecords = getenvInt("COMTRADE_MAX_RECORDS", defaultMaxRecords)
	cfg.Timeout = time.Duration(getenvInt("COMTRADE_TIMEOUT_SECONDS", defaultTimeoutSeconds)) * time.Second
	cfg.RateLimitPerSec = getenvFloat("COMTRADE_RATE_LIMIT_PER_SEC", defaultRateLimitPerSec)
	cfg.RateLimitBurst = getenvInt("COMTRADE_RATE_LIMIT_BURST", defaultRateLimitBurst)
	cfg.MaxRetries = getenvInt("COMTRADE_MAX_RETRIES", defaultMaxRetries)

	return cfg, nil
}

func (p *Provider) Name() string {
	return "comtrade"
}

// Query fetches the rows of one request. An empty response is ErrNoRecords.
func (p *Provider) Query(ctx context.Context, query providers.Query) ([]providers.Row, error) {
	if strings.TrimSpace(query.Reporter) == "" {
		return nil, errors.New("comtrade: reporter is required")
	}
	if len(query.Periods) == 0 {
		return nil, errors.New("comtrade: at least one period is required")
	}

	params := url.Values{}
	params.Set("reporterCode", strings.TrimSpace(query.Reporter))
	params.Set("period", query.PeriodParam())
	params.Set("flowCode", p.flowCode(query))
	params.Set("cmdCode", p.commodity(query))
	if partner := strings.TrimSpace(query.Partner); partner != "" {
		params.Set("partnerCode", partner)
	}
	params.Set("format", p.config.Format)
	params.Set("breakdownMode", p.config.BreakdownMode)
	params.Set("includeDesc", strconv.FormatBool(p.config.IncludeDesc))
	if p.config.MaxRecords > 0 {
		params.Set("maxRecords", strconv.Itoa(p.config.MaxRecords))
	}

	body, err := p.doRequest(ctx, p.dataURL(query), params)
	if err != nil {
		return nil, err
	}
	rows, err := parseRows(body)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRecords
	}
	if len(rows) >= p.config.MaxRecords {
		p.logger.Warn().Int("rows", len(rows)).Int("max_records", p.config.MaxRecords).Msg("response hit the record cap, results may be truncated")
	}
	p.logger.Debug().Int("rows", len(rows)).Str("period", params.Get("period")).Msg("comtrade query complete")
	return rows, nil
}

func (p *Provider) dataURL(query providers.Query) string {
	frequency := defaultFrequency
	if !query.Annual() {
		frequency = monthlyFrequency
	}
	classification := strings.TrimSpace(query.Classification)
	if classification == "" {
		classification = defaultClassification
	}
	path := strings.TrimLeft(p.config.DataPath, "/")
	path = strings.ReplaceAll(path, "{type}", url.PathEscape(p.config.Type))
	path = strings.ReplaceAll(path, "{freq}", url.PathEscape(frequency))
	path = strings.ReplaceAll(path, "{cl}", url.PathEscape(classification))
	return strings.TrimRight(p.config.BaseURL, "/") + "/" + path
}

func (p *Provider) flowCode(query providers.Query) string {
	if query.Flow.Code() == "M" {
		return p.config.FlowImport
	}
	return p.config.FlowExport
}

func (p *Provider) commodity(query providers.Query) string {
	if product := strings.TrimSpace(query.Product); product != "" {
		return product
	}
	return p.config.Commodity
}

func (p *Provider) doRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	keys := []string{}
	if strings.TrimSpace(p.config.APIKeyPrimary) != "" {
		keys = append(keys, p.config.APIKeyPrimary)
	}
	if strings.TrimSpace(p.config.APIKeySecondary) != "" && p.config.APIKeySecondary != p.config.APIKeyPrimary {
		keys = append(keys, p.config.APIKeySecondary)
	}
	if len(keys) == 0 {
		return nil, errors.New("comtrade: api key is required (COMTRADE_PRIMARY_KEY)")
	}

	var lastErr error
	for _, key := range keys {
		attempts := p.config.MaxRetries + 1
		for attempt := 0; attempt < attempts; attempt++ {
			body, status, retryAfter, err := p.doRequestWithKey(ctx, endpoint, params, key)
			if err == nil {
				return body, nil
			}
			lastErr = err
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				break
			}
			if status == http.StatusTooManyRequests && attempt < attempts-1 {
				if retryAfter <= 0 {
					retryAfter = time.Second
				}
				p.logger.Warn().Dur("retry_after", retryAfter).Int("attempt", attempt+1).Msg("rate limited, retrying")
				if err := sleepWithContext(ctx, retryAfter); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("comtrade: request failed")
}

func (p *Provider) doRequestWithKey(ctx context.Context, endpoint string, params url.Values, apiKey string) ([]byte, int, time.Duration, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, 0, 0, err
	}

	uri := p.buildURL(endpoint, params, apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", apiKey)
	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, 0, err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter := parseRetryAfter(resp, body)
		if resp.StatusCode == http.StatusForbidden && isQuotaExceeded(body) {
			return nil, resp.StatusCode, retryAfter, fmt.Errorf("%w: %s", ErrQuotaExceeded, strings.TrimSpace(string(body)))
		}
		return nil, resp.StatusCode, retryAfter, fmt.Errorf("comtrade: request failed (%s): %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return body, resp.StatusCode, 0, nil
}

func (p *Provider) buildURL(endpoint string, params url.Values, apiKey string) string {
	query := url.Values{}
	for key, values := range params {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	if strings.TrimSpace(p.config.APIKeyParam) != "" {
		query.Set(p.config.APIKeyParam, apiKey)
	}
	if len(query) > 0 {
		return endpoint + "?" + query.Encode()
	}
	return endpoint
}

func parseRows(body []byte) ([]providers.Row, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var payload any
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("comtrade: decode response: %w", err)
	}
	return extractRows(payload)
}

func extractRows(payload any) ([]providers.Row, error) {
	switch typed := payload.(type) {
	case nil:
		return nil, nil
	case []any:
		return toRowList(typed), nil
	case map[string]any:
		for _, key := range []string{"data", "Data", "dataset", "Dataset", "results", "Results"} {
			if raw, ok := typed[key]; ok {
				return extractRows(raw)
			}
		}
		if message, ok := typed["error"].(string); ok && message != "" {
			return nil, fmt.Errorf("comtrade: %s", message)
		}
		return nil, errors.New("comtrade: unexpected response shape")
	default:
		return nil, errors.New("comtrade: unexpected response type")
	}
}

func toRowList(items []any) []providers.Row {
	rows := make([]providers.Row, 0, len(items))
	for _, item := range items {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rows = append(rows, providers.Row(row))
	}
	return rows
}

func parseRetryAfter(resp *http.Response, body []byte) time.Duration {
	if resp != nil {
		if value := strings.TrimSpace(resp.Header.Get("Retry-After")); value != "" {
			if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
			if when, err := time.Parse(http.TimeFormat, value); err == nil {
				wait := time.Until(when)
				if wait > 0 {
					return wait
				}
			}
		}
	}

	if len(body) == 0 {
		return 0
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0
	}
	message, _ := payload["message"].(string)
	seconds := parseRetrySeconds(message)
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

func isQuotaExceeded(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		if message, ok := payload["message"].(string); ok {
			return strings.Contains(strings.ToLower(message), "quota")
		}
	}
	return strings.Contains(strings.ToLower(string(body)), "quota")
}

func parseRetrySeconds(message string) int {
	msg := strings.ToLower(message)
	marker := "try again in"
	idx := strings.Index(msg, marker)
	if idx == -1 {
		return 0
	}
	fragment := msg[idx+len(marker):]
	for _, part := range strings.Fields(fragment) {
		if value, err := strconv.Atoi(part); err == nil && value > 0 {
			return value
		}
	}
	return 0
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	default:
		return fallback
	}
}

var _ providers.LiveSource = (*Provider)(nil)
