package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"tradereconcile/internal/analysis"
	"tradereconcile/internal/config"
	"tradereconcile/internal/loader"
	"tradereconcile/internal/logging"
	"tradereconcile/internal/metrics"
	"tradereconcile/internal/model"
	"tradereconcile/internal/providers"
	"tradereconcile/internal/providers/comtrade"
	"tradereconcile/internal/ranking"
	"tradereconcile/internal/reference"
	"tradereconcile/internal/store"
	"tradereconcile/internal/store/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		run(os.Args[2:])
	case "runs":
		listRuns(os.Args[2:])
	case "products":
		listProducts(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

type runOptions struct {
	configPath       string
	reporter         string
	partner          string
	product          string
	flow             string
	from             string
	to               string
	frequency        string
	sources          string
	metricHistorical string
	metricLive       string
	keepProducts     bool
	top              int
	dbPath           string
	verbose          bool
}

func run(args []string) {
	var opts runOptions
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to YAML config file")
	fs.StringVar(&opts.reporter, "reporter", "", "reporter country code or name (required)")
	fs.StringVar(&opts.partner, "partner", "", "partner country code or name (empty = all partners)")
	fs.StringVar(&opts.product, "product", "", "product code or category prefix (empty = all products)")
	fs.StringVar(&opts.flow, "flow", "export", "flow: export or import")
	fs.StringVar(&opts.from, "from", "", "first period, YYYY or YYYY-MM (required)")
	fs.StringVar(&opts.to, "to", "", "last period, YYYY or YYYY-MM (default: from)")
	fs.StringVar(&opts.frequency, "frequency", "A", "frequency: A (annual) or M (monthly)")
	fs.StringVar(&opts.sources, "sources", "historical,live", "comma-separated sources")
	fs.StringVar(&opts.metricHistorical, "metric-historical", "", "historical metric to rank by (default: v)")
	fs.StringVar(&opts.metricLive, "metric-live", "", "live metric to rank by (default: primaryValue)")
	fs.BoolVar(&opts.keepProducts, "keep-products", false, "keep one row per product")
	fs.IntVar(&opts.top, "top", -1, "number of top partners, 0 for all (default from config)")
	fs.StringVar(&opts.dbPath, "db", "-", "sqlite database path (empty disables persistence, - uses config)")
	fs.BoolVar(&opts.verbose, "verbose", false, "print each dataset row")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runCollector(ctx, opts); err != nil {
		fmt.Fprintln(os.Stderr, "collector run failed:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: collector run [options]")
	fmt.Fprintln(os.Stderr, "       collector runs [-db path] [-limit n]")
	fmt.Fprintln(os.Stderr, "       collector products -prefix code [-config path]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "options:")
	fmt.Fprintln(os.Stderr, "  -config             path to YAML config file")
	fmt.Fprintln(os.Stderr, "  -reporter           reporter country code or name (required)")
	fmt.Fprintln(os.Stderr, "  -partner            partner country code or name (default: all)")
	fmt.Fprintln(os.Stderr, "  -product            product code or category prefix (default: all)")
	fmt.Fprintln(os.Stderr, "  -flow               export or import (default: export)")
	fmt.Fprintln(os.Stderr, "  -from, -to          period range, YYYY or YYYY-MM")
	fmt.Fprintln(os.Stderr, "  -frequency          A or M (default: A)")
	fmt.Fprintln(os.Stderr, "  -sources            comma-separated sources (default: historical,live)")
	fmt.Fprintln(os.Stderr, "  -metric-historical  historical metric to rank by (default: v)")
	fmt.Fprintln(os.Stderr, "  -metric-live        live metric to rank by (default: primaryValue)")
	fmt.Fprintln(os.Stderr, "  -keep-products      keep one row per product")
	fmt.Fprintln(os.Stderr, "  -top                number of top partners, 0 for all (default: 10)")
	fmt.Fprintln(os.Stderr, "  -db                 sqlite database path (default: from config)")
	fmt.Fprintln(os.Stderr, "  -verbose            print each dataset row")
}

func runCollector(ctx context.Context, opts runOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging)

	dict, err := reference.Load(cfg.Reference)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: reference tables unavailable: %v (names will be Unknown)\n", err)
		dict = reference.Empty()
	}

	req, err := buildRequest(opts, dict, cfg.Analysis.TopN)
	if err != nil {
		return err
	}

	if opts.verbose && req.Product != "" {
		fmt.Fprintf(os.Stderr, "product %s covers %d reference subcategories\n", req.Product, len(dict.Subcategories(req.Product)))
	}

	loaderCfg := cfg.LoaderConfig()
	loaderCfg.Logger = &logger
	historical := loader.New(loaderCfg)

	var liveSource providers.LiveSource
	if cfg.Live.Enabled && req.Wants(model.SourceLive) {
		provider, err := comtrade.New(&logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: live source disabled: %v\n", err)
		} else {
			liveSource = provider
		}
	}

	analyzer := analysis.New(analysis.Config{
		Historical:     historical,
		Live:           liveSource,
		Names:          dict,
		Logger:         &logger,
		Classification: cfg.Live.Classification,
		Sample:         cfg.Analysis.Sample,
	})

	report, err := analyzer.Run(ctx, req)
	if err != nil {
		return err
	}

	dbPath := opts.dbPath
	if dbPath == "-" {
		dbPath = cfg.Store.Path
	}
	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.SaveRun(ctx, report); err != nil {
		return err
	}

	if opts.verbose && report.Dataset != nil {
		for _, row := range report.Dataset.Rows {
			fmt.Printf("%s %s %s %s %s %.2f\n",
				row.Source.Label(),
				row.Partner,
				row.Product,
				row.Period,
				row.PartnerName,
				row.Selected,
			)
		}
	}
	printReport(report)
	return nil
}

func buildRequest(opts runOptions, dict *reference.Dictionary, defaultTop int) (analysis.Request, error) {
	reporter, err := resolveCountry(dict, opts.reporter)
	if err != nil {
		return analysis.Request{}, fmt.Errorf("reporter: %w", err)
	}
	partner := ""
	if strings.TrimSpace(opts.partner) != "" {
		partner, err = resolveCountry(dict, opts.partner)
		if err != nil {
			return analysis.Request{}, fmt.Errorf("partner: %w", err)
		}
	}

	frequency := strings.ToUpper(strings.TrimSpace(opts.frequency))
	periods, err := parsePeriods(opts.from, opts.to, frequency)
	if err != nil {
		return analysis.Request{}, err
	}

	sources, err := parseSources(opts.sources)
	if err != nil {
		return analysis.Request{}, err
	}

	top := opts.top
	switch {
	case top < 0:
		top = defaultTop
	case top == 0:
		top = analysis.AllPartners
	}

	return analysis.Request{
		Reporter:  reporter,
		Partner:   partner,
		Product:   strings.TrimSpace(opts.product),
		Flow:      model.Flow(strings.ToLower(strings.TrimSpace(opts.flow))),
		Frequency: frequency,
		Periods:   periods,
		Sources:   sources,
		Metrics: analysis.RequestedMetrics{
			Historical: parseMetric(model.SourceHistorical, opts.metricHistorical),
			Live:       parseMetric(model.SourceLive, opts.metricLive),
		},
		KeepProducts: opts.keepProducts,
		TopN:         top,
	}, nil
}

// resolveCountry accepts a numeric code as is and looks anything else up by
// name or ISO3.
func resolveCountry(dict *reference.Dictionary, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("country is required")
	}
	if isDigits(value) {
		return value, nil
	}
	country, err := dict.FindCountry(value)
	if err != nil {
		return "", err
	}
	return country.Code, nil
}

func parseMetric(source model.Source, value string) model.Metric {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if metric, ok := metrics.Parse(source, value); ok {
		return metric
	}
	// Unknown names pass through; the analyzer falls back to the default.
	return model.Metric(value)
}

// parsePeriods expands the from/to range. Annual requests take years;
// monthly requests take YYYY-MM or a bare year meaning all twelve months.
func parsePeriods(from, to, frequency string) ([]model.Period, error) {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("-from is required")
	}
	if to == "" {
		to = from
	}

	if frequency != analysis.FrequencyMonthly {
		start, ok := yearOf(from)
		if !ok {
			return nil, fmt.Errorf("invalid period: %s", from)
		}
		end, ok := yearOf(to)
		if !ok {
			return nil, fmt.Errorf("invalid period: %s", to)
		}
		return model.YearsBetween(start, end), nil
	}

	startYear, startMonth, ok := monthOf(from, 1)
	if !ok {
		return nil, fmt.Errorf("invalid period: %s", from)
	}
	endYear, endMonth, ok := monthOf(to, 12)
	if !ok {
		return nil, fmt.Errorf("invalid period: %s", to)
	}
	start, end := startYear*12+startMonth-1, endYear*12+endMonth-1
	if start > end {
		start, end = end, start
	}
	periods := make([]model.Period, 0, end-start+1)
	for i := start; i <= end; i++ {
		periods = append(periods, model.MonthPeriod(i/12, i%12+1))
	}
	return periods, nil
}

func yearOf(value string) (int, bool) {
	period, ok := model.ParsePeriod(value)
	if !ok {
		return 0, false
	}
	return period.Year()
}

func monthOf(value string, defaultMonth int) (int, int, bool) {
	if len(value) == 4 && isDigits(value) {
		year, err := strconv.Atoi(value)
		return year, defaultMonth, err == nil
	}
	period, ok := model.ParsePeriod(value)
	if !ok || period.Type != model.PeriodMonth {
		return 0, 0, false
	}
	year, _ := period.Year()
	month, err := strconv.Atoi(period.Value[len(period.Value)-2:])
	if err != nil {
		return 0, 0, false
	}
	return year, month, true
}

func parseSources(value string) ([]model.Source, error) {
	items := parseList(value)
	sources := make([]model.Source, 0, len(items))
	for _, item := range items {
		switch strings.ToLower(item) {
		case "historical", "baci":
			sources = append(sources, model.SourceHistorical)
		case "live", "comtrade":
			sources = append(sources, model.SourceLive)
		default:
			return nil, fmt.Errorf("unknown source: %s", item)
		}
	}
	return sources, nil
}

// recentPeriods bounds the per-period share lines printed after a run.
const recentPeriods = 5

func printReport(report *analysis.Report) {
	for _, warning := range report.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}
	if report.Dataset == nil || report.Dataset.Empty {
		fmt.Printf("collector run complete (run=%s rows=0): no data from any source\n", report.ID)
		return
	}

	fmt.Printf("world total: %.2f\n", report.Ranking.WorldTotal)
	for i, total := range report.Ranking.Top {
		share := ranking.Round2(ranking.Share(total.Total, report.Ranking.WorldTotal))
		fmt.Printf("%2d. %-6s %-32s %18.2f %6.2f%%\n", i+1, total.Partner, total.Name, total.Total, share)
	}
	for _, share := range ranking.Recent(report.PeriodShares, recentPeriods) {
		fmt.Printf("%s %.2f / %.2f = %.2f%%\n", share.Period, share.Partner, share.World, ranking.Round2(share.Share))
	}

	sources := make([]string, 0, len(report.Dataset.Sources))
	for _, source := range report.Dataset.Sources {
		sources = append(sources, source.Label())
	}
	fmt.Printf("collector run complete (run=%s rows=%d sources=%s level=%s)\n",
		report.ID, len(report.Dataset.Rows), strings.Join(sources, ","), report.DataLevel,
	)
}

func listRuns(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dbPath := fs.String("db", "tradereconcile.db", "sqlite database path")
	limit := fs.Int("limit", 20, "number of runs to list (0 = all)")
	fs.Parse(args)

	st, err := sqlite.New(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open store:", err)
		os.Exit(1)
	}
	defer st.Close()

	runs, err := st.ListRuns(context.Background(), *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to list runs:", err)
		os.Exit(1)
	}
	for _, summary := range runs {
		fmt.Printf("%s %s reporter=%s partner=%s product=%s flow=%s rows=%d\n",
			summary.ID, summary.FinishedAt.Format("2006-01-02T15:04:05Z07:00"),
			summary.Reporter, summary.Partner, summary.Product, summary.Flow, summary.Rows,
		)
	}
}

func listProducts(args []string) {
	fs := flag.NewFlagSet("products", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	prefix := fs.String("prefix", "", "parent product code, e.g. 10 or 1001 (required)")
	fs.Parse(args)

	if strings.TrimSpace(*prefix) == "" {
		fmt.Fprintln(os.Stderr, "products: -prefix is required")
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	dict, err := reference.Load(cfg.Reference)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load reference tables:", err)
		os.Exit(1)
	}
	if writeProducts(os.Stdout, dict, *prefix) == 0 {
		fmt.Fprintf(os.Stderr, "warning: no subcategories under %s\n", *prefix)
	}
}

// writeProducts prints the subcategories of prefix, one "code description"
// line each, and returns how many were printed.
func writeProducts(w io.Writer, dict *reference.Dictionary, prefix string) int {
	products := dict.Subcategories(prefix)
	for _, product := range products {
		fmt.Fprintf(w, "%s %s\n", product.Code, product.Description)
	}
	return len(products)
}

func openStore(path string) (store.Store, error) {
	if strings.TrimSpace(path) == "" {
		return &store.NopStore{}, nil
	}
	return sqlite.New(path)
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return value != ""
}
