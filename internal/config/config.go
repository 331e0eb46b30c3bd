// Package config loads collector and publisher settings: built-in defaults,
// then an optional YAML file, then TRADE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"tradereconcile/internal/loader"
	"tradereconcile/internal/logging"
	"tradereconcile/internal/metrics"
	"tradereconcile/internal/ranking"
	"tradereconcile/internal/reference"
)

// EnvPrefix prefixes every environment override, e.g. TRADE_HISTORICAL_DIR.
const EnvPrefix = "TRADE"

type Config struct {
	Historical HistoricalConfig `yaml:"historical" envconfig:"HISTORICAL"`
	Reference  reference.Paths  `yaml:"reference" envconfig:"REFERENCE"`
	Live       LiveConfig       `yaml:"live" envconfig:"LIVE"`
	Store      StoreConfig      `yaml:"store" envconfig:"STORE"`
	Analysis   AnalysisConfig   `yaml:"analysis" envconfig:"ANALYSIS"`
	Logging    logging.Config   `yaml:"logging" envconfig:"LOGGING"`
}

type HistoricalConfig struct {
	Dir             string  `yaml:"dir" split_words:"true"`
	Pattern         string  `yaml:"pattern" split_words:"true" validate:"required"`
	BlockSize       int     `yaml:"block_size" split_words:"true" validate:"gt=0"`
	ValueMultiplier float64 `yaml:"value_multiplier" split_words:"true" validate:"gt=0"`
	Concurrency     int     `yaml:"concurrency" split_words:"true" validate:"gt=0,lte=64"`
}

type LiveConfig struct {
	Enabled        bool   `yaml:"enabled" split_words:"true"`
	Classification string `yaml:"classification" split_words:"true" validate:"required"`
}

type StoreConfig struct {
	// Path of the sqlite database. Empty disables persistence.
	Path string `yaml:"path" split_words:"true"`
}

type AnalysisConfig struct {
	TopN   int `yaml:"top_n" split_words:"true" validate:"gte=0"`
	Sample int `yaml:"sample" split_words:"true" validate:"gt=0"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Historical: HistoricalConfig{
			Dir:             "data/baci",
			Pattern:         loader.DefaultPattern,
			BlockSize:       loader.DefaultBlockSize,
			ValueMultiplier: loader.DefaultValueMultiplier,
			Concurrency:     loader.DefaultConcurrency,
		},
		Reference: reference.Paths{
			Countries: "data/baci/country_codes_V202601.csv",
			Products:  "data/baci/product_codes_HS92_V202601.csv",
		},
		Live: LiveConfig{
			Enabled:        true,
			Classification: "HS",
		},
		Store: StoreConfig{
			Path: "tradereconcile.db",
		},
		Analysis: AnalysisConfig{
			TopN:   ranking.DefaultTopN,
			Sample: metrics.DefaultSample,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "auto",
			Output: "stderr",
		},
	}
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("config: %s must satisfy %s", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// LoaderConfig maps the historical settings onto the loader.
func (c Config) LoaderConfig() loader.Config {
	return loader.Config{
		Files: loader.Files{Dir: c.Historical.Dir, Pattern: c.Historical.Pattern},
		Options: loader.Options{
			BlockSize:       c.Historical.BlockSize,
			ValueMultiplier: c.Historical.ValueMultiplier,
		},
		Concurrency: c.Historical.Concurrency,
	}
}
