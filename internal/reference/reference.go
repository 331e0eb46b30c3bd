// Package reference holds the code-to-name tables shared by both sources.
// A Dictionary is built once per process and never mutated afterwards, so it
// is safe for concurrent readers without locking.
package reference

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"tradereconcile/internal/codes"
	"tradereconcile/internal/model"
)

var (
	ErrNotFound      = errors.New("reference: no match")
	ErrAmbiguousName = errors.New("reference: ambiguous name")
)

// AmbiguousNameError is returned when a text lookup matches more than one
// entry. The caller decides which candidate is meant.
type AmbiguousNameError struct {
	Query      string
	Candidates []model.Country
}

func (e *AmbiguousNameError) Error() string {
	return fmt.Sprintf("reference: %q matches %d countries", e.Query, len(e.Candidates))
}

func (e *AmbiguousNameError) Is(target error) bool {
	return target == ErrAmbiguousName
}

type Dictionary struct {
	countries     map[string]model.Country
	liveCountries map[string]model.Country
	products      map[string]model.Product
	productOrder  []string
}

// Tables are the raw inputs of a Dictionary.
type Tables struct {
	Countries     []model.Country
	LiveCountries []model.Country
	Products      []model.Product
}

// New builds an immutable dictionary. Country codes are stored canonical,
// product codes padded to the reference width.
func New(tables Tables) *Dictionary {
	d := &Dictionary{
		countries:     make(map[string]model.Country, len(tables.Countries)),
		liveCountries: make(map[string]model.Country, len(tables.LiveCountries)),
		products:      make(map[string]model.Product, len(tables.Products)),
	}
	for _, country := range tables.Countries {
		country.Code = codes.Normalize(country.Code)
		if country.Source == "" {
			country.Source = model.SourceHistorical
		}
		d.countries[country.Code] = country
	}
	for _, country := range tables.LiveCountries {
		country.Code = codes.Normalize(country.Code)
		country.Source = model.SourceLive
		d.liveCountries[country.Code] = country
	}
	for _, product := range tables.Products {
		if strings.TrimSpace(product.Code) == "" {
			continue
		}
		code := codes.PadProduct(product.Code)
		if _, exists := d.products[code]; !exists {
			d.productOrder = append(d.productOrder, code)
		}
		d.products[code] = model.Product{Code: code, Description: strings.TrimSpace(product.Description)}
	}
	sort.Strings(d.productOrder)
	return d
}

// Empty returns a dictionary with no entries. Every lookup misses.
func Empty() *Dictionary {
	return New(Tables{})
}

// CountryName resolves a country code against the historical table first,
// then the live table.
func (d *Dictionary) CountryName(code string) (string, bool) {
	if d == nil {
		return "", false
	}
	key := codes.Normalize(code)
	if country, ok := d.countries[key]; ok && country.Name != "" {
		return country.Name, true
	}
	if country, ok := d.liveCountries[key]; ok && country.Name != "" {
		return country.Name, true
	}
	return "", false
}

// ProductDescription resolves a product code by its zero-padded form.
func (d *Dictionary) ProductDescription(code string) (string, bool) {
	if d == nil {
		return "", false
	}
	product, ok := d.products[codes.PadProduct(code)]
	if !ok || product.Description == "" {
		return "", false
	}
	return product.Description, true
}

// Subcategories lists the products that code is a parent category of, using
// the same canonical prefix rule as the loader's product filter. Results are
// ordered by padded code.
func (d *Dictionary) Subcategories(code string) []model.Product {
	if d == nil || strings.TrimSpace(code) == "" {
		return nil
	}
	var out []model.Product
	for _, key := range d.productOrder {
		if codes.IsPrefixOf(code, key) {
			out = append(out, d.products[key])
		}
	}
	return out
}

// FindCountry resolves user input to a country. Numeric input is looked up
// by code. Text input is matched accent- and case-insensitively against
// names of both tables: an exact name wins, otherwise a single substring
// match wins, and several matches yield an *AmbiguousNameError.
func (d *Dictionary) FindCountry(query string) (model.Country, error) {
	query = strings.TrimSpace(query)
	if query == "" || d == nil {
		return model.Country{}, ErrNotFound
	}
	if codes.Numeric(query) {
		key := codes.Normalize(query)
		if country, ok := d.countries[key]; ok {
			return country, nil
		}
		if country, ok := d.liveCountries[key]; ok {
			return country, nil
		}
		return model.Country{}, fmt.Errorf("%w: country code %s", ErrNotFound, query)
	}

	needle := foldName(query)
	var exact, partial []model.Country
	seen := make(map[string]struct{})
	for _, table := range []map[string]model.Country{d.countries, d.liveCountries} {
		for _, country := range table {
			if _, dup := seen[country.Code]; dup {
				continue
			}
			name := foldName(country.Name)
			switch {
			case name == needle || strings.EqualFold(country.ISO3, query):
				exact = append(exact, country)
				seen[country.Code] = struct{}{}
			case strings.Contains(name, needle):
				partial = append(partial, country)
				seen[country.Code] = struct{}{}
			}
		}
	}

	switch {
	case len(exact) == 1:
		return exact[0], nil
	case len(exact) > 1:
		return model.Country{}, ambiguous(query, exact)
	case len(partial) == 1:
		return partial[0], nil
	case len(partial) > 1:
		return model.Country{}, ambiguous(query, partial)
	default:
		return model.Country{}, fmt.Errorf("%w: country %q", ErrNotFound, query)
	}
}

func ambiguous(query string, candidates []model.Country) error {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Name != candidates[j].Name {
			return candidates[i].Name < candidates[j].Name
		}
		return candidates[i].Code < candidates[j].Code
	})
	return &AmbiguousNameError{Query: query, Candidates: candidates}
}

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func foldName(s string) string {
	result, _, err := transform.String(stripAccents, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return result
}

// LoadFiles reads the historical country and product tables from CSV files.
// A missing file yields an empty table.
func LoadFiles(countriesPath, productsPath string) (Tables, error) {
	var tables Tables
	if countriesPath != "" {
		rows, err := readCSVFile(countriesPath)
		if err != nil {
			return Tables{}, err
		}
		tables.Countries = parseCountries(rows)
	}
	if productsPath != "" {
		rows, err := readCSVFile(productsPath)
		if err != nil {
			return Tables{}, err
		}
		tables.Products = parseProducts(rows)
	}
	return tables, nil
}

// Paths locates the reference tables on disk. Empty paths are skipped.
type Paths struct {
	Countries     string `yaml:"countries" split_words:"true"`
	LiveCountries string `yaml:"live_countries" split_words:"true"`
	Products      string `yaml:"products" split_words:"true"`
}

// Load reads every table named in paths and builds the dictionary.
func Load(paths Paths) (*Dictionary, error) {
	tables, err := LoadFiles(paths.Countries, paths.Products)
	if err != nil {
		return nil, err
	}
	if paths.LiveCountries != "" {
		rows, err := readCSVFile(paths.LiveCountries)
		if err != nil {
			return nil, err
		}
		tables.LiveCountries = parseCountries(rows)
	}
	return New(tables), nil
}

// ReadCountries parses a country table from r.
func ReadCountries(r io.Reader) ([]model.Country, error) {
	rows, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	return parseCountries(rows), nil
}

// ReadProducts parses a product table from r.
func ReadProducts(r io.Reader) ([]model.Product, error) {
	rows, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	return parseProducts(rows), nil
}

func parseCountries(rows [][]string) []model.Country {
	if len(rows) == 0 {
		return nil
	}
	header := normalizeHeader(rows[0])
	out := make([]model.Country, 0, len(rows)-1)
	for _, record := range rows[1:] {
		code := getCell(record, header, "country_code", "code")
		if code == "" {
			continue
		}
		out = append(out, model.Country{
			Code: code,
			Name: getCell(record, header, "country_name", "name", "country_name_full"),
			ISO3: strings.ToUpper(getCell(record, header, "country_iso3", "iso3")),
		})
	}
	return out
}

func parseProducts(rows [][]string) []model.Product {
	if len(rows) == 0 {
		return nil
	}
	header := normalizeHeader(rows[0])
	out := make([]model.Product, 0, len(rows)-1)
	for _, record := range rows[1:] {
		code := getCell(record, header, "code", "product_code", "k")
		if code == "" {
			continue
		}
		out = append(out, model.Product{
			Code:        code,
			Description: getCell(record, header, "description", "desc", "product_desc"),
		})
	}
	return out
}

func readCSVFile(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()
	return readCSV(file)
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reference: read csv: %w", err)
	}
	return rows, nil
}

func normalizeHeader(header []string) map[string]int {
	result := make(map[string]int, len(header))
	for i, value := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(value, "\ufeff")))
		if key == "" {
			continue
		}
		result[key] = i
	}
	return result
}

func getCell(record []string, header map[string]int, keys ...string) string {
	for _, key := range keys {
		index, ok := header[key]
		if !ok || index >= len(record) {
			continue
		}
		return strings.TrimSpace(record[index])
	}
	return ""
}
