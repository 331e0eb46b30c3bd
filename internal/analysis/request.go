package analysis

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"tradereconcile/internal/codes"
	"tradereconcile/internal/model"
)

const (
	FrequencyAnnual  = "A"
	FrequencyMonthly = "M"
)

// Request is one reconciliation request.
type Request struct {
	Reporter string     `json:"reporter" validate:"required,code"`
	Partner  string     `json:"partner,omitempty" validate:"omitempty,code"`
	Product  string     `json:"product,omitempty" validate:"omitempty,code"`
	Flow     model.Flow `json:"flow" validate:"required,oneof=export import"`
	// Frequency is "A" (annual) or "M" (monthly). Monthly requests are only
	// served by the live source.
	Frequency string           `json:"frequency" validate:"omitempty,oneof=A M"`
	Periods   []model.Period   `json:"periods" validate:"required,min=1"`
	Sources   []model.Source   `json:"sources,omitempty" validate:"omitempty,dive,oneof=historical live"`
	Metrics   RequestedMetrics `json:"metrics"`
	// KeepProducts retains one row per product instead of collapsing to
	// partner level.
	KeepProducts bool `json:"keep_products"`
	// TopN is the ranking length. Zero means the default, AllPartners keeps
	// every partner.
	TopN int `json:"top_n" validate:"gte=-1"`
}

// AllPartners as TopN ranks every partner.
const AllPartners = -1

// RequestedMetrics selects the ranking metric per source. Empty fields fall
// back to the source default.
type RequestedMetrics struct {
	Historical model.Metric `json:"historical,omitempty"`
	Live       model.Metric `json:"live,omitempty"`
}

// Annual reports whether the request asks for yearly figures.
func (r Request) Annual() bool {
	return r.Frequency == "" || r.Frequency == FrequencyAnnual
}

// Wants reports whether source should be queried.
func (r Request) Wants(source model.Source) bool {
	if len(r.Sources) == 0 {
		return true
	}
	for _, s := range r.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// Years returns the distinct calendar years covered by the periods, in
// request order.
func (r Request) Years() []model.Period {
	seen := make(map[int]bool)
	var out []model.Period
	for _, period := range r.Periods {
		year, ok := period.Year()
		if !ok || seen[year] {
			continue
		}
		seen[year] = true
		out = append(out, model.YearPeriod(year))
	}
	return out
}

var ErrInvalidRequest = errors.New("analysis: invalid request")

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("code", func(fl validator.FieldLevel) bool {
		return codes.Numeric(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the request and reports every offending field.
func (a *Analyzer) Validate(req Request) error {
	if err := a.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		messages := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			messages = append(messages, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(messages, "; "))
	}
	for _, period := range req.Periods {
		if _, ok := period.Year(); !ok {
			return fmt.Errorf("%w: period %q", ErrInvalidRequest, period.Value)
		}
	}
	return nil
}
