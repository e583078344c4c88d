// Package source polls weather providers. Each provider yields one sample
// per cycle; forecast providers additionally yield an hourly curve.
package source

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/GoPolymarket/weather-trader/internal/weather"
)

// Provider is one weather source.
type Provider interface {
	ID() weather.SourceID
	Kind() weather.Kind
	Poll(ctx context.Context) (weather.SourceSample, error)
}

// Forecaster is a provider that can return an hourly forecast curve.
type Forecaster interface {
	Forecast(ctx context.Context) (weather.Series, error)
}

// Spec configures one provider.
type Spec struct {
	ID   string `yaml:"id" validate:"required"`
	Kind string `yaml:"kind" validate:"omitempty,oneof=forecast ground_truth"`
	Type string `yaml:"type" validate:"required,oneof=json static"`
	// Unit of the values the provider returns.
	Unit string `yaml:"unit" validate:"omitempty,oneof=C F"`

	URL          string `yaml:"url"`
	ActualPath   string `yaml:"actual_path"`
	Forecast1h   string `yaml:"forecast_1h_path"`
	ObservedPath string `yaml:"observed_at_path"`

	ForecastURL string `yaml:"forecast_url"`
	HourlyTimes string `yaml:"hourly_times_path"`
	HourlyTemps string `yaml:"hourly_temps_path"`

	RatePerMinute float64 `yaml:"rate_per_minute" validate:"gte=0"`

	Static *StaticSpec `yaml:"static"`
}

// StaticSpec holds fixed values for a static provider.
type StaticSpec struct {
	Actual     *float64        `yaml:"actual"`
	Forecast1h *float64        `yaml:"forecast_1h"`
	Hourly     map[int]float64 `yaml:"hourly"`
}

// Deps are shared by all providers built from one config.
type Deps struct {
	HTTP     *http.Client
	Location *time.Location
	Now      func() time.Time
}

type factory func(spec Spec, deps Deps) (Provider, error)

var registry = map[string]factory{
	"json":   newJSONProvider,
	"static": newStaticProvider,
}

// Types lists the registered provider types.
func Types() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build creates a provider from its spec.
func Build(spec Spec, deps Deps) (Provider, error) {
	f, ok := registry[spec.Type]
	if !ok {
		return nil, fmt.Errorf("source %s: unknown type %q", spec.ID, spec.Type)
	}
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return f(spec, deps)
}

func toCelsius(v float64, unit string) float64 {
	if unit == "F" {
		return (v - 32) / 1.8
	}
	return v
}
