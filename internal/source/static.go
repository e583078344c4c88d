package source

import (
	"context"
	"fmt"
	"sort"

	"github.com/GoPolymarket/weather-trader/internal/clock"
	"github.com/GoPolymarket/weather-trader/internal/weather"
)

// StaticProvider returns fixed values. Useful for dry runs and to pin a
// source in tests.
type StaticProvider struct {
	id   weather.SourceID
	kind weather.Kind
	spec StaticSpec
	unit string
	deps Deps
}

func newStaticProvider(spec Spec, deps Deps) (Provider, error) {
	kind, err := weather.ParseKind(spec.Kind)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", spec.ID, err)
	}
	st := StaticSpec{}
	if spec.Static != nil {
		st = *spec.Static
	}
	return &StaticProvider{id: weather.SourceID(spec.ID), kind: kind, spec: st, unit: spec.Unit, deps: deps}, nil
}

func (p *StaticProvider) ID() weather.SourceID { return p.id }
func (p *StaticProvider) Kind() weather.Kind   { return p.kind }

func (p *StaticProvider) Poll(context.Context) (weather.SourceSample, error) {
	now := p.deps.Now()
	if p.spec.Actual == nil {
		return weather.Unavailable(p.id, p.kind, now), fmt.Errorf("source %s: no static actual", p.id)
	}
	smp := weather.SourceSample{
		Source:    p.id,
		Kind:      p.kind,
		Time:      now,
		Actual:    weather.Celsius(toCelsius(*p.spec.Actual, p.unit)),
		Available: true,
	}
	if p.spec.Forecast1h != nil {
		smp.Forecast1h = weather.Celsius(toCelsius(*p.spec.Forecast1h, p.unit))
	}
	return smp, nil
}

// Forecast places the configured hourly values on today's local date.
func (p *StaticProvider) Forecast(context.Context) (weather.Series, error) {
	if len(p.spec.Hourly) == 0 {
		return nil, fmt.Errorf("source %s: no static hourly values", p.id)
	}
	now := p.deps.Now().In(p.deps.Location)
	hours := make([]int, 0, len(p.spec.Hourly))
	for h := range p.spec.Hourly {
		hours = append(hours, h)
	}
	sort.Ints(hours)
	out := make(weather.Series, 0, len(hours))
	for _, h := range hours {
		out = append(out, weather.Point{Time: clock.Hour(h).On(now, p.deps.Location), C: toCelsius(p.spec.Hourly[h], p.unit)})
	}
	return out, nil
}
