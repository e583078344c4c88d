package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/GoPolymarket/weather-trader/internal/weather"
)

const maxBody = 4 << 20

var errNoValue = errors.New("value not found")

// JSONProvider reads temperatures from any HTTP JSON endpoint using gjson
// paths. Requests go through a rate limiter and a circuit breaker.
type JSONProvider struct {
	spec    Spec
	kind    weather.Kind
	deps    Deps
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func newJSONProvider(spec Spec, deps Deps) (Provider, error) {
	if spec.URL == "" {
		return nil, fmt.Errorf("source %s: url is required", spec.ID)
	}
	if spec.ActualPath == "" {
		return nil, fmt.Errorf("source %s: actual_path is required", spec.ID)
	}
	kind, err := weather.ParseKind(spec.Kind)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", spec.ID, err)
	}
	limit := rate.Inf
	if spec.RatePerMinute > 0 {
		limit = rate.Limit(spec.RatePerMinute / 60)
	}
	st := gobreaker.Settings{
		Name:        "source-" + spec.ID,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	}
	return &JSONProvider{
		spec:    spec,
		kind:    kind,
		deps:    deps,
		limiter: rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker(st),
	}, nil
}

func (p *JSONProvider) ID() weather.SourceID { return weather.SourceID(p.spec.ID) }
func (p *JSONProvider) Kind() weather.Kind   { return p.kind }

// BreakerState exposes the circuit state for status output.
func (p *JSONProvider) BreakerState() string { return p.breaker.State().String() }

func (p *JSONProvider) Poll(ctx context.Context) (weather.SourceSample, error) {
	now := p.deps.Now()
	body, err := p.get(ctx, p.spec.URL)
	if err != nil {
		return weather.Unavailable(p.ID(), p.kind, now), err
	}
	actual := gjson.GetBytes(body, p.spec.ActualPath)
	if !actual.Exists() || actual.Type != gjson.Number {
		return weather.Unavailable(p.ID(), p.kind, now), fmt.Errorf("source %s: %s: %w", p.spec.ID, p.spec.ActualPath, errNoValue)
	}
	smp := weather.SourceSample{
		Source:    p.ID(),
		Kind:      p.kind,
		Time:      now,
		Actual:    weather.Celsius(toCelsius(actual.Float(), p.spec.Unit)),
		Available: true,
	}
	if p.spec.Forecast1h != "" {
		if f := gjson.GetBytes(body, p.spec.Forecast1h); f.Type == gjson.Number {
			smp.Forecast1h = weather.Celsius(toCelsius(f.Float(), p.spec.Unit))
		}
	}
	if p.spec.ObservedPath != "" {
		if ts := gjson.GetBytes(body, p.spec.ObservedPath); ts.Exists() {
			if t, err := parseTime(ts.String(), p.deps.Location); err == nil {
				smp.Time = t
			}
		}
	}
	return smp, nil
}

// Forecast reads an hourly curve from two parallel arrays.
func (p *JSONProvider) Forecast(ctx context.Context) (weather.Series, error) {
	if p.spec.ForecastURL == "" || p.spec.HourlyTimes == "" || p.spec.HourlyTemps == "" {
		return nil, fmt.Errorf("source %s: no forecast endpoint configured", p.spec.ID)
	}
	body, err := p.get(ctx, p.spec.ForecastURL)
	if err != nil {
		return nil, err
	}
	times := gjson.GetBytes(body, p.spec.HourlyTimes).Array()
	temps := gjson.GetBytes(body, p.spec.HourlyTemps).Array()
	if len(times) == 0 || len(times) != len(temps) {
		return nil, fmt.Errorf("source %s: hourly arrays empty or mismatched (%d/%d)", p.spec.ID, len(times), len(temps))
	}
	out := make(weather.Series, 0, len(times))
	for i := range times {
		if temps[i].Type != gjson.Number {
			continue
		}
		t, err := parseTime(times[i].String(), p.deps.Location)
		if err != nil {
			return nil, fmt.Errorf("source %s: hourly time %q: %w", p.spec.ID, times[i].String(), err)
		}
		out = append(out, weather.Point{Time: t, C: toCelsius(temps[i].Float(), p.spec.Unit)})
	}
	return out.Sorted(), nil
}

func (p *JSONProvider) get(ctx context.Context, url string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("source %s: rate limit: %w", p.spec.ID, err)
	}
	res, err := p.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := p.deps.HTTP.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return nil, err
		}
		if !gjson.ValidBytes(body) {
			return nil, errors.New("invalid json")
		}
		return body, nil
	})
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", p.spec.ID, err)
	}
	return res.([]byte), nil
}

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}
