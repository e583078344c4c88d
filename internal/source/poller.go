package source

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/GoPolymarket/weather-trader/internal/weather"
)

// ErrorFunc observes per-source failures, e.g. for metrics.
type ErrorFunc func(id weather.SourceID, op string, err error)

// Poller polls a fixed set of providers concurrently. A provider that
// fails or misses the cycle deadline yields an unavailable sample.
type Poller struct {
	providers []Provider
	timeout   time.Duration
	now       func() time.Time
	log       zerolog.Logger
	OnError   ErrorFunc
}

func NewPoller(providers []Provider, timeout time.Duration, log zerolog.Logger) *Poller {
	return &Poller{providers: providers, timeout: timeout, now: time.Now, log: log}
}

func (p *Poller) Providers() []Provider { return p.providers }

// Poll returns one sample per provider.
func (p *Poller) Poll(ctx context.Context) map[weather.SourceID]weather.SourceSample {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	at := p.now()
	results := make([]weather.SourceSample, len(p.providers))
	var g errgroup.Group
	for i, prov := range p.providers {
		g.Go(func() error {
			smp, err := pollOne(ctx, prov)
			if err != nil {
				p.fail(prov.ID(), "poll", err)
				smp = weather.Unavailable(prov.ID(), prov.Kind(), at)
			}
			results[i] = smp
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[weather.SourceID]weather.SourceSample, len(results))
	for _, smp := range results {
		out[smp.Source] = smp
	}
	return out
}

// FetchForecasts collects hourly curves from every forecaster. failed is
// true when at least one forecaster exists and none returned a curve.
func (p *Poller) FetchForecasts(ctx context.Context) (curves map[weather.SourceID]weather.Series, failed bool) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	type result struct {
		id     weather.SourceID
		series weather.Series
		ok     bool
	}
	var fcs []Provider
	for _, prov := range p.providers {
		if _, ok := prov.(Forecaster); ok && prov.Kind() == weather.KindForecast {
			fcs = append(fcs, prov)
		}
	}
	results := make([]result, len(fcs))
	var g errgroup.Group
	for i, prov := range fcs {
		g.Go(func() error {
			s, err := prov.(Forecaster).Forecast(ctx)
			if err == nil && len(s) == 0 {
				err = errNoValue
			}
			if err != nil {
				p.fail(prov.ID(), "forecast", err)
				results[i] = result{id: prov.ID()}
				return nil
			}
			results[i] = result{id: prov.ID(), series: s, ok: true}
			return nil
		})
	}
	_ = g.Wait()

	curves = make(map[weather.SourceID]weather.Series)
	for _, r := range results {
		if r.ok {
			curves[r.id] = r.series
		}
	}
	return curves, len(fcs) > 0 && len(curves) == 0
}

func pollOne(ctx context.Context, prov Provider) (weather.SourceSample, error) {
	type out struct {
		smp weather.SourceSample
		err error
	}
	ch := make(chan out, 1)
	go func() {
		smp, err := prov.Poll(ctx)
		ch <- out{smp, err}
	}()
	select {
	case <-ctx.Done():
		return weather.SourceSample{}, ctx.Err()
	case r := <-ch:
		if r.err == nil && !r.smp.Available {
			r.err = errNoValue
		}
		return r.smp, r.err
	}
}

func (p *Poller) fail(id weather.SourceID, op string, err error) {
	p.log.Warn().Err(err).Str("source", string(id)).Str("op", op).Msg("source unavailable")
	if p.OnError != nil {
		p.OnError(id, op, err)
	}
}
