// Package engine glues the consensus builder, the forecast guard and the
// strategy kernel into one evaluation step per market tick. Live and replay
// drivers both go through Engine.Step and Pipeline.Process.
package engine

import (
	"time"

	"github.com/GoPolymarket/weather-trader/internal/clock"
	"github.com/GoPolymarket/weather-trader/internal/consensus"
	"github.com/GoPolymarket/weather-trader/internal/guard"
	"github.com/GoPolymarket/weather-trader/internal/portfolio"
	"github.com/GoPolymarket/weather-trader/internal/strategy"
	"github.com/GoPolymarket/weather-trader/internal/weather"
)

type Config struct {
	Consensus consensus.Config
	Guard     guard.Config
	Strategy  strategy.Config
}

// Tick is the raw input of one evaluation.
type Tick struct {
	Time    time.Time
	Samples map[weather.SourceID]weather.SourceSample
	// Forecasts is only read when the guard recomputes.
	Forecasts           map[weather.SourceID]weather.Series
	ForecastFetchFailed bool
	Quotes              map[string]strategy.Quote
}

// DaySummary describes a trading day closed by a rollover.
type DaySummary struct {
	Day       clock.DayKey
	Fired     bool
	FiredType strategy.SignalType
	DayMax    weather.Temp

	// Positions bought for the day with their settlement state. The engine
	// leaves it empty; the app fills it in from the portfolio tracker.
	Positions []portfolio.Position
}

// Settled reports whether every position of the day has resolved.
func (s DaySummary) Settled() bool {
	for _, p := range s.Positions {
		if !p.Status.Settled() {
			return false
		}
	}
	return len(s.Positions) > 0
}

// OrderOutcome is filled in by the pipeline after a buy.
type OrderOutcome struct {
	Submitted bool
	OrderID   string
	Status    string
	Err       string
}

// Decision is everything one tick produced.
type Decision struct {
	Market   string
	Time     time.Time
	Input    Tick
	Snapshot consensus.Snapshot

	Guard          guard.State
	GuardRecompute bool
	GuardEdge      guard.Transition
	GuardAlert     bool

	Strategy strategy.State
	Signal   strategy.Signal
	Order    OrderOutcome

	Closed *DaySummary
}

type Engine struct {
	builder *consensus.Builder
	guard   guard.Config
	kernel  *strategy.Kernel
}

func New(cfg Config) *Engine {
	return &Engine{
		builder: consensus.NewBuilder(cfg.Consensus),
		guard:   cfg.Guard,
		kernel:  strategy.NewKernel(cfg.Strategy),
	}
}

// GuardDue reports whether a step at now will read forecast curves.
func (e *Engine) GuardDue(s *Session, now time.Time) bool {
	st := s.Guard
	if clock.KeyFor(s.Market.ID, now, s.Market.Location) != s.Day {
		st = guard.State{}
	}
	return guard.Due(e.guard, st, now, s.Market.Location)
}

// Step evaluates one tick against the session. It performs no I/O.
func (e *Engine) Step(s *Session, t Tick) Decision {
	loc := s.Market.Location
	d := Decision{Market: s.Market.ID, Time: t.Time, Input: t}

	if day := clock.KeyFor(s.Market.ID, t.Time, loc); day != s.Day {
		if s.Day.Date != "" {
			d.Closed = &DaySummary{
				Day:       s.Day,
				Fired:     s.Strategy.Fired,
				FiredType: s.Strategy.FiredType,
				DayMax:    s.Strategy.DayMax(s.Market.GroundTruth),
			}
		}
		s.Rollover(day)
	}

	d.Snapshot = e.builder.Build(t.Time, t.Samples)
	s.observe(t.Samples)

	gtID := s.Market.GroundTruth
	gt := weather.Missing
	if smp, ok := t.Samples[gtID]; ok && smp.Available {
		gt = smp.Actual
	}
	dayMax := s.Strategy.DayMax(gtID)
	if gt.OK && (!dayMax.OK || gt.C > dayMax.C) {
		dayMax = gt
	}

	gres := guard.Step(e.guard, guard.Inputs{
		Now:           t.Time,
		Location:      loc,
		GroundTruth:   gt,
		DayMax:        dayMax,
		Forecasts:     t.Forecasts,
		FetchFailed:   t.ForecastFetchFailed,
		GroundHistory: s.History[gtID],
		AuxHistories:  s.auxHistories(),
	}, s.Guard)
	s.Guard = gres.State
	d.Guard = gres.State
	d.GuardRecompute = gres.Recomputed
	d.GuardEdge = gres.Transition
	d.GuardAlert = gres.Alert

	actuals := make(map[weather.SourceID]weather.Temp, len(t.Samples))
	for id, smp := range t.Samples {
		if smp.Available {
			actuals[id] = smp.Actual
		}
	}
	st, sig := e.kernel.Evaluate(strategy.Inputs{
		Now:         t.Time,
		Location:    loc,
		Actuals:     actuals,
		GroundTruth: gtID,
		GuardLocked: s.Guard.Locked,
		GuardReason: string(s.Guard.Reason),
		Unit:        s.Market.Unit,
		Contracts:   s.Market.Contracts,
		Quotes:      t.Quotes,
	}, s.Strategy)
	s.Strategy = st
	d.Strategy = st
	d.Signal = sig

	s.Last = d
	return d
}
