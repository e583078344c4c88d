package engine

import (
	"time"

	"github.com/GoPolymarket/weather-trader/internal/clock"
	"github.com/GoPolymarket/weather-trader/internal/guard"
	"github.com/GoPolymarket/weather-trader/internal/strategy"
	"github.com/GoPolymarket/weather-trader/internal/weather"
)

// historyLimit bounds the per-source reading histories.
const historyLimit = 12

// Market is the static metadata of one monitored market.
type Market struct {
	ID          string
	Location    *time.Location
	GroundTruth weather.SourceID
	Sources     map[weather.SourceID]weather.Kind
	Unit        strategy.Unit
	Contracts   []strategy.Contract
}

// Session is the mutable state of one market. It is owned by exactly one
// evaluation loop.
type Session struct {
	Market   Market
	Day      clock.DayKey
	Guard    guard.State
	Strategy strategy.State
	// History keeps distinct consecutive actual readings per source today.
	History map[weather.SourceID][]float64
	Last    Decision
}

func NewSession(m Market) *Session {
	if m.Location == nil {
		m.Location = time.UTC
	}
	return &Session{Market: m, History: make(map[weather.SourceID][]float64)}
}

// Rollover starts a new trading day. Guard, kernel state and histories
// are reset.
func (s *Session) Rollover(day clock.DayKey) {
	s.Day = day
	s.Guard = guard.State{}
	s.Strategy = strategy.NewState(day)
	s.History = make(map[weather.SourceID][]float64)
}

// MarkFired records a confirmed buy for the current day.
func (s *Session) MarkFired(t strategy.SignalType) {
	s.Strategy.MarkFired(t)
}

func (s *Session) observe(samples map[weather.SourceID]weather.SourceSample) {
	for id, smp := range samples {
		if !smp.Available || !smp.Actual.OK {
			continue
		}
		h := s.History[id]
		if n := len(h); n > 0 && h[n-1] == smp.Actual.C {
			continue
		}
		h = append(h, smp.Actual.C)
		if len(h) > historyLimit {
			h = h[len(h)-historyLimit:]
		}
		s.History[id] = h
	}
}

func (s *Session) auxHistories() map[weather.SourceID][]float64 {
	out := make(map[weather.SourceID][]float64)
	for id, h := range s.History {
		if id == s.Market.GroundTruth {
			continue
		}
		out[id] = h
	}
	return out
}
