// Package strategy implements the phase-gated drop trigger: cross-source
// resonance, drop depth and duration, the force trigger at the daily cutoff,
// price protection and contract matching.
package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/GoPolymarket/weather-trader/internal/clock"
	"github.com/GoPolymarket/weather-trader/internal/weather"
)

// depthTolerance absorbs float noise in depth comparisons.
const depthTolerance = 1e-3

// DurationMode selects how the duration counter accumulates.
type DurationMode string

const (
	// Consecutive resets on any tick that misses the resonance bar.
	Consecutive DurationMode = "consecutive"
	// Cumulative keeps counting across misses while at least one source
	// still votes, and resets once no source votes.
	Cumulative DurationMode = "cumulative"
)

// ResonanceMode selects how votes are tallied.
type ResonanceMode string

const (
	// CountMode counts voting sources.
	CountMode ResonanceMode = "count"
	// CumulativeMode gives each voter one vote per depth_min of drop.
	CumulativeMode ResonanceMode = "cumulative"
)

type Phase struct {
	Name                string       `yaml:"name"`
	Start               clock.Time   `yaml:"start"`
	ResonanceMin        int          `yaml:"resonance_min" validate:"gte=1"`
	DurationMin         int          `yaml:"duration_min" validate:"gte=0"`
	DepthMinC           float64      `yaml:"depth_min_c" validate:"gt=0"`
	RequiresGroundTruth bool         `yaml:"requires_ground_truth"`
	DurationMode        DurationMode `yaml:"duration_mode" validate:"omitempty,oneof=consecutive cumulative"`
}

type Config struct {
	Phases        []Phase       `yaml:"phases" validate:"min=1,dive"`
	ForceAt       clock.Time    `yaml:"force_at"`
	ForceWindow   time.Duration `yaml:"force_window" validate:"gt=0"`
	PriceFloor    float64       `yaml:"price_floor" validate:"gte=0,lte=1"`
	ResonanceMode ResonanceMode `yaml:"resonance_mode" validate:"omitempty,oneof=count cumulative"`
}

func DefaultConfig() Config {
	return Config{
		Phases: []Phase{
			{Name: "P1", Start: clock.Hour(13), ResonanceMin: 3, DurationMin: 4, DepthMinC: 1.0, RequiresGroundTruth: true, DurationMode: Consecutive},
			{Name: "P2", Start: clock.MustParse("14:30"), ResonanceMin: 2, DurationMin: 3, DepthMinC: 1.0, DurationMode: Consecutive},
			{Name: "P3", Start: clock.Hour(16), ResonanceMin: 2, DurationMin: 1, DepthMinC: 0.5, DurationMode: Cumulative},
		},
		ForceAt:       clock.Hour(17),
		ForceWindow:   3 * time.Minute,
		PriceFloor:    0.9,
		ResonanceMode: CountMode,
	}
}

// Inputs is what the kernel reads on one tick.
type Inputs struct {
	Now      time.Time
	Location *time.Location
	// Actuals holds the current reading per source.
	Actuals     map[weather.SourceID]weather.Temp
	GroundTruth weather.SourceID

	GuardLocked bool
	GuardReason string

	Unit      Unit
	Contracts []Contract
	Quotes    map[string]Quote
}

// State is the per-(market, day) kernel state. Treat it as a value.
type State struct {
	Day       clock.DayKey
	Phase     int
	Resonance int
	Duration  int
	Fired     bool
	FiredType SignalType
	SourceMax map[weather.SourceID]float64
}

func NewState(day clock.DayKey) State {
	return State{Day: day, SourceMax: make(map[weather.SourceID]float64)}
}

// MarkFired records a confirmed buy. Nothing else sets Fired.
func (s *State) MarkFired(t SignalType) {
	s.Fired = true
	s.FiredType = t
}

// DayMax returns a source's highest reading today.
func (s State) DayMax(id weather.SourceID) weather.Temp {
	v, ok := s.SourceMax[id]
	if !ok {
		return weather.Missing
	}
	return weather.Celsius(v)
}

type Kernel struct {
	cfg Config
}

func NewKernel(cfg Config) *Kernel {
	if cfg.ResonanceMode == "" {
		cfg.ResonanceMode = CountMode
	}
	return &Kernel{cfg: cfg}
}

func (k *Kernel) Config() Config { return k.cfg }

// PhaseAt returns the 1-based phase active at tod, or 0.
func (k *Kernel) PhaseAt(tod clock.Time) int {
	idx := 0
	for i, p := range k.cfg.Phases {
		if tod >= p.Start {
			idx = i + 1
		}
	}
	if tod >= k.cfg.ForceAt {
		return 0
	}
	return idx
}

// Evaluate runs one tick. It never mutates prev.
func (k *Kernel) Evaluate(in Inputs, prev State) (State, Signal) {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	next := prev
	next.SourceMax = make(map[weather.SourceID]float64, len(prev.SourceMax)+len(in.Actuals))
	for id, v := range prev.SourceMax {
		next.SourceMax[id] = v
	}
	for id, t := range in.Actuals {
		if !t.OK {
			continue
		}
		if cur, ok := next.SourceMax[id]; !ok || t.C > cur {
			next.SourceMax[id] = t.C
		}
	}

	sig := Signal{Time: in.Now}
	if next.Fired {
		sig.Type, sig.Reason = SkipFired, ReasonAlreadyFired
		sig.Detail = fmt.Sprintf("%s already fired for %s", next.FiredType, next.Day)
		return next, sig
	}

	tod := clock.Of(in.Now, loc)
	if tod >= k.cfg.ForceAt {
		forceStart := k.cfg.ForceAt.On(in.Now, loc)
		if in.Now.Before(forceStart.Add(k.cfg.ForceWindow)) {
			return next, k.force(in, next, sig)
		}
		sig.Type, sig.Reason = SkipCutoff, ReasonForceWindowClosed
		sig.Detail = fmt.Sprintf("no trigger before %s", forceStart.Add(k.cfg.ForceWindow).Format("15:04"))
		return next, sig
	}

	phase := k.PhaseAt(tod)
	if phase != prev.Phase {
		next.Resonance, next.Duration = 0, 0
	}
	next.Phase = phase
	sig.Phase = phase
	if phase == 0 {
		sig.Type, sig.Reason = Wait, ReasonBeforePhases
		sig.Detail = fmt.Sprintf("first phase starts %s", k.cfg.Phases[0].Start)
		return next, sig
	}
	p := k.cfg.Phases[phase-1]

	resonance, gtVoted := k.tally(p, in.Actuals, next.SourceMax, in.GroundTruth)
	gt := in.Actuals[in.GroundTruth]
	meets := resonance >= p.ResonanceMin && (!p.RequiresGroundTruth || gtVoted)

	next.Resonance = resonance
	switch {
	case meets:
		next.Duration++
	case p.DurationMode == Cumulative && resonance > 0:
	default:
		next.Duration = 0
	}
	sig.Resonance, sig.Duration = next.Resonance, next.Duration

	if !meets {
		sig.Type = Wait
		switch {
		case p.RequiresGroundTruth && !gt.OK:
			sig.Reason = ReasonGroundTruthMissing
			sig.Detail = fmt.Sprintf("%s requires %s", p.Name, in.GroundTruth)
		case p.RequiresGroundTruth && resonance >= p.ResonanceMin:
			sig.Reason = ReasonGroundTruthNoVote
			sig.Detail = fmt.Sprintf("%s has not dropped %.1f from its max", in.GroundTruth, p.DepthMinC)
		default:
			sig.Reason = ReasonResonanceBuilding
			sig.Detail = fmt.Sprintf("%s resonance %d/%d", p.Name, resonance, p.ResonanceMin)
		}
		return next, sig
	}
	if next.Duration < p.DurationMin {
		sig.Type, sig.Reason = Wait, ReasonDurationBuilding
		sig.Detail = fmt.Sprintf("%s duration %d/%d", p.Name, next.Duration, p.DurationMin)
		return next, sig
	}
	if in.GuardLocked {
		sig.Type, sig.Reason = Wait, ReasonGuardLocked
		sig.Detail = "BUY_DROP vetoed: " + in.GuardReason
		return next, sig
	}

	predicted := next.DayMax(in.GroundTruth)
	if !predicted.OK {
		sig.Type, sig.Reason = Wait, ReasonNoPrediction
		sig.Detail = "no ground-truth maximum today"
		return next, sig
	}
	sig.Detail = fmt.Sprintf("%s resonance %d duration %d, day max %.1f", p.Name, resonance, next.Duration, predicted.C)
	return next, k.protect(BuyDrop, ReasonDropConfirmed, predicted.C, in, sig)
}

func (k *Kernel) force(in Inputs, st State, sig Signal) Signal {
	if in.GuardLocked {
		sig.Type, sig.Reason = Wait, ReasonGuardLocked
		sig.Detail = "BUY_FORCE vetoed: " + in.GuardReason
		return sig
	}
	predicted := st.DayMax(in.GroundTruth)
	if now := in.Actuals[in.GroundTruth]; now.OK && (!predicted.OK || now.C > predicted.C) {
		predicted = now
	}
	if !predicted.OK {
		sig.Type, sig.Reason = Wait, ReasonNoPrediction
		sig.Detail = "no ground-truth reading today"
		return sig
	}
	sig.Detail = fmt.Sprintf("force cutoff, day max %.1f", predicted.C)
	return k.protect(BuyForce, ReasonForceCutoff, predicted.C, in, sig)
}

// protect applies contract matching and the ask floor to a buy candidate.
// A downgraded candidate leaves the trigger intact for the next tick.
func (k *Kernel) protect(t SignalType, reason Reason, predictedC float64, in Inputs, sig Signal) Signal {
	contract, bucket, ok := Match(predictedC, in.Unit, in.Contracts)
	sig.Predicted = bucket
	if !ok {
		sig.Type, sig.Reason = SkipNoContract, ReasonContractUnmatched
		sig.Detail += fmt.Sprintf("; no contract for %d°%s", bucket, in.Unit)
		return sig
	}
	sig.Contract = contract
	q, ok := in.Quotes[contract.Label]
	if !ok || !q.OK {
		sig.Type, sig.Reason = SkipNoQuote, ReasonQuoteUnavailable
		return sig
	}
	sig.Ask = q.Ask
	if q.Ask+1e-9 < k.cfg.PriceFloor {
		sig.Type, sig.Reason = SkipPrice, ReasonAskBelowFloor
		sig.Detail += fmt.Sprintf("; ask %.3f < %.3f", q.Ask, k.cfg.PriceFloor)
		return sig
	}
	sig.Type, sig.Reason = t, reason
	return sig
}

func (k *Kernel) tally(p Phase, actuals map[weather.SourceID]weather.Temp, maxes map[weather.SourceID]float64, gtID weather.SourceID) (int, bool) {
	votes := 0
	gtVoted := false
	for id, t := range actuals {
		if !t.OK {
			continue
		}
		top, ok := maxes[id]
		if !ok {
			continue
		}
		depth := top - t.C
		if depth+depthTolerance < p.DepthMinC {
			continue
		}
		if id == gtID {
			gtVoted = true
		}
		if k.cfg.ResonanceMode == CumulativeMode {
			votes += int(math.Floor((depth + depthTolerance) / p.DepthMinC))
		} else {
			votes++
		}
	}
	return votes, gtVoted
}
