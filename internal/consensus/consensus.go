// Package consensus fuses concurrent per-source samples into one snapshot.
package consensus

import (
	"math"
	"sort"
	"time"

	"github.com/GoPolymarket/weather-trader/internal/weather"
)

// Band classifies the divergence of current readings. It is diagnostic only.
type Band string

const (
	BandUnknown    Band = "unknown"
	BandReliable   Band = "reliable"
	BandCaution    Band = "caution"
	BandUnreliable Band = "unreliable"
)

type Config struct {
	IsolationEnabled    bool    `yaml:"isolation_enabled"`
	IsolationThresholdC float64 `yaml:"isolation_threshold_c" validate:"gt=0"`
	CautionC            float64 `yaml:"caution_c" validate:"gt=0"`
	UnreliableC         float64 `yaml:"unreliable_c" validate:"gtefield=CautionC"`
}

func DefaultConfig() Config {
	return Config{
		IsolationEnabled:    false,
		IsolationThresholdC: 1.5,
		CautionC:            0.8,
		UnreliableC:         1.5,
	}
}

// Snapshot is the fused view of one tick.
type Snapshot struct {
	Time       time.Time
	Actual     weather.Temp
	Forecast   weather.Temp
	Divergence weather.Temp
	Band       Band
	Sources    map[weather.SourceID]weather.SourceSample
	// Excluded lists sources dropped from a mean by outlier isolation.
	Excluded       []weather.SourceID
	AvailableCount int
}

// HasAnchor reports whether any source produced a current reading.
func (s Snapshot) HasAnchor() bool { return s.Actual.OK }

// GroundTruth returns the ground-truth actual, if that source reported.
func (s Snapshot) GroundTruth() (weather.SourceID, weather.Temp) {
	for id, smp := range s.Sources {
		if smp.Kind == weather.KindGroundTruth {
			if smp.Available {
				return id, smp.Actual
			}
			return id, weather.Missing
		}
	}
	return "", weather.Missing
}

// Builder fuses samples. It holds only immutable configuration.
type Builder struct {
	cfg Config
}

func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg}
}

// Build fuses a partial source_id -> sample mapping.
func (b *Builder) Build(at time.Time, samples map[weather.SourceID]weather.SourceSample) Snapshot {
	snap := Snapshot{
		Time:    at,
		Band:    BandUnknown,
		Sources: make(map[weather.SourceID]weather.SourceSample, len(samples)),
	}

	var actuals, forecasts []reading
	for id, s := range samples {
		snap.Sources[id] = s
		if !s.Available {
			continue
		}
		if s.Actual.OK || s.Forecast1h.OK {
			snap.AvailableCount++
		}
		if s.Actual.OK {
			actuals = append(actuals, reading{id: id, v: s.Actual.C})
		}
		if s.Forecast1h.OK {
			forecasts = append(forecasts, reading{id: id, v: s.Forecast1h.C})
		}
	}
	sortReadings(actuals)
	sortReadings(forecasts)

	var excluded map[weather.SourceID]bool
	snap.Actual, excluded = b.mean(actuals, excluded)
	snap.Forecast, excluded = b.mean(forecasts, excluded)
	for id := range excluded {
		snap.Excluded = append(snap.Excluded, id)
	}
	sort.Slice(snap.Excluded, func(i, j int) bool { return snap.Excluded[i] < snap.Excluded[j] })

	if len(actuals) > 0 {
		d := spread(actuals)
		snap.Divergence = weather.Celsius(d)
		snap.Band = b.band(d)
	}
	return snap
}

type reading struct {
	id weather.SourceID
	v  float64
}

func sortReadings(rs []reading) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].id < rs[j].id })
}

func (b *Builder) mean(rs []reading, excluded map[weather.SourceID]bool) (weather.Temp, map[weather.SourceID]bool) {
	if len(rs) == 0 {
		return weather.Missing, excluded
	}
	if !b.cfg.IsolationEnabled || len(rs) < 2 {
		return weather.Celsius(avg(rs, nil)), excluded
	}

	drop := make(map[weather.SourceID]bool)
	total := 0.0
	for _, r := range rs {
		total += r.v
	}
	for _, r := range rs {
		others := (total - r.v) / float64(len(rs)-1)
		if math.Abs(r.v-others) > b.cfg.IsolationThresholdC {
			drop[r.id] = true
		}
	}
	if len(drop) == 0 || len(drop) == len(rs) {
		return weather.Celsius(avg(rs, nil)), excluded
	}
	if excluded == nil {
		excluded = make(map[weather.SourceID]bool)
	}
	for id := range drop {
		excluded[id] = true
	}
	return weather.Celsius(avg(rs, drop)), excluded
}

func avg(rs []reading, skip map[weather.SourceID]bool) float64 {
	sum, n := 0.0, 0
	for _, r := range rs {
		if skip[r.id] {
			continue
		}
		sum += r.v
		n++
	}
	return sum / float64(n)
}

// spread is the max pairwise absolute difference, i.e. max - min.
func spread(rs []reading) float64 {
	lo, hi := rs[0].v, rs[0].v
	for _, r := range rs[1:] {
		lo = math.Min(lo, r.v)
		hi = math.Max(hi, r.v)
	}
	return hi - lo
}

func (b *Builder) band(d float64) Band {
	switch {
	case d < b.cfg.CautionC:
		return BandReliable
	case d < b.cfg.UnreliableC:
		return BandCaution
	default:
		return BandUnreliable
	}
}
