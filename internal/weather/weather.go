// Package weather holds the source-level data model shared by the decision
// engine: optional temperature readings, per-source samples and forecast
// series.
package weather

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// SourceID names one weather source, e.g. "noaa" or "open_meteo".
type SourceID string

// Kind tells the ground-truth anchor apart from forecast providers.
type Kind int

const (
	KindForecast Kind = iota
	KindGroundTruth
)

func (k Kind) String() string {
	if k == KindGroundTruth {
		return "ground_truth"
	}
	return "forecast"
}

// ParseKind accepts the config spelling of a source kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "ground_truth", "ground-truth", "groundtruth":
		return KindGroundTruth, nil
	case "forecast", "":
		return KindForecast, nil
	}
	return KindForecast, fmt.Errorf("unknown source kind %q", s)
}

// Temp is an optional Celsius reading. The zero value is unavailable.
type Temp struct {
	C  float64
	OK bool
}

// Celsius returns an available reading. NaN and Inf are unavailable.
func Celsius(v float64) Temp {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Temp{}
	}
	return Temp{C: v, OK: true}
}

// Missing is the unavailable reading.
var Missing = Temp{}

func (t Temp) String() string {
	if !t.OK {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", t.C)
}

// SourceSample is one poll result from one source.
type SourceSample struct {
	Source     SourceID
	Kind       Kind
	Time       time.Time
	Actual     Temp
	Forecast1h Temp
	Available  bool
}

// Unavailable builds the sample reported for a failed or timed-out poll.
func Unavailable(id SourceID, kind Kind, at time.Time) SourceSample {
	return SourceSample{Source: id, Kind: kind, Time: at}
}

// Point is one hourly forecast value.
type Point struct {
	Time time.Time
	C    float64
}

// Series is a forecast curve ordered by time.
type Series []Point

// Sorted returns a time-ordered copy.
func (s Series) Sorted() Series {
	out := make(Series, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// Nearest returns the point closest to t.
func (s Series) Nearest(t time.Time) (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	best := s[0]
	bestGap := absDuration(s[0].Time.Sub(t))
	for _, p := range s[1:] {
		if gap := absDuration(p.Time.Sub(t)); gap < bestGap {
			best, bestGap = p, gap
		}
	}
	return best, true
}

// Between returns the points with from <= time < to.
func (s Series) Between(from, to time.Time) Series {
	var out Series
	for _, p := range s {
		if !p.Time.Before(from) && p.Time.Before(to) {
			out = append(out, p)
		}
	}
	return out
}

// Max returns the highest value in the series.
func (s Series) Max() (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	best := s[0]
	for _, p := range s[1:] {
		if p.C >= best.C {
			best = p
		}
	}
	return best, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
