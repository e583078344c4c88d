package guard

import (
	"fmt"
	"strings"
	"time"

	"github.com/GoPolymarket/weather-trader/internal/bias"
	"github.com/GoPolymarket/weather-trader/internal/clock"
	"github.com/GoPolymarket/weather-trader/internal/peak"
	"github.com/GoPolymarket/weather-trader/internal/weather"
)

// Assessment is the risk verdict for one forecast source.
type Assessment struct {
	Source weather.SourceID
	Risky  bool
	Bias   float64

	AfternoonPeak weather.Temp
	NightPeak     weather.Temp
	Rebound3h     weather.Temp
	// Future2hRise is the corrected 2h-ahead max minus the anchor.
	Future2hRise weather.Temp

	Window    peak.Window
	HasWindow bool
	Desc      string
}

// Assess classifies one source. It returns false when the curve holds no
// usable point for the local day.
func Assess(cfg Config, id weather.SourceID, raw weather.Series, in Inputs) (Assessment, bool) {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	dayStart := clock.StartOfDay(in.Now, loc)
	today := raw.Sorted().Between(dayStart, clock.Hour(24).On(in.Now, loc))
	offset, ok := bias.Offset(in.GroundTruth, today, in.Now)
	if !ok {
		return Assessment{}, false
	}
	corrected := bias.Correct(today, offset)
	a := Assessment{Source: id, Bias: offset}

	afternoon := corrected.Between(cfg.AfternoonStart.On(in.Now, loc), cfg.NightStart.On(in.Now, loc))
	night := corrected.Between(cfg.NightStart.On(in.Now, loc), cfg.NightEnd.On(in.Now, loc))
	if p, ok := afternoon.Max(); ok {
		a.AfternoonPeak = weather.Celsius(p.C)
	}

	var reasons []string
	if line, ok := riskLine(cfg, a.AfternoonPeak, in.DayMax); ok {
		w, found := peak.Detect(night, peak.Config{
			RiskLine:      line,
			MinPoints:     cfg.PeakMinPoints,
			MinProminence: cfg.PeakMinProminenceC,
		})
		if found {
			a.NightPeak = weather.Celsius(w.Peak)
			if a.AfternoonPeak.OK && w.Peak >= a.AfternoonPeak.C-cfg.NearDeltaC {
				reasons = append(reasons, fmt.Sprintf("night %.1f near afternoon %.1f", w.Peak, a.AfternoonPeak.C))
			}
			if in.DayMax.OK && w.Peak >= in.DayMax.C-cfg.NewHighDeltaC {
				reasons = append(reasons, fmt.Sprintf("night %.1f near day max %.1f", w.Peak, in.DayMax.C))
			}
			if len(reasons) > 0 {
				a.Window, a.HasWindow = w, true
			}
		}
	}

	ahead3 := corrected.Between(in.Now, in.Now.Add(3*time.Hour+time.Nanosecond))
	if p, ok := ahead3.Max(); ok {
		rise := p.C - in.GroundTruth.C
		a.Rebound3h = weather.Celsius(rise)
		if rise >= cfg.Rebound3hC {
			reasons = append(reasons, fmt.Sprintf("rebound +%.1f within 3h", rise))
			if !a.HasWindow {
				a.Window = peak.Window{
					Start:    ahead3[0].Time,
					End:      ahead3[len(ahead3)-1].Time,
					Peak:     p.C,
					PeakTime: p.Time,
					Floor:    in.GroundTruth.C,
					Anchor:   p.Time,
					Points:   len(ahead3),
				}
				a.HasWindow = true
			}
		}
	}

	ahead2 := corrected.Between(in.Now, in.Now.Add(2*time.Hour+time.Nanosecond))
	if p, ok := ahead2.Max(); ok {
		a.Future2hRise = weather.Celsius(p.C - in.GroundTruth.C)
	}

	a.Risky = len(reasons) > 0
	if a.Risky {
		a.Desc = strings.Join(reasons, "; ")
	} else {
		a.Desc = "clear"
	}
	return a, true
}

// riskLine is the lowest line that satisfies either night-peak rule.
func riskLine(cfg Config, afternoon, dayMax weather.Temp) (float64, bool) {
	switch {
	case afternoon.OK && dayMax.OK:
		return min(afternoon.C-cfg.NearDeltaC, dayMax.C-cfg.NewHighDeltaC), true
	case afternoon.OK:
		return afternoon.C - cfg.NearDeltaC, true
	case dayMax.OK:
		return dayMax.C - cfg.NewHighDeltaC, true
	}
	return 0, false
}
