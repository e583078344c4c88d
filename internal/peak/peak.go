// Package peak finds a sustained, prominent risk interval in a corrected
// forecast curve and anchors it at its trailing edge.
package peak

import (
	"time"

	"github.com/GoPolymarket/weather-trader/internal/weather"
)

const eps = 1e-9

type Config struct {
	RiskLine      float64
	MinPoints     int
	MinProminence float64
}

// Window is one qualifying risk interval.
type Window struct {
	Start    time.Time
	End      time.Time
	Peak     float64
	PeakTime time.Time
	// Floor is the lowest value of the window and the samples bordering it.
	Floor  float64
	Anchor time.Time
	Points int
}

func (w Window) Prominence() float64 { return w.Peak - w.Floor }

// Detect scans s (ordered by time) for runs of at least MinPoints
// consecutive samples at or above RiskLine. A run qualifies when its
// prominence reaches MinProminence. When several runs qualify the highest
// peak wins and ties go to the later run.
func Detect(s weather.Series, cfg Config) (Window, bool) {
	minPoints := cfg.MinPoints
	if minPoints < 1 {
		minPoints = 1
	}

	var best Window
	found := false
	for i := 0; i < len(s); {
		if s[i].C+eps < cfg.RiskLine {
			i++
			continue
		}
		j := i
		for j < len(s) && s[j].C+eps >= cfg.RiskLine {
			j++
		}
		if j-i >= minPoints {
			w := measure(s, i, j, cfg.MinProminence)
			if w.Prominence()+eps >= cfg.MinProminence && (!found || w.Peak+eps >= best.Peak) {
				best = w
				found = true
			}
		}
		i = j
	}
	return best, found
}

// measure builds the window for s[i:j].
func measure(s weather.Series, i, j int, prominence float64) Window {
	w := Window{
		Start:    s[i].Time,
		End:      s[j-1].Time,
		Peak:     s[i].C,
		PeakTime: s[i].Time,
		Floor:    s[i].C,
		Anchor:   s[i].Time,
		Points:   j - i,
	}
	if i > 0 && s[i-1].C < w.Floor {
		w.Floor = s[i-1].C
	}
	if j < len(s) && s[j].C < w.Floor {
		w.Floor = s[j].C
	}

	tol := prominence
	if tol < eps {
		tol = eps
	}
	for k := i; k < j; k++ {
		p := s[k]
		if p.C < w.Floor {
			w.Floor = p.C
		}
		if p.C > w.Peak+eps {
			w.Peak = p.C
			w.PeakTime = p.Time
		}
		if p.C+tol >= w.Peak {
			w.Anchor = p.Time
		}
	}
	return w
}
