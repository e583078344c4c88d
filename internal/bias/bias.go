// Package bias aligns a source's forecast curve to the ground-truth anchor.
package bias

import (
	"time"

	"github.com/GoPolymarket/weather-trader/internal/weather"
)

// Offset returns ground_truth_now minus the source's forecast nearest to now.
func Offset(groundTruth weather.Temp, raw weather.Series, now time.Time) (float64, bool) {
	if !groundTruth.OK {
		return 0, false
	}
	p, ok := raw.Nearest(now)
	if !ok {
		return 0, false
	}
	return groundTruth.C - p.C, true
}

// Correct shifts every point by offset, holding it constant over the horizon.
func Correct(raw weather.Series, offset float64) weather.Series {
	out := make(weather.Series, len(raw))
	for i, p := range raw {
		out[i] = weather.Point{Time: p.Time, C: p.C + offset}
	}
	return out
}
