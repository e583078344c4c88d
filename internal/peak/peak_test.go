package peak

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/weather-trader/internal/weather"
)

var evening = time.Date(2026, 1, 10, 17, 0, 0, 0, time.UTC)

func hourly(values ...float64) weather.Series {
	s := make(weather.Series, len(values))
	for i, v := range values {
		s[i] = weather.Point{Time: evening.Add(time.Duration(i) * time.Hour), C: v}
	}
	return s
}

func hour(i int) time.Time { return evening.Add(time.Duration(i) * time.Hour) }

func TestDetectAnchorsAtTrailingEdgeOfPlateau(t *testing.T) {
	w, ok := Detect(hourly(7, 8, 9, 9, 8.5, 7, 6), Config{RiskLine: 8, MinPoints: 2, MinProminence: 0.3})
	require.True(t, ok)
	assert.Equal(t, hour(1), w.Start)
	assert.Equal(t, hour(4), w.End)
	assert.Equal(t, 9.0, w.Peak)
	assert.Equal(t, hour(2), w.PeakTime)
	assert.Equal(t, hour(3), w.Anchor, "anchor is the last sample within prominence of the peak")
	assert.Equal(t, 4, w.Points)
	assert.InDelta(t, 2.0, w.Prominence(), 1e-9)
}

func TestDetectLaterHigherPeakAdvancesAnchor(t *testing.T) {
	w, ok := Detect(hourly(8.2, 9.0, 8.6, 9.4, 8.1), Config{RiskLine: 8, MinPoints: 2, MinProminence: 0.3})
	require.True(t, ok)
	assert.Equal(t, 9.4, w.Peak)
	assert.Equal(t, hour(3), w.Anchor)
}

func TestDetectRequiresMinPoints(t *testing.T) {
	_, ok := Detect(hourly(7, 8.5, 7), Config{RiskLine: 8, MinPoints: 2, MinProminence: 0.1})
	assert.False(t, ok)
}

func TestDetectRequiresProminence(t *testing.T) {
	_, ok := Detect(hourly(8, 8, 8), Config{RiskLine: 8, MinPoints: 2, MinProminence: 0.3})
	assert.False(t, ok)

	w, ok := Detect(hourly(8, 8, 8), Config{RiskLine: 8, MinPoints: 2})
	require.True(t, ok)
	assert.Equal(t, hour(2), w.Anchor)
}

func TestDetectPicksHigherWindowAndLaterOnTie(t *testing.T) {
	cfg := Config{RiskLine: 8.5, MinPoints: 2, MinProminence: 0.5}

	w, ok := Detect(hourly(9, 9, 7, 9.5, 9.5, 7), cfg)
	require.True(t, ok)
	assert.Equal(t, 9.5, w.Peak)
	assert.Equal(t, hour(3), w.Start)

	w, ok = Detect(hourly(9, 9, 7, 9, 9), cfg)
	require.True(t, ok)
	assert.Equal(t, hour(3), w.Start)
	assert.Equal(t, hour(4), w.Anchor)
}

func TestDetectEmptySeries(t *testing.T) {
	_, ok := Detect(nil, Config{RiskLine: 0, MinPoints: 1})
	assert.False(t, ok)
}
