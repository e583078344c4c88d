package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/weather-trader/internal/clock"
	"github.com/GoPolymarket/weather-trader/internal/weather"
)

func testConfig() Config {
	return Config{
		Phases: []Phase{
			{Name: "P1", Start: clock.Hour(13), ResonanceMin: 2, DurationMin: 2, DepthMinC: 0.5, RequiresGroundTruth: true, DurationMode: Consecutive},
			{Name: "P2", Start: clock.Hour(15), ResonanceMin: 2, DurationMin: 2, DepthMinC: 0.5, DurationMode: Consecutive},
			{Name: "P3", Start: clock.Hour(16), ResonanceMin: 1, DurationMin: 1, DepthMinC: 0.3, DurationMode: Cumulative},
		},
		ForceAt:       clock.Hour(17),
		ForceWindow:   3 * time.Minute,
		PriceFloor:    0.9,
		ResonanceMode: CountMode,
	}
}

var contracts = []Contract{
	{Label: "10°C", TokenID: "tok-10"},
	{Label: "11°C", TokenID: "tok-11"},
	{Label: "12°C or higher", TokenID: "tok-12"},
}

func ts(h, m int) time.Time { return time.Date(2026, 1, 10, h, m, 0, 0, time.UTC) }

func tick(now time.Time, noaa, om, mn weather.Temp, ask float64) Inputs {
	return Inputs{
		Now:      now,
		Location: time.UTC,
		Actuals: map[weather.SourceID]weather.Temp{
			"noaa": noaa, "open_meteo": om, "met_no": mn,
		},
		GroundTruth: "noaa",
		Unit:        Celsius,
		Contracts:   contracts,
		Quotes: map[string]Quote{
			"10°C": {Ask: 0.2, OK: true},
			"11°C": {Ask: ask, OK: true},
		},
	}
}

func c(v float64) weather.Temp { return weather.Celsius(v) }

func freshState() State { return NewState(clock.DayKey{Market: "london", Date: "2026-01-10"}) }

// warmUp records the day's maxima then runs one dropped tick.
func warmUp(t *testing.T, k *Kernel) State {
	t.Helper()
	st, sig := k.Evaluate(tick(ts(14, 0), c(11), c(11.2), c(10.8), 0.95), freshState())
	require.Equal(t, Wait, sig.Type)
	require.Equal(t, ReasonResonanceBuilding, sig.Reason)

	st, sig = k.Evaluate(tick(ts(14, 1), c(10.4), c(10.6), c(10.7), 0.95), st)
	require.Equal(t, Wait, sig.Type)
	require.Equal(t, ReasonDurationBuilding, sig.Reason)
	require.Equal(t, 2, sig.Resonance)
	return st
}

func TestEvaluateFiresBuyDrop(t *testing.T) {
	k := NewKernel(testConfig())
	st := warmUp(t, k)

	st, sig := k.Evaluate(tick(ts(14, 2), c(10.4), c(10.6), c(10.7), 0.95), st)
	assert.Equal(t, BuyDrop, sig.Type)
	assert.Equal(t, ReasonDropConfirmed, sig.Reason)
	assert.Equal(t, "tok-11", sig.Contract.TokenID)
	assert.Equal(t, int64(11), sig.Predicted)
	assert.InDelta(t, 0.95, sig.Ask, 1e-9)
	assert.False(t, st.Fired, "only a confirmed ack sets the fired flag")

	st.MarkFired(sig.Type)
	_, again := k.Evaluate(tick(ts(14, 3), c(10.2), c(10.4), c(10.5), 0.95), st)
	assert.Equal(t, SkipFired, again.Type)
}

func TestEvaluatePriceSkipDoesNotConsumeTrigger(t *testing.T) {
	k := NewKernel(testConfig())
	st := warmUp(t, k)

	st, sig := k.Evaluate(tick(ts(14, 2), c(10.4), c(10.6), c(10.7), 0.85), st)
	assert.Equal(t, SkipPrice, sig.Type)
	assert.Equal(t, ReasonAskBelowFloor, sig.Reason)
	assert.False(t, st.Fired)

	_, sig = k.Evaluate(tick(ts(14, 3), c(10.4), c(10.6), c(10.7), 0.93), st)
	assert.Equal(t, BuyDrop, sig.Type)
}

func TestEvaluateQuoteUnavailable(t *testing.T) {
	k := NewKernel(testConfig())
	st := warmUp(t, k)
	in := tick(ts(14, 2), c(10.4), c(10.6), c(10.7), 0.95)
	in.Quotes = nil
	st, sig := k.Evaluate(in, st)
	assert.Equal(t, SkipNoQuote, sig.Type)
	assert.False(t, st.Fired)
}

func TestEvaluateGuardVetoesDrop(t *testing.T) {
	k := NewKernel(testConfig())
	st := warmUp(t, k)
	in := tick(ts(14, 2), c(10.4), c(10.6), c(10.7), 0.95)
	in.GuardLocked = true
	in.GuardReason = "risky-source-count"
	_, sig := k.Evaluate(in, st)
	assert.Equal(t, Wait, sig.Type)
	assert.Equal(t, ReasonGuardLocked, sig.Reason)
	assert.Contains(t, sig.Detail, "risky-source-count")
}

func TestEvaluateFirstPhaseNeedsGroundTruth(t *testing.T) {
	k := NewKernel(testConfig())
	st, _ := k.Evaluate(tick(ts(14, 0), c(11), c(11.2), c(11.3), 0.95), freshState())

	st, sig := k.Evaluate(tick(ts(14, 1), weather.Missing, c(10.6), c(10.7), 0.95), st)
	assert.Equal(t, Wait, sig.Type)
	assert.Equal(t, ReasonGroundTruthMissing, sig.Reason)
	assert.Zero(t, st.Duration)

	_, sig = k.Evaluate(tick(ts(14, 2), c(10.9), c(10.6), c(10.7), 0.95), st)
	assert.Equal(t, ReasonGroundTruthNoVote, sig.Reason)
}

func TestEvaluateConsecutiveDurationResets(t *testing.T) {
	k := NewKernel(testConfig())
	st := warmUp(t, k)
	require.Equal(t, 1, st.Duration)

	st, sig := k.Evaluate(tick(ts(14, 2), c(10.9), c(11.0), c(10.7), 0.95), st)
	assert.Equal(t, ReasonResonanceBuilding, sig.Reason)
	assert.Zero(t, st.Duration)
}

func TestEvaluateCumulativeDurationToleratesMisses(t *testing.T) {
	cfg := testConfig()
	cfg.Phases = []Phase{{Name: "P", Start: clock.Hour(13), ResonanceMin: 2, DurationMin: 3, DepthMinC: 0.5, DurationMode: Cumulative}}
	k := NewKernel(cfg)

	st, _ := k.Evaluate(tick(ts(14, 0), c(11), c(11), c(11), 0.95), freshState())
	st, _ = k.Evaluate(tick(ts(14, 1), c(10.4), c(10.4), c(11), 0.95), st)
	assert.Equal(t, 1, st.Duration)

	st, _ = k.Evaluate(tick(ts(14, 2), c(10.4), c(10.8), c(11), 0.95), st)
	assert.Equal(t, 1, st.Duration, "one voter left keeps the streak")

	st, sig := k.Evaluate(tick(ts(14, 3), c(10.4), c(10.4), c(11), 0.95), st)
	assert.Equal(t, 2, st.Duration)
	assert.Equal(t, ReasonDurationBuilding, sig.Reason)

	st, _ = k.Evaluate(tick(ts(14, 4), c(11), c(11), c(11), 0.95), st)
	assert.Zero(t, st.Duration, "no voter ends the streak")
}

func TestEvaluateCumulativeResonanceWeighsDepth(t *testing.T) {
	cfg := testConfig()
	cfg.ResonanceMode = CumulativeMode
	cfg.Phases = []Phase{{Name: "P", Start: clock.Hour(13), ResonanceMin: 2, DurationMin: 1, DepthMinC: 0.5}}
	k := NewKernel(cfg)

	st, _ := k.Evaluate(tick(ts(14, 0), c(11), c(11), c(11), 0.95), freshState())
	_, sig := k.Evaluate(tick(ts(14, 1), c(10), c(11), c(11), 0.95), st)
	assert.Equal(t, 2, sig.Resonance)
	assert.Equal(t, BuyDrop, sig.Type)
}

func TestEvaluateBeforePhases(t *testing.T) {
	k := NewKernel(testConfig())
	_, sig := k.Evaluate(tick(ts(12, 0), c(9), c(9), c(9), 0.95), freshState())
	assert.Equal(t, Wait, sig.Type)
	assert.Equal(t, ReasonBeforePhases, sig.Reason)
}

func TestEvaluateForceFiresOnceAtCutoff(t *testing.T) {
	k := NewKernel(testConfig())
	st, _ := k.Evaluate(tick(ts(16, 50), c(11), c(11), c(11), 0.95), freshState())

	st, sig := k.Evaluate(tick(ts(17, 0), c(10.8), c(10.9), c(10.9), 0.95), st)
	require.Equal(t, BuyForce, sig.Type)
	assert.Equal(t, "tok-11", sig.Contract.TokenID)
	st.MarkFired(sig.Type)

	_, sig = k.Evaluate(tick(ts(17, 1), c(10.8), c(10.9), c(10.9), 0.95), st)
	assert.Equal(t, SkipFired, sig.Type)
}

func TestEvaluateForceUsesCurrentWhenAboveMax(t *testing.T) {
	k := NewKernel(testConfig())
	st, _ := k.Evaluate(tick(ts(16, 50), c(10.2), c(10), c(10), 0.95), freshState())
	_, sig := k.Evaluate(tick(ts(17, 0), c(11.6), c(10), c(10), 0.95), st)
	assert.Equal(t, int64(12), sig.Predicted)
	assert.Equal(t, "tok-12", sig.Contract.TokenID)
	assert.Equal(t, SkipNoQuote, sig.Type)
}

func TestEvaluateForceSuppressedWhileLocked(t *testing.T) {
	k := NewKernel(testConfig())
	in := tick(ts(17, 0), c(10.8), c(10.9), c(10.9), 0.95)
	in.GuardLocked = true
	st, sig := k.Evaluate(in, freshState())
	assert.Equal(t, Wait, sig.Type)
	assert.Equal(t, ReasonGuardLocked, sig.Reason)
	assert.False(t, st.Fired)
}

func TestEvaluateAfterForceWindow(t *testing.T) {
	k := NewKernel(testConfig())
	_, sig := k.Evaluate(tick(ts(17, 4), c(10.8), c(10.9), c(10.9), 0.95), freshState())
	assert.Equal(t, SkipCutoff, sig.Type)
	assert.Equal(t, ReasonForceWindowClosed, sig.Reason)
}

func TestEvaluateDoesNotMutatePrev(t *testing.T) {
	k := NewKernel(testConfig())
	prev := freshState()
	prev.SourceMax["noaa"] = 9
	_, _ = k.Evaluate(tick(ts(14, 0), c(11), c(11), c(11), 0.95), prev)
	assert.Equal(t, 9.0, prev.SourceMax["noaa"])
}

func TestEvaluateForceOnDSTTransitionDays(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	k := NewKernel(testConfig())
	for _, day := range []time.Time{
		time.Date(2026, 3, 8, 0, 0, 0, 0, ny),
		time.Date(2026, 11, 1, 0, 0, 0, 0, ny),
	} {
		date := day.Format("2006-01-02")
		in := tick(time.Date(day.Year(), day.Month(), day.Day(), 17, 0, 0, 0, ny), c(10.8), c(10.9), c(10.9), 0.95)
		in.Location = ny
		_, sig := k.Evaluate(in, NewState(clock.DayKey{Market: "nyc", Date: date}))
		assert.Equal(t, BuyForce, sig.Type, date)

		in.Now = in.Now.Add(4 * time.Minute)
		_, sig = k.Evaluate(in, NewState(clock.DayKey{Market: "nyc", Date: date}))
		assert.Equal(t, SkipCutoff, sig.Type, date)
	}
}
