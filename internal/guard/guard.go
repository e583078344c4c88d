// Package guard implements the Forecast Guard: per-source reversal risk
// classification from bias-corrected forecast curves, and the aggregate
// lock/unlock state machine that vetoes buy signals.
//
// Step is pure. Drivers own the State and pass it back on every tick.
package guard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/GoPolymarket/weather-trader/internal/clock"
	"github.com/GoPolymarket/weather-trader/internal/peak"
	"github.com/GoPolymarket/weather-trader/internal/weather"
)

// LockReason enumerates why the guard is locked.
type LockReason string

const (
	ReasonNone              LockReason = ""
	ReasonRiskySources      LockReason = "risky-source-count"
	ReasonNoAnchor          LockReason = "no-anchor"
	ReasonNoForecastSources LockReason = "no-forecast-sources"
	ReasonFetchFailed       LockReason = "guard-fetch-failed"
)

// Transition reports a lock edge produced by a step.
type Transition int

const (
	NoTransition Transition = iota
	Locked
	Unlocked
)

// minRiskThreshold is the floor applied to RiskSourceThreshold.
const minRiskThreshold = 2

type Config struct {
	RecalcInterval time.Duration `yaml:"recalc_interval" validate:"gt=0"`
	Cutover        clock.Time    `yaml:"cutover"`
	AfternoonStart clock.Time    `yaml:"afternoon_start"`
	NightStart     clock.Time    `yaml:"night_start" validate:"gtfield=AfternoonStart"`
	NightEnd       clock.Time    `yaml:"night_end" validate:"gtfield=NightStart"`

	NearDeltaC         float64 `yaml:"near_delta_c" validate:"gte=0"`
	NewHighDeltaC      float64 `yaml:"new_high_delta_c" validate:"gte=0"`
	Rebound3hC         float64 `yaml:"rebound_3h_c" validate:"gt=0"`
	PeakMinPoints      int     `yaml:"peak_min_points" validate:"gte=1"`
	PeakMinProminenceC float64 `yaml:"peak_min_prominence_c" validate:"gte=0"`

	RiskSourceThreshold int  `yaml:"risk_source_threshold"`
	FailSafe            bool `yaml:"fail_safe"`
	AnchorLockStreak    int  `yaml:"anchor_lock_streak"`
	AlertDebounce       int  `yaml:"alert_debounce"`

	UnlockAnchorMargin   time.Duration `yaml:"unlock_anchor_margin" validate:"gte=0"`
	UnlockMinDecreases   int           `yaml:"unlock_min_decreases" validate:"gte=1"`
	UnlockGroundDropC    float64       `yaml:"unlock_ground_drop_c" validate:"gte=0"`
	UnlockAuxDropC       float64       `yaml:"unlock_aux_drop_c" validate:"gte=0"`
	UnlockCeilingC       float64       `yaml:"unlock_ceiling_c"`
	UnlockMinCoolSources int           `yaml:"unlock_min_cool_sources" validate:"gte=1"`
}

func DefaultConfig() Config {
	return Config{
		RecalcInterval:       1800 * time.Second,
		Cutover:              clock.Hour(12),
		AfternoonStart:       clock.Hour(12),
		NightStart:           clock.Hour(17),
		NightEnd:             clock.Hour(24),
		NearDeltaC:           1.5,
		NewHighDeltaC:        0.5,
		Rebound3hC:           1.0,
		PeakMinPoints:        2,
		PeakMinProminenceC:   0.3,
		RiskSourceThreshold:  2,
		FailSafe:             true,
		AnchorLockStreak:     3,
		AlertDebounce:        1,
		UnlockAnchorMargin:   30 * time.Minute,
		UnlockMinDecreases:   3,
		UnlockGroundDropC:    0.5,
		UnlockAuxDropC:       0.3,
		UnlockCeilingC:       0.2,
		UnlockMinCoolSources: 2,
	}
}

// Threshold returns the effective risky-source threshold.
func (c Config) Threshold() int {
	if c.RiskSourceThreshold < minRiskThreshold {
		return minRiskThreshold
	}
	return c.RiskSourceThreshold
}

func (c Config) anchorStreak() int {
	if c.AnchorLockStreak < 1 {
		return 1
	}
	return c.AnchorLockStreak
}

func (c Config) alertDebounce() int {
	if c.AlertDebounce < 1 {
		return 1
	}
	return c.AlertDebounce
}

// Inputs is everything one guard step reads.
type Inputs struct {
	Now      time.Time
	Location *time.Location
	// GroundTruth is the anchor reading for this tick.
	GroundTruth weather.Temp
	// DayMax is the highest ground-truth reading seen today.
	DayMax weather.Temp
	// Forecasts holds raw curves per forecast source; read only on recompute.
	Forecasts map[weather.SourceID]weather.Series
	// FetchFailed marks a total failure of the forecast collection.
	FetchFailed bool

	GroundHistory []float64
	AuxHistories  map[weather.SourceID][]float64
}

// State is the guard state of one market. Treat it as a value.
type State struct {
	Locked bool
	Reason LockReason

	RiskLocked       bool
	RiskReason       LockReason
	RiskySources     []weather.SourceID
	RiskyCount       int
	AvailableSources int
	LastRecalc       time.Time

	AnchorMissStreak int
	AnchorLocked     bool
	AlertStreak      int

	// Window is the risk window whose anchor gates unlocking.
	Window    peak.Window
	HasWindow bool

	Assessments []Assessment
}

// Result is the outcome of one step.
type Result struct {
	State      State
	Recomputed bool
	Transition Transition
	// Alert is set once per lock episode, after AlertDebounce locked steps.
	Alert bool
}

// Active reports whether the guard evaluates at now.
func (c Config) Active(now time.Time, loc *time.Location) bool {
	return clock.Of(now, loc) >= c.Cutover
}

// Due reports whether a step at now will recompute forecast risk.
func Due(cfg Config, prev State, now time.Time, loc *time.Location) bool {
	if !cfg.Active(now, loc) {
		return false
	}
	return prev.LastRecalc.IsZero() || now.Sub(prev.LastRecalc) >= cfg.RecalcInterval
}

// Step advances the guard by one tick. Forecast risk is recomputed only at
// recompute boundaries; the anchor-miss streak and anchor lock move on every
// active tick.
func Step(cfg Config, in Inputs, prev State) Result {
	if in.Location == nil {
		in.Location = time.UTC
	}
	if !cfg.Active(in.Now, in.Location) {
		return Result{State: prev}
	}

	next := prev
	res := Result{}

	if !in.GroundTruth.OK {
		next.AnchorMissStreak++
		next.AnchorLocked = cfg.FailSafe && next.AnchorMissStreak >= cfg.anchorStreak()
	} else {
		next.AnchorMissStreak = 0
		next.AnchorLocked = false
		if Due(cfg, prev, in.Now, in.Location) {
			next = recompute(cfg, in, next)
			res.Recomputed = true
		}
	}

	next.Locked = next.RiskLocked || next.AnchorLocked
	switch {
	case next.AnchorLocked:
		next.Reason = ReasonNoAnchor
	case next.RiskLocked:
		next.Reason = next.RiskReason
	default:
		next.Reason = ReasonNone
	}

	switch {
	case !next.Locked:
		next.AlertStreak = 0
	case prev.Locked && prev.Reason == next.Reason:
		next.AlertStreak++
	default:
		next.AlertStreak = 1
	}
	res.Alert = next.Locked && next.AlertStreak == cfg.alertDebounce()

	switch {
	case next.Locked && !prev.Locked:
		res.Transition = Locked
	case !next.Locked && prev.Locked:
		res.Transition = Unlocked
	}
	res.State = next
	return res
}

func recompute(cfg Config, in Inputs, st State) State {
	st.LastRecalc = in.Now

	assessments, available := assessAll(cfg, in)
	fetchFailed := in.FetchFailed
	if fetchFailed {
		assessments, available = nil, 0
	}
	st.Assessments = assessments
	st.AvailableSources = available

	st.RiskySources = st.RiskySources[:0:0]
	var newest peak.Window
	hasNewest := false
	for _, a := range assessments {
		if !a.Risky {
			continue
		}
		st.RiskySources = append(st.RiskySources, a.Source)
		if a.HasWindow && (!hasNewest || a.Window.Anchor.After(newest.Anchor)) {
			newest, hasNewest = a.Window, true
		}
	}
	st.RiskyCount = len(st.RiskySources)

	switch {
	case fetchFailed && !cfg.FailSafe:
		st.RiskLocked = false
		st.RiskReason = ReasonNone
		st.HasWindow = false
		st.Window = peak.Window{}
		return st
	case st.RiskyCount >= cfg.Threshold():
		st.RiskLocked = true
		st.RiskReason = ReasonRiskySources
		if hasNewest && (!st.HasWindow || newest.Anchor.After(st.Window.Anchor)) {
			st.Window, st.HasWindow = newest, true
		}
	case available == 0 && cfg.FailSafe:
		st.RiskLocked = true
		st.RiskReason = ReasonNoForecastSources
		if fetchFailed {
			st.RiskReason = ReasonFetchFailed
		}
	}

	if st.RiskLocked && canUnlock(cfg, in, st) {
		st.RiskLocked = false
		st.RiskReason = ReasonNone
		st.HasWindow = false
		st.Window = peak.Window{}
	}
	return st
}

func assessAll(cfg Config, in Inputs) ([]Assessment, int) {
	ids := make([]weather.SourceID, 0, len(in.Forecasts))
	for id := range in.Forecasts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []Assessment
	for _, id := range ids {
		a, ok := Assess(cfg, id, in.Forecasts[id], in)
		if !ok {
			continue
		}
		out = append(out, a)
	}
	return out, len(out)
}

// canUnlock requires every unlock condition in the same evaluation.
func canUnlock(cfg Config, in Inputs, st State) bool {
	if st.HasWindow && in.Now.Before(st.Window.Anchor.Add(cfg.UnlockAnchorMargin)) {
		return false
	}
	if !Declining(in.GroundHistory, cfg.UnlockMinDecreases, cfg.UnlockGroundDropC) {
		return false
	}
	auxOK := false
	for _, h := range in.AuxHistories {
		if Declining(h, cfg.UnlockMinDecreases, cfg.UnlockAuxDropC) {
			auxOK = true
			break
		}
	}
	if !auxOK {
		return false
	}
	cool := 0
	for _, a := range st.Assessments {
		if a.Future2hRise.OK && a.Future2hRise.C <= cfg.UnlockCeilingC {
			cool++
		}
	}
	return cool >= cfg.UnlockMinCoolSources
}

// Declining reports whether the last n steps of h are strict decreases
// totalling at least minDrop.
func Declining(h []float64, n int, minDrop float64) bool {
	if n < 1 || len(h) < n+1 {
		return false
	}
	tail := h[len(h)-n-1:]
	for i := 1; i < len(tail); i++ {
		if !(tail[i] < tail[i-1]) {
			return false
		}
	}
	return tail[0]-tail[len(tail)-1] >= minDrop-1e-9
}

// Describe renders the state for logs and notifications.
func (s State) Describe() string {
	if !s.Locked {
		return fmt.Sprintf("UNLOCKED risky=%d available=%d", s.RiskyCount, s.AvailableSources)
	}
	ids := make([]string, len(s.RiskySources))
	for i, id := range s.RiskySources {
		ids[i] = string(id)
	}
	desc := fmt.Sprintf("LOCKED (%s) risky=%d [%s] available=%d", s.Reason, s.RiskyCount, strings.Join(ids, ","), s.AvailableSources)
	if s.HasWindow {
		desc += fmt.Sprintf(" anchor=%s", s.Window.Anchor.Format(time.RFC3339))
	}
	return desc
}
