package config

import (
	"fmt"
	"strings"
)

// Small-size caps applied by the live-small phase.
const (
	smallOrderUSDC       = 1
	smallMarketSpendUSDC = 1
	smallDailySpendUSDC  = 3
)

type rolloutPreset struct {
	mode   string
	dryRun bool
	small  bool
}

var rolloutPresets = map[string]rolloutPreset{
	"paper":        {mode: "paper"},
	"shadow":       {mode: "live", dryRun: true},
	"live-dryrun":  {mode: "live", dryRun: true},
	"live-dry-run": {mode: "live", dryRun: true},
	"live-small":   {mode: "live", small: true},
	"small":        {mode: "live", small: true},
	"live":         {mode: "live"},
}

// ApplyRolloutPhase overlays a staged rollout preset:
//   - paper: local fills, nothing reaches the venue
//   - shadow: live books and decisions, buys are logged and never placed
//   - live-small: live buys with the order amount and spend caps clamped
//   - live: configured values
func ApplyRolloutPhase(cfg *Config, phase string) error {
	p := strings.ToLower(strings.TrimSpace(phase))
	if p == "" {
		return nil
	}
	preset, ok := rolloutPresets[p]
	if !ok {
		return fmt.Errorf("unknown rollout phase %q (supported: paper|shadow|live-small|live)", phase)
	}
	cfg.TradingMode = preset.mode
	cfg.DryRun = preset.dryRun
	if preset.small {
		clampMaxFloat(&cfg.OrderAmountUSDC, smallOrderUSDC)
		clampMaxFloat(&cfg.Risk.MaxMarketSpendUSDC, smallMarketSpendUSDC)
		clampMaxFloat(&cfg.Risk.MaxDailySpendUSDC, smallDailySpendUSDC)
	}
	return nil
}

// clampMaxFloat lowers v to limit. A non-positive v means unlimited and is
// clamped too.
func clampMaxFloat(v *float64, limit float64) {
	if *v <= 0 || *v > limit {
		*v = limit
	}
}
