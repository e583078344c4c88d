package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GoPolymarket/weather-trader/internal/clock"
	"github.com/GoPolymarket/weather-trader/internal/strategy"
	"github.com/GoPolymarket/weather-trader/internal/weather"
)

const examplePath = "../../configs/example.yaml"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg := Default()
	if !cfg.DryRun {
		t.Fatal("expected dry run true by default")
	}
	if cfg.TradingMode != "paper" {
		t.Fatalf("expected trading_mode=paper by default, got %q", cfg.TradingMode)
	}
	if cfg.TickInterval != time.Minute {
		t.Fatalf("expected tick_interval=1m, got %v", cfg.TickInterval)
	}
	if cfg.Guard.RecalcInterval != 30*time.Minute {
		t.Fatalf("expected guard.recalc_interval=30m, got %v", cfg.Guard.RecalcInterval)
	}
	if cfg.Strategy.ForceAt != clock.Hour(17) {
		t.Fatalf("expected force_at 17:00, got %s", cfg.Strategy.ForceAt)
	}
	if len(cfg.Strategy.Phases) != 3 {
		t.Fatalf("expected 3 default phases, got %d", len(cfg.Strategy.Phases))
	}
	if cfg.Telegram.LockCooldown != 6*time.Hour {
		t.Fatalf("expected 6h lock cooldown, got %v", cfg.Telegram.LockCooldown)
	}
	if cfg.Paper.InitialBalanceUSDC != 1000 {
		t.Fatalf("expected paper balance 1000, got %v", cfg.Paper.InitialBalanceUSDC)
	}
}

func TestLoadFromYAMLMergesDefaults(t *testing.T) {
	path := writeConfig(t, `
tick_interval: 30s
trading_mode: live
consensus:
  caution_c: 0.5
strategy:
  force_at: "16:30"
  phases:
    - {name: P1, start: "14:00", resonance_min: 2, duration_min: 2, depth_min_c: 0.8}
markets:
  - id: nyc
    timezone: America/New_York
    unit: F
    sources:
      - {id: wu, kind: ground_truth, type: static}
      - {id: om, kind: forecast, type: static}
    contracts:
      - {label: "80-81°F", token_id: "t1"}
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TickInterval != 30*time.Second {
		t.Fatalf("tick_interval: got %v", cfg.TickInterval)
	}
	if cfg.TradingMode != "live" {
		t.Fatalf("trading_mode: got %q", cfg.TradingMode)
	}
	if cfg.Consensus.CautionC != 0.5 {
		t.Fatalf("caution_c: got %v", cfg.Consensus.CautionC)
	}
	if cfg.Consensus.UnreliableC != 1.5 {
		t.Fatalf("expected unreliable_c default kept, got %v", cfg.Consensus.UnreliableC)
	}
	if cfg.Strategy.ForceAt != clock.MustParse("16:30") {
		t.Fatalf("force_at: got %s", cfg.Strategy.ForceAt)
	}
	if len(cfg.Strategy.Phases) != 1 || cfg.Strategy.Phases[0].Start != clock.Hour(14) {
		t.Fatalf("phases: got %+v", cfg.Strategy.Phases)
	}
	if cfg.PollTimeout != 20*time.Second {
		t.Fatalf("expected poll_timeout default kept, got %v", cfg.PollTimeout)
	}
	if len(cfg.Markets) != 1 || cfg.Markets[0].Unit != "F" {
		t.Fatalf("markets: got %+v", cfg.Markets)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := LoadFile(writeConfig(t, "markets: [unclosed")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	cfg, err := LoadFile(examplePath)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("example config invalid: %v", err)
	}
	m, ok := cfg.FindMarket("seoul")
	if !ok {
		t.Fatal("seoul market missing")
	}
	em, err := m.Market()
	if err != nil {
		t.Fatal(err)
	}
	if em.GroundTruth != "noaa" {
		t.Fatalf("ground truth: got %q", em.GroundTruth)
	}
	if em.Sources["open_meteo"] != weather.KindForecast {
		t.Fatal("open_meteo should be a forecast source")
	}
	if em.Unit != strategy.Celsius {
		t.Fatalf("unit: got %q", em.Unit)
	}
	if em.Location.String() != "Asia/Seoul" {
		t.Fatalf("location: got %s", em.Location)
	}
	if len(em.Contracts) != 5 {
		t.Fatalf("contracts: got %d", len(em.Contracts))
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("POLYMARKET_PK", "0xabc")
	t.Setenv("POLYMARKET_API_KEY", "key")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("TRADER_DRY_RUN", "false")
	t.Setenv("TRADER_TRADING_MODE", " LIVE ")

	cfg := Default()
	cfg.ApplyEnv()
	if cfg.PrivateKey != "0xabc" || cfg.APIKey != "key" {
		t.Fatalf("credentials not applied: %+v", cfg)
	}
	if cfg.Telegram.ChatID != "42" {
		t.Fatalf("chat id: got %q", cfg.Telegram.ChatID)
	}
	if cfg.DryRun {
		t.Fatal("expected dry_run=false from env")
	}
	if cfg.TradingMode != "live" {
		t.Fatalf("trading mode: got %q", cfg.TradingMode)
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := Default()
	cfg.Guard.FailSafe = false
	ec := cfg.EngineConfig()
	if ec.Guard.FailSafe {
		t.Fatal("guard section not carried")
	}
	if ec.Strategy.PriceFloor != cfg.Strategy.PriceFloor {
		t.Fatal("strategy section not carried")
	}
}
