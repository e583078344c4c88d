package config

import (
	"strings"
	"testing"

	"github.com/GoPolymarket/weather-trader/internal/clock"
	"github.com/GoPolymarket/weather-trader/internal/source"
	"github.com/GoPolymarket/weather-trader/internal/strategy"
)

func validConfig() Config {
	cfg := Default()
	cfg.Markets = []MarketConfig{{
		ID:       "london",
		Timezone: "Europe/London",
		Unit:     "C",
		Sources: []source.Spec{
			{ID: "wu", Kind: "ground_truth", Type: "static"},
			{ID: "om", Kind: "forecast", Type: "static"},
		},
		Contracts: []strategy.Contract{
			{Label: "15°C", TokenID: "a"},
			{Label: "16°C or higher", TokenID: "b"},
		},
	}}
	return cfg
}

func expectInvalid(t *testing.T, cfg Config, contains string) {
	t.Helper()
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error containing %q", contains)
	}
	if !strings.Contains(err.Error(), contains) {
		t.Fatalf("expected error containing %q, got: %v", contains, err)
	}
}

func TestValidateValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidateRequiresMarkets(t *testing.T) {
	expectInvalid(t, Default(), "Markets")
}

func TestValidateInvalidTradingMode(t *testing.T) {
	cfg := validConfig()
	cfg.TradingMode = "invalid-mode"
	expectInvalid(t, cfg, "TradingMode")
}

func TestValidateInvalidPaperConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Paper.FeeBps = -1
	expectInvalid(t, cfg, "FeeBps")
}

func TestValidateLiveNeedsKey(t *testing.T) {
	cfg := validConfig()
	cfg.TradingMode = "live"
	cfg.DryRun = false
	expectInvalid(t, cfg, "private_key")

	cfg.DryRun = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("live dry run should not need a key: %v", err)
	}
}

func TestValidateTelegramNeedsCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.Enabled = true
	expectInvalid(t, cfg, "telegram")
}

func TestValidatePhaseOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.Phases[1].Start = cfg.Strategy.Phases[0].Start
	expectInvalid(t, cfg, "must start after")

	cfg = validConfig()
	cfg.Strategy.ForceAt = clock.Hour(15)
	expectInvalid(t, cfg, "force_at")
}

func TestValidateConsensusBands(t *testing.T) {
	cfg := validConfig()
	cfg.Consensus.UnreliableC = 0.5
	expectInvalid(t, cfg, "UnreliableC")
}

func TestValidateGuardWindows(t *testing.T) {
	cfg := validConfig()
	cfg.Guard.NightStart = clock.Hour(11)
	expectInvalid(t, cfg, "NightStart")
}

func TestValidateMarketSources(t *testing.T) {
	cfg := validConfig()
	cfg.Markets[0].Sources[1].Kind = "ground_truth"
	expectInvalid(t, cfg, "exactly one ground_truth")

	cfg = validConfig()
	cfg.Markets[0].Sources = append(cfg.Markets[0].Sources, source.Spec{ID: "om", Type: "static"})
	expectInvalid(t, cfg, "duplicate source")

	cfg = validConfig()
	cfg.Markets[0].Sources[1].Type = "ftp"
	expectInvalid(t, cfg, "Type")
}

func TestValidateMarketMetadata(t *testing.T) {
	cfg := validConfig()
	cfg.Markets = append(cfg.Markets, cfg.Markets[0])
	expectInvalid(t, cfg, "duplicate market")

	cfg = validConfig()
	cfg.Markets[0].Timezone = "Mars/Olympus"
	expectInvalid(t, cfg, "timezone")

	cfg = validConfig()
	cfg.Markets[0].Contracts[0].Label = "sunny"
	expectInvalid(t, cfg, "london")

	cfg = validConfig()
	cfg.Markets[0].Contracts[1].Label = "15°C"
	expectInvalid(t, cfg, "duplicate contract")
}

func TestValidatePortfolioWallet(t *testing.T) {
	cfg := validConfig()
	cfg.Portfolio.Wallet = "not-an-address"
	expectInvalid(t, cfg, "Wallet")

	cfg.Portfolio.Wallet = "0x1234567890abcdef1234567890abcdef12345678"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid wallet, got %v", err)
	}
}
