package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GoPolymarket/weather-trader/internal/consensus"
	"github.com/GoPolymarket/weather-trader/internal/engine"
	"github.com/GoPolymarket/weather-trader/internal/guard"
	"github.com/GoPolymarket/weather-trader/internal/logging"
	"github.com/GoPolymarket/weather-trader/internal/paper"
	"github.com/GoPolymarket/weather-trader/internal/portfolio"
	"github.com/GoPolymarket/weather-trader/internal/risk"
	"github.com/GoPolymarket/weather-trader/internal/source"
	"github.com/GoPolymarket/weather-trader/internal/strategy"
	"github.com/GoPolymarket/weather-trader/internal/weather"
)

type Config struct {
	PrivateKey    string `yaml:"private_key"`
	APIKey        string `yaml:"api_key"`
	APISecret     string `yaml:"api_secret"`
	APIPassphrase string `yaml:"api_passphrase"`

	TickInterval    time.Duration `yaml:"tick_interval" validate:"gt=0"`
	PollTimeout     time.Duration `yaml:"poll_timeout" validate:"gt=0"`
	BookMaxAge      time.Duration `yaml:"book_max_age" validate:"gte=0"`
	DryRun          bool          `yaml:"dry_run"`
	TradingMode     string        `yaml:"trading_mode" validate:"omitempty,oneof=paper live"`
	OrderAmountUSDC float64       `yaml:"order_amount_usdc" validate:"gt=0"`

	Log       logging.Config   `yaml:"log"`
	Markets   []MarketConfig   `yaml:"markets" validate:"min=1,dive"`
	Consensus consensus.Config `yaml:"consensus"`
	Guard     guard.Config     `yaml:"guard"`
	Strategy  strategy.Config  `yaml:"strategy"`
	Paper     paper.Config     `yaml:"paper"`
	Risk      risk.Config      `yaml:"risk"`
	Portfolio portfolio.Config `yaml:"portfolio"`
	Telegram  TelegramConfig   `yaml:"telegram"`
	API       APIConfig        `yaml:"api"`
	Record    RecordConfig     `yaml:"record"`
}

// MarketConfig describes one daily-high market.
type MarketConfig struct {
	ID       string `yaml:"id" validate:"required"`
	Timezone string `yaml:"timezone" validate:"required"`
	Unit     string `yaml:"unit" validate:"oneof=C F"`
	// ConditionID enables the user order/trade stream in live mode.
	ConditionID string              `yaml:"condition_id"`
	Sources     []source.Spec       `yaml:"sources" validate:"min=2,dive"`
	Contracts   []strategy.Contract `yaml:"contracts" validate:"min=1"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	// LockCooldown suppresses repeated lock alerts per market and reason.
	LockCooldown time.Duration `yaml:"lock_cooldown" validate:"gte=0"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type RecordConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	CSVDir     string `yaml:"csv_dir"`
}

func Default() Config {
	return Config{
		TickInterval:    time.Minute,
		PollTimeout:     20 * time.Second,
		BookMaxAge:      5 * time.Minute,
		DryRun:          true,
		TradingMode:     "paper",
		OrderAmountUSDC: 5,
		Log:             logging.Config{Level: "info", Format: "console"},
		Consensus:       consensus.DefaultConfig(),
		Guard:           guard.DefaultConfig(),
		Strategy:        strategy.DefaultConfig(),
		Paper: paper.Config{
			InitialBalanceUSDC: 1000,
			FeeBps:             0,
			SlippageBps:        0,
		},
		Risk:      risk.Config{MaxDailySpendUSDC: 50, MaxMarketSpendUSDC: 10},
		Portfolio: portfolio.Config{SyncInterval: 10 * time.Minute},
		Telegram:  TelegramConfig{LockCooldown: 6 * time.Hour},
		API:       APIConfig{Addr: ":8080"},
		Record:    RecordConfig{SQLitePath: "data/decisions.db", CSVDir: "data/records"},
	}
}

func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) ApplyEnv() {
	if v := os.Getenv("POLYMARKET_PK"); v != "" {
		c.PrivateKey = v
	}
	if v := os.Getenv("POLYMARKET_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("POLYMARKET_API_SECRET"); v != "" {
		c.APISecret = v
	}
	if v := os.Getenv("POLYMARKET_API_PASSPHRASE"); v != "" {
		c.APIPassphrase = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("TRADER_DRY_RUN"); v != "" {
		c.DryRun = strings.EqualFold(v, "true") || v == "1"
	}
	if v := strings.TrimSpace(os.Getenv("TRADER_TRADING_MODE")); v != "" {
		c.TradingMode = strings.ToLower(v)
	}
}

// EngineConfig returns the decision engine section.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{Consensus: c.Consensus, Guard: c.Guard, Strategy: c.Strategy}
}

// Market returns the engine view of one market.
func (m MarketConfig) Market() (engine.Market, error) {
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return engine.Market{}, fmt.Errorf("market %s: timezone: %w", m.ID, err)
	}
	out := engine.Market{
		ID:        m.ID,
		Location:  loc,
		Sources:   make(map[weather.SourceID]weather.Kind, len(m.Sources)),
		Unit:      strategy.Unit(m.Unit),
		Contracts: m.Contracts,
	}
	for _, s := range m.Sources {
		kind, err := weather.ParseKind(s.Kind)
		if err != nil {
			return engine.Market{}, fmt.Errorf("market %s: source %s: %w", m.ID, s.ID, err)
		}
		out.Sources[weather.SourceID(s.ID)] = kind
		if kind == weather.KindGroundTruth {
			out.GroundTruth = weather.SourceID(s.ID)
		}
	}
	return out, nil
}

// FindMarket returns the market with the given ID.
func (c Config) FindMarket(id string) (MarketConfig, bool) {
	for _, m := range c.Markets {
		if m.ID == id {
			return m, true
		}
	}
	return MarketConfig{}, false
}
