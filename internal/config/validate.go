package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/GoPolymarket/weather-trader/internal/strategy"
	"github.com/GoPolymarket/weather-trader/internal/weather"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate runs struct tag rules and the cross-field checks tags cannot
// express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (%v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	mode := strings.ToLower(strings.TrimSpace(c.TradingMode))
	if mode == "live" && !c.DryRun && c.PrivateKey == "" {
		return errors.New("trading_mode=live requires private_key (or POLYMARKET_PK)")
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return errors.New("telegram.enabled requires bot_token and chat_id")
	}

	phases := c.Strategy.Phases
	for i := 1; i < len(phases); i++ {
		if phases[i].Start <= phases[i-1].Start {
			return fmt.Errorf("strategy.phases[%d] (%s) must start after %s", i, phases[i].Start, phases[i-1].Start)
		}
	}
	if n := len(phases); n > 0 && c.Strategy.ForceAt <= phases[n-1].Start {
		return fmt.Errorf("strategy.force_at %s must be after the last phase start %s", c.Strategy.ForceAt, phases[n-1].Start)
	}
	if c.Consensus.UnreliableC < c.Consensus.CautionC {
		return fmt.Errorf("consensus.unreliable_c (%.2f) must be >= caution_c (%.2f)", c.Consensus.UnreliableC, c.Consensus.CautionC)
	}

	seen := make(map[string]bool, len(c.Markets))
	for _, m := range c.Markets {
		if seen[m.ID] {
			return fmt.Errorf("duplicate market id %q", m.ID)
		}
		seen[m.ID] = true
		if err := m.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (m MarketConfig) validate() error {
	if _, err := time.LoadLocation(m.Timezone); err != nil {
		return fmt.Errorf("market %s: timezone %q: %w", m.ID, m.Timezone, err)
	}
	ids := make(map[string]bool, len(m.Sources))
	gt, forecasts := 0, 0
	for _, s := range m.Sources {
		if ids[s.ID] {
			return fmt.Errorf("market %s: duplicate source %q", m.ID, s.ID)
		}
		ids[s.ID] = true
		kind, err := weather.ParseKind(s.Kind)
		if err != nil {
			return fmt.Errorf("market %s: source %s: %w", m.ID, s.ID, err)
		}
		if kind == weather.KindGroundTruth {
			gt++
		} else {
			forecasts++
		}
	}
	if gt != 1 {
		return fmt.Errorf("market %s: exactly one ground_truth source required, got %d", m.ID, gt)
	}
	if forecasts == 0 {
		return fmt.Errorf("market %s: at least one forecast source required", m.ID)
	}

	labels := make(map[string]bool, len(m.Contracts))
	for _, c := range m.Contracts {
		if c.Label == "" || c.TokenID == "" {
			return fmt.Errorf("market %s: contracts need label and token_id", m.ID)
		}
		if labels[c.Label] {
			return fmt.Errorf("market %s: duplicate contract label %q", m.ID, c.Label)
		}
		labels[c.Label] = true
		if _, err := strategy.ParseLabel(c.Label); err != nil {
			return fmt.Errorf("market %s: %w", m.ID, err)
		}
	}
	return nil
}
