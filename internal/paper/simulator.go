// Package paper fills buy orders locally instead of sending them to the
// venue. Replay always uses it; live mode uses it when trading_mode=paper.
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/weather-trader/internal/execution"
)

type Config struct {
	InitialBalanceUSDC float64 `yaml:"initial_balance_usdc" validate:"gte=0"`
	FeeBps             float64 `yaml:"fee_bps" validate:"gte=0"`
	SlippageBps        float64 `yaml:"slippage_bps" validate:"gte=0"`
	// RejectAll makes every submission fail. Used to exercise the failure path.
	RejectAll bool `yaml:"reject_all"`
}

type Snapshot struct {
	InitialBalanceUSDC float64            `json:"initial_balance_usdc"`
	BalanceUSDC        float64            `json:"balance_usdc"`
	FeesPaidUSDC       float64            `json:"fees_paid_usdc"`
	TotalVolumeUSDC    float64            `json:"total_volume_usdc"`
	TotalTrades        int                `json:"total_trades"`
	Shares             map[string]float64 `json:"shares"`
}

// Simulator is an execution.Submitter that fills at the order's ask.
type Simulator struct {
	mu sync.Mutex

	cfg     Config
	tracker *execution.Tracker

	sequence int64
	balance  decimal.Decimal
	fees     decimal.Decimal
	volume   decimal.Decimal
	trades   int
	shares   map[string]decimal.Decimal
}

func NewSimulator(cfg Config, tracker *execution.Tracker) *Simulator {
	if cfg.InitialBalanceUSDC <= 0 {
		cfg.InitialBalanceUSDC = 1000
	}
	return &Simulator{
		cfg:     cfg,
		tracker: tracker,
		balance: decimal.NewFromFloat(cfg.InitialBalanceUSDC),
		shares:  make(map[string]decimal.Decimal),
	}
}

func (s *Simulator) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	shares := make(map[string]float64, len(s.shares))
	for k, v := range s.shares {
		shares[k] = v.InexactFloat64()
	}
	return Snapshot{
		InitialBalanceUSDC: s.cfg.InitialBalanceUSDC,
		BalanceUSDC:        s.balance.InexactFloat64(),
		FeesPaidUSDC:       s.fees.InexactFloat64(),
		TotalVolumeUSDC:    s.volume.InexactFloat64(),
		TotalTrades:        s.trades,
		Shares:             shares,
	}
}

func (s *Simulator) Submit(_ context.Context, o execution.Order) (execution.Ack, error) {
	if s.cfg.RejectAll {
		return execution.Ack{}, fmt.Errorf("%w: paper rejection of %s", execution.ErrRejected, o.TokenID)
	}
	side := strings.ToUpper(strings.TrimSpace(o.Side))
	if side == "" {
		side = "BUY"
	}
	if side != "BUY" {
		return execution.Ack{}, fmt.Errorf("unsupported side: %s", side)
	}
	if o.AmountUSDC <= 0 {
		return execution.Ack{}, fmt.Errorf("amount_usdc must be positive")
	}
	if o.Price <= 0 || o.Price > 1 {
		return execution.Ack{}, fmt.Errorf("invalid execution price %.4f", o.Price)
	}

	amount := decimal.NewFromFloat(o.AmountUSDC)
	price := applySlippage(decimal.NewFromFloat(o.Price), s.cfg.SlippageBps)
	if price.GreaterThan(decimal.NewFromInt(1)) {
		price = decimal.NewFromInt(1)
	}
	fee := amount.Mul(decimal.NewFromFloat(s.cfg.FeeBps)).Div(decimal.NewFromInt(10000))
	size := amount.Div(price)

	s.mu.Lock()
	if amount.Add(fee).GreaterThan(s.balance) {
		have := s.balance
		s.mu.Unlock()
		return execution.Ack{}, fmt.Errorf("insufficient paper balance: need %s have %s", amount.Add(fee).StringFixed(4), have.StringFixed(4))
	}
	s.sequence++
	orderID := fmt.Sprintf("paper-order-%06d", s.sequence)
	s.balance = s.balance.Sub(amount).Sub(fee)
	s.shares[o.TokenID] = s.shares[o.TokenID].Add(size)
	s.fees = s.fees.Add(fee)
	s.volume = s.volume.Add(amount)
	s.trades++
	s.mu.Unlock()

	ack := execution.Ack{
		OrderID: orderID,
		Status:  "FILLED",
		Filled:  true,
		Price:   price.InexactFloat64(),
		Size:    size.Round(6).InexactFloat64(),
	}
	if s.tracker != nil {
		s.tracker.Register(o, ack)
	}
	return ack, nil
}

func applySlippage(price decimal.Decimal, bps float64) decimal.Decimal {
	if bps <= 0 {
		return price
	}
	return price.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(bps).Div(decimal.NewFromInt(10000))))
}
