// Package risk holds the last check before a buy reaches the venue.
package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GoPolymarket/weather-trader/internal/execution"
)

// ErrEmergencyStop is returned for buys while the emergency stop is active.
var ErrEmergencyStop = errors.New("emergency stop active")

// Config caps spend per trading day. Zero disables a limit.
type Config struct {
	MaxDailySpendUSDC  float64 `yaml:"max_daily_spend_usdc" validate:"gte=0"`
	MaxMarketSpendUSDC float64 `yaml:"max_market_spend_usdc" validate:"gte=0"`
}

// Submitter places a buy.
type Submitter interface {
	Submit(ctx context.Context, o execution.Order) (execution.Ack, error)
}

// Gate wraps a Submitter with the emergency stop and spend limits.
// A refused buy is returned as an error, so the strategy trigger stays armed.
type Gate struct {
	mu            sync.Mutex
	cfg           Config
	next          Submitter
	emergencyStop bool
	daily         map[string]float64 // day -> USDC reserved or spent
	perMarket     map[string]float64 // market|day -> USDC reserved or spent
}

func New(cfg Config, next Submitter) *Gate {
	return &Gate{
		cfg:       cfg,
		next:      next,
		daily:     make(map[string]float64),
		perMarket: make(map[string]float64),
	}
}

// Allow reports whether o would pass the gate right now.
func (g *Gate) Allow(o execution.Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allowLocked(o)
}

func (g *Gate) allowLocked(o execution.Order) error {
	if g.emergencyStop {
		return ErrEmergencyStop
	}
	if limit := g.cfg.MaxDailySpendUSDC; limit > 0 {
		if spent := g.daily[o.Day]; spent+o.AmountUSDC > limit {
			return fmt.Errorf("daily spend limit for %s: %.2f+%.2f > %.2f", o.Day, spent, o.AmountUSDC, limit)
		}
	}
	if limit := g.cfg.MaxMarketSpendUSDC; limit > 0 {
		if spent := g.perMarket[marketKey(o)]; spent+o.AmountUSDC > limit {
			return fmt.Errorf("market spend limit for %s on %s: %.2f+%.2f > %.2f", o.Market, o.Day, spent, o.AmountUSDC, limit)
		}
	}
	return nil
}

// Submit reserves the order amount, forwards the order and releases the
// reservation if the venue rejects it.
func (g *Gate) Submit(ctx context.Context, o execution.Order) (execution.Ack, error) {
	g.mu.Lock()
	if err := g.allowLocked(o); err != nil {
		g.mu.Unlock()
		return execution.Ack{}, err
	}
	g.reserveLocked(o, o.AmountUSDC)
	g.mu.Unlock()

	ack, err := g.next.Submit(ctx, o)
	if err != nil {
		g.mu.Lock()
		g.reserveLocked(o, -o.AmountUSDC)
		g.mu.Unlock()
	}
	return ack, err
}

func (g *Gate) reserveLocked(o execution.Order, amount float64) {
	g.daily[o.Day] += amount
	g.perMarket[marketKey(o)] += amount
	if g.daily[o.Day] <= 0 {
		delete(g.daily, o.Day)
	}
	if g.perMarket[marketKey(o)] <= 0 {
		delete(g.perMarket, marketKey(o))
	}
}

func (g *Gate) SetEmergencyStop(stop bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emergencyStop = stop
}

func (g *Gate) EmergencyStop() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.emergencyStop
}

// DailySpend returns the USDC committed across all markets on day.
func (g *Gate) DailySpend(day string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.daily[day]
}

func marketKey(o execution.Order) string { return o.Market + "|" + o.Day }
