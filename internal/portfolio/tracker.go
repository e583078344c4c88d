// Package portfolio follows bought contracts from placement to settlement.
//
// Positions come from the execution tracker. Resolution is read from the
// Gamma API once a market closes with binary outcome prices, and redemption
// is inferred from the Data API when a wallet address is configured.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/data"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/gamma"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/GoPolymarket/weather-trader/internal/execution"
)

// Status is the lifecycle stage of a position.
type Status string

const (
	Pending  Status = "PENDING"
	Filled   Status = "FILLED"
	Win      Status = "WIN"
	Loss     Status = "LOSS"
	Redeemed Status = "REDEEMED"
)

// Settled reports whether the market behind the position has resolved.
func (s Status) Settled() bool { return s == Win || s == Loss || s == Redeemed }

const (
	// A market counts as resolved once one side trades at or above winPrice
	// and the other at or below losePrice.
	winPrice  = 0.999
	losePrice = 0.01

	resolveBatch = 50
	positionsCap = 500
)

// Config controls the settlement sync.
type Config struct {
	SyncInterval time.Duration `yaml:"sync_interval" validate:"gte=0"`
	// Wallet holds the positions on chain. Empty uses the signer address in
	// live mode and disables redemption tracking otherwise.
	Wallet string `yaml:"wallet" validate:"omitempty,eth_addr"`
}

// Position is one contract token we bought or tried to buy.
type Position struct {
	TokenID  string
	Market   string
	Day      string
	Label    string
	Status   Status
	Outcome  Status // WIN or LOSS once settled, kept after redemption
	Shares   float64
	AvgPrice float64
	Cost     float64
	Payout   float64
	PnL      float64

	SettledAt time.Time
}

// Summary totals positions by lifecycle stage.
type Summary struct {
	Pending     int     `json:"pending"`
	Open        int     `json:"open"`
	Won         int     `json:"won"`
	Lost        int     `json:"lost"`
	Redeemed    int     `json:"redeemed"`
	Cost        float64 `json:"settled_cost_usdc"`
	Payout      float64 `json:"payout_usdc"`
	RealizedPnL float64 `json:"realized_pnl_usdc"`
}

// Book is the source of placements and filled holdings.
type Book interface {
	Holdings() map[string]execution.Holding
	Placements(market string) []execution.Placement
}

// Tracker periodically reconciles the book with market resolution.
type Tracker struct {
	gamma gamma.Client
	data  data.Client
	user  common.Address
	book  Book
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time

	mu        sync.RWMutex
	positions map[string]*Position
	lastSync  time.Time

	// OnSettle is called once per position when its market resolves.
	OnSettle func(Position)
}

// NewTracker creates a Tracker. dataClient may be nil, and so may user be
// the zero address; redemption is then never detected.
func NewTracker(gammaClient gamma.Client, dataClient data.Client, user common.Address, book Book, cfg Config, log zerolog.Logger) *Tracker {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 10 * time.Minute
	}
	return &Tracker{
		gamma:     gammaClient,
		data:      dataClient,
		user:      user,
		book:      book,
		cfg:       cfg,
		log:       log.With().Str("component", "portfolio").Logger(),
		now:       time.Now,
		positions: make(map[string]*Position),
	}
}

// Sync refreshes positions from the book, settles resolved markets and
// marks redeemed ones.
func (t *Tracker) Sync(ctx context.Context) error {
	t.refresh()

	var errs []error
	if ids := t.tokens(func(p *Position) bool { return p.Status == Filled }); len(ids) > 0 {
		if err := t.resolve(ctx, ids); err != nil {
			errs = append(errs, fmt.Errorf("resolve: %w", err))
		}
	}
	if t.data != nil && t.user != (common.Address{}) {
		if ids := t.tokens(func(p *Position) bool { return p.Status == Win || p.Status == Loss }); len(ids) > 0 {
			if err := t.redeem(ctx, ids); err != nil {
				errs = append(errs, fmt.Errorf("redemption: %w", err))
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	t.mu.Lock()
	t.lastSync = t.now()
	t.mu.Unlock()
	return nil
}

func (t *Tracker) refresh() {
	placements := t.book.Placements("")
	holdings := t.book.Holdings()

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pl := range placements {
		if _, ok := t.positions[pl.TokenID]; !ok {
			t.positions[pl.TokenID] = &Position{
				TokenID: pl.TokenID,
				Market:  pl.Market,
				Day:     pl.Day,
				Label:   pl.Label,
				Status:  Pending,
			}
		}
	}
	for id, h := range holdings {
		if h.Shares <= 0 {
			continue
		}
		p, ok := t.positions[id]
		if !ok {
			p = &Position{TokenID: id, Market: h.Market, Day: h.Day, Label: h.Label}
			t.positions[id] = p
		}
		if p.Status.Settled() {
			continue
		}
		p.Status = Filled
		p.Shares, p.AvgPrice, p.Cost = h.Shares, h.AvgPrice, h.Cost
	}
}

func (t *Tracker) tokens(match func(*Position) bool) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for id, p := range t.positions {
		if match(p) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) resolve(ctx context.Context, ids []string) error {
	closed := true
	var errs []error
	for start := 0; start < len(ids); start += resolveBatch {
		end := min(start+resolveBatch, len(ids))
		markets, err := t.gamma.Markets(ctx, &gamma.MarketsRequest{ClobTokenIDs: ids[start:end], Closed: &closed})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, m := range markets {
			if !m.Closed {
				continue
			}
			for i, tok := range m.ParsedTokens() {
				if outcome, ok := Resolve(m, i); ok {
					t.settle(tok.TokenID, outcome)
				}
			}
		}
	}
	return errors.Join(errs...)
}

// Resolve returns WIN or LOSS for the i-th outcome token of a closed market.
// It reports false while the market has no winner flag and its prices are
// not yet binary.
func Resolve(m gamma.Market, i int) (Status, bool) {
	tokens := m.ParsedTokens()
	if i < 0 || i >= len(tokens) {
		return "", false
	}
	for _, tok := range tokens {
		if tok.Winner {
			return outcomeOf(tokens[i].Winner), true
		}
	}
	prices := gjson.Parse(m.OutcomePrices).Array()
	if len(prices) != 2 || i > 1 {
		return "", false
	}
	own, other := prices[i].Float(), prices[1-i].Float()
	switch {
	case own >= winPrice && other <= losePrice:
		return Win, true
	case other >= winPrice && own <= losePrice:
		return Loss, true
	}
	return "", false
}

func outcomeOf(won bool) Status {
	if won {
		return Win
	}
	return Loss
}

func (t *Tracker) settle(tokenID string, outcome Status) {
	t.mu.Lock()
	p, ok := t.positions[tokenID]
	if !ok || p.Status != Filled {
		t.mu.Unlock()
		return
	}
	p.Status, p.Outcome = outcome, outcome
	p.Payout = 0
	if outcome == Win {
		p.Payout = p.Shares
	}
	p.PnL = p.Payout - p.Cost
	p.SettledAt = t.now()
	settled := *p
	cb := t.OnSettle
	t.mu.Unlock()

	t.log.Info().
		Str("market", settled.Market).
		Str("day", settled.Day).
		Str("contract", settled.Label).
		Str("outcome", string(outcome)).
		Float64("pnl", settled.PnL).
		Msg("position settled")
	if cb != nil {
		cb(settled)
	}
}

// redeem marks settled positions REDEEMED once the wallet no longer holds
// their token.
func (t *Tracker) redeem(ctx context.Context, ids []string) error {
	limit := positionsCap
	held, err := t.data.Positions(ctx, &data.PositionsRequest{User: t.user, Limit: &limit})
	if err != nil {
		return err
	}
	still := make(map[string]bool, len(held))
	for _, h := range held {
		if h.Asset.Int != nil && h.Size.IsPositive() {
			still[h.Asset.String()] = true
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if p := t.positions[id]; p != nil && !still[id] && (p.Status == Win || p.Status == Loss) {
			p.Status = Redeemed
			t.log.Info().Str("market", p.Market).Str("day", p.Day).Str("contract", p.Label).Msg("position redeemed")
		}
	}
	return nil
}

// Positions returns every tracked position ordered by day, market and label.
func (t *Tracker) Positions() []Position {
	t.mu.RLock()
	out := make([]Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}
	t.mu.RUnlock()
	sortPositions(out)
	return out
}

// Position returns the position for a token.
func (t *Tracker) Position(tokenID string) (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[tokenID]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// DayPositions returns the positions bought for one market-day.
func (t *Tracker) DayPositions(market, day string) []Position {
	var out []Position
	for _, p := range t.Positions() {
		if p.Market == market && p.Day == day {
			out = append(out, p)
		}
	}
	return out
}

func (t *Tracker) Summary() Summary {
	return Summarize(t.Positions())
}

// Summarize totals a set of positions. Cost and payout count settled
// positions only.
func Summarize(ps []Position) Summary {
	var s Summary
	for _, p := range ps {
		switch p.Status {
		case Pending:
			s.Pending++
		case Filled:
			s.Open++
		case Redeemed:
			s.Redeemed++
		}
		if !p.Status.Settled() {
			continue
		}
		if p.Outcome == Win {
			s.Won++
		} else {
			s.Lost++
		}
		s.Cost += p.Cost
		s.Payout += p.Payout
		s.RealizedPnL += p.PnL
	}
	return s
}

// LastSync returns the time of the last fully successful sync.
func (t *Tracker) LastSync() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSync
}

// Run starts the periodic sync loop. Blocks until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	if err := t.Sync(ctx); err != nil {
		t.log.Warn().Err(err).Msg("initial settlement sync failed")
	}

	ticker := time.NewTicker(t.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.Sync(ctx); err != nil {
				t.log.Warn().Err(err).Msg("settlement sync failed")
			}
		}
	}
}

func sortPositions(ps []Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Day != ps[j].Day {
			return ps[i].Day < ps[j].Day
		}
		if ps[i].Market != ps[j].Market {
			return ps[i].Market < ps[j].Market
		}
		if ps[i].Label != ps[j].Label {
			return ps[i].Label < ps[j].Label
		}
		return ps[i].TokenID < ps[j].TokenID
	})
}
