package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/clobtypes"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/ws"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/data"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/gamma"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/GoPolymarket/weather-trader/internal/api"
	"github.com/GoPolymarket/weather-trader/internal/config"
	"github.com/GoPolymarket/weather-trader/internal/engine"
	"github.com/GoPolymarket/weather-trader/internal/execution"
	"github.com/GoPolymarket/weather-trader/internal/feed"
	"github.com/GoPolymarket/weather-trader/internal/metrics"
	"github.com/GoPolymarket/weather-trader/internal/paper"
	"github.com/GoPolymarket/weather-trader/internal/portfolio"
	"github.com/GoPolymarket/weather-trader/internal/risk"
	"github.com/GoPolymarket/weather-trader/internal/source"
	"github.com/GoPolymarket/weather-trader/internal/weather"
)

const (
	// processTimeout bounds submit and persist once a tick has been
	// evaluated. It is detached from shutdown.
	processTimeout  = 30 * time.Second
	resubscribeWait = 5 * time.Second
)

// Notifier receives every decision and decides what to alert on.
type Notifier interface {
	Decision(ctx context.Context, d engine.Decision) error
}

// SettlementNotifier is implemented by notifiers that report resolved
// positions. day is set once every position of that day has resolved.
type SettlementNotifier interface {
	Settlement(ctx context.Context, p portfolio.Position, day *engine.DaySummary) error
}

// Deps are the external collaborators of the app. Venue clients may be nil
// in paper mode without market data. Without Gamma, settlement is not
// tracked.
type Deps struct {
	CLOB     clob.Client
	WS       ws.Client
	Gamma    gamma.Client
	Data     data.Client
	Signer   auth.Signer
	HTTP     *http.Client
	Sink     engine.Sink
	Notifier Notifier
	Metrics  *metrics.Recorder
	Log      zerolog.Logger
}

type market struct {
	cfg    config.MarketConfig
	poller *source.Poller

	mu      sync.RWMutex
	session *engine.Session
}

type App struct {
	cfg  config.Config
	deps Deps
	log  zerolog.Logger

	engine   *engine.Engine
	pipeline *engine.Pipeline
	books    *feed.Books
	tracker   *execution.Tracker
	paperSim  *paper.Simulator
	portfolio *portfolio.Tracker
	markets   []*market

	daysMu    sync.Mutex
	unsettled map[string]engine.DaySummary // market|date -> closed day awaiting settlement

	gate        *risk.Gate
	tradingMode string
	now         func() time.Time

	mu      sync.RWMutex
	running bool
}

func New(cfg config.Config, deps Deps) (*App, error) {
	tradingMode := strings.ToLower(strings.TrimSpace(cfg.TradingMode))
	if tradingMode != "live" {
		tradingMode = "paper"
	}
	a := &App{
		cfg:         cfg,
		deps:        deps,
		log:         deps.Log.With().Str("component", "app").Logger(),
		engine:      engine.New(cfg.EngineConfig()),
		books:       feed.NewBooks(cfg.BookMaxAge),
		tracker:     execution.NewTracker(),
		tradingMode: tradingMode,
		now:         time.Now,
	}

	var sub engine.Submitter
	if tradingMode == "paper" {
		a.paperSim = paper.NewSimulator(cfg.Paper, a.tracker)
		sub = a.paperSim
	} else {
		sub = execution.NewLiveSubmitter(deps.CLOB, deps.Signer, a.tracker, cfg.DryRun)
	}
	a.gate = risk.New(cfg.Risk, sub)
	a.pipeline = engine.NewPipeline(a.engine, a.gate, deps.Sink, cfg.OrderAmountUSDC, deps.Log)

	if deps.Gamma != nil {
		var wallet common.Address
		switch {
		case cfg.Portfolio.Wallet != "":
			wallet = common.HexToAddress(cfg.Portfolio.Wallet)
		case tradingMode == "live" && deps.Signer != nil:
			wallet = deps.Signer.Address()
		}
		a.portfolio = portfolio.NewTracker(deps.Gamma, deps.Data, wallet, a.tracker, cfg.Portfolio, deps.Log)
		a.portfolio.OnSettle = a.onSettle
		a.unsettled = make(map[string]engine.DaySummary)
	}

	for _, mc := range cfg.Markets {
		em, err := mc.Market()
		if err != nil {
			return nil, err
		}
		providers := make([]source.Provider, 0, len(mc.Sources))
		for _, spec := range mc.Sources {
			p, err := source.Build(spec, source.Deps{
				HTTP:     deps.HTTP,
				Location: em.Location,
				Now:      func() time.Time { return a.now() },
			})
			if err != nil {
				return nil, fmt.Errorf("market %s: %w", mc.ID, err)
			}
			providers = append(providers, p)
		}
		poller := source.NewPoller(providers, cfg.PollTimeout, deps.Log.With().Str("market", mc.ID).Logger())
		if deps.Metrics != nil {
			id := mc.ID
			poller.OnError = func(src weather.SourceID, op string, _ error) {
				deps.Metrics.RecordSourceError(id, string(src), op)
			}
		}
		a.markets = append(a.markets, &market{cfg: mc, poller: poller, session: engine.NewSession(em)})
	}
	return a, nil
}

// Run drives every market loop and the venue streams until ctx ends.
func (a *App) Run(ctx context.Context) error {
	a.setRunning(true)
	defer a.setRunning(false)

	tokenIDs := a.tokenIDs()
	if a.deps.CLOB != nil {
		if err := a.books.Seed(ctx, a.fetchBook, tokenIDs); err != nil {
			a.log.Warn().Err(err).Msg("order book seed incomplete")
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.deps.WS != nil && len(tokenIDs) > 0 {
		g.Go(func() error { return a.streamBooks(ctx, tokenIDs) })
		if conds := a.conditionIDs(); a.tradingMode == "live" && len(conds) > 0 {
			g.Go(func() error { return a.streamUser(ctx, conds) })
		}
	}
	if a.portfolio != nil {
		g.Go(func() error { return a.portfolio.Run(ctx) })
	}
	for _, m := range a.markets {
		g.Go(func() error { return a.loop(ctx, m) })
	}
	a.log.Info().Int("markets", len(a.markets)).Str("mode", a.tradingMode).Bool("dry_run", a.cfg.DryRun).Msg("decision loops started")

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) loop(ctx context.Context, m *market) error {
	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()
	for {
		if _, err := a.tick(ctx, m); err != nil {
			a.log.Error().Err(err).Str("market", m.cfg.ID).Msg("tick failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick evaluates one market now.
func (a *App) Tick(ctx context.Context, marketID string) (engine.Decision, error) {
	for _, m := range a.markets {
		if m.cfg.ID == marketID {
			return a.tick(ctx, m)
		}
	}
	return engine.Decision{}, fmt.Errorf("unknown market %q", marketID)
}

func (a *App) tick(ctx context.Context, m *market) (engine.Decision, error) {
	start := time.Now()
	now := a.now()
	t := engine.Tick{
		Time:    now,
		Samples: m.poller.Poll(ctx),
		Quotes:  a.books.Quotes(m.cfg.Contracts),
	}

	m.mu.RLock()
	due := a.engine.GuardDue(m.session, now)
	m.mu.RUnlock()
	if due {
		t.Forecasts, t.ForecastFetchFailed = m.poller.FetchForecasts(ctx)
	}
	if ctx.Err() != nil {
		return engine.Decision{}, ctx.Err()
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processTimeout)
	defer cancel()
	m.mu.Lock()
	d, err := a.pipeline.Process(pctx, m.session, t)
	m.mu.Unlock()

	if d.Closed != nil {
		a.attachPositions(d.Closed)
	}
	if a.deps.Metrics != nil {
		a.deps.Metrics.RecordDecision(d)
		a.deps.Metrics.RecordTick(m.cfg.ID, time.Since(start).Seconds())
	}
	if a.deps.Notifier != nil {
		if nerr := a.deps.Notifier.Decision(pctx, d); nerr != nil {
			a.log.Warn().Err(nerr).Str("market", m.cfg.ID).Msg("notify failed")
		}
	}
	return d, err
}

// attachPositions fills in the positions of a closed day. A day with open
// positions is held until they all settle.
func (a *App) attachPositions(s *engine.DaySummary) {
	if a.portfolio == nil {
		return
	}
	a.daysMu.Lock()
	defer a.daysMu.Unlock()
	s.Positions = a.portfolio.DayPositions(s.Day.Market, s.Day.Date)
	if len(s.Positions) > 0 && !s.Settled() {
		a.unsettled[s.Day.Market+"|"+s.Day.Date] = *s
	}
}

func (a *App) onSettle(p portfolio.Position) {
	if a.deps.Metrics != nil {
		a.deps.Metrics.RecordSettlement(p.Market, string(p.Outcome), p.PnL)
	}

	var day *engine.DaySummary
	key := p.Market + "|" + p.Day
	a.daysMu.Lock()
	if s, ok := a.unsettled[key]; ok {
		s.Positions = a.portfolio.DayPositions(p.Market, p.Day)
		if s.Settled() {
			delete(a.unsettled, key)
			day = &s
		} else {
			a.unsettled[key] = s
		}
	}
	a.daysMu.Unlock()

	sn, ok := a.deps.Notifier.(SettlementNotifier)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()
	if err := sn.Settlement(ctx, p, day); err != nil {
		a.log.Warn().Err(err).Str("market", p.Market).Msg("settlement notify failed")
	}
}

func (a *App) fetchBook(ctx context.Context, tokenID string) (clobtypes.OrderBook, error) {
	book, err := a.deps.CLOB.OrderBook(ctx, &clobtypes.BookRequest{TokenID: tokenID})
	if err != nil {
		return clobtypes.OrderBook{}, err
	}
	return clobtypes.OrderBook(book), nil
}

func (a *App) streamBooks(ctx context.Context, tokenIDs []string) error {
	for {
		bookCh, err := a.deps.WS.SubscribeOrderbook(ctx, tokenIDs)
		if err != nil {
			a.log.Warn().Err(err).Msg("order book subscription failed")
		} else {
			for ev := range bookCh {
				a.books.Update(ev)
			}
			a.log.Warn().Msg("book channel closed, reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resubscribeWait):
		}
	}
}

func (a *App) streamUser(ctx context.Context, conditionIDs []string) error {
	orderCh, err := a.deps.WS.SubscribeUserOrders(ctx, conditionIDs)
	if err != nil {
		a.log.Warn().Err(err).Msg("user orders subscription failed")
	}
	tradeCh, err := a.deps.WS.SubscribeUserTrades(ctx, conditionIDs)
	if err != nil {
		a.log.Warn().Err(err).Msg("user trades subscription failed")
	}
	for orderCh != nil || tradeCh != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-orderCh:
			if !ok {
				orderCh = nil
				continue
			}
			a.tracker.ProcessOrderEvent(ev)
		case ev, ok := <-tradeCh:
			if !ok {
				tradeCh = nil
				continue
			}
			a.tracker.ProcessTradeEvent(ev)
		}
	}
	return nil
}

func (a *App) Shutdown(_ context.Context) {
	if a.deps.WS != nil {
		_ = a.deps.WS.Close()
	}
	a.log.Info().
		Int("fills", a.tracker.TotalFills()).
		Int("placements", len(a.tracker.Placements(""))).
		Msg("session complete")
}

func (a *App) tokenIDs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range a.markets {
		for _, c := range m.cfg.Contracts {
			if !seen[c.TokenID] {
				seen[c.TokenID] = true
				out = append(out, c.TokenID)
			}
		}
	}
	return out
}

func (a *App) conditionIDs() []string {
	var out []string
	for _, m := range a.markets {
		if m.cfg.ConditionID != "" {
			out = append(out, m.cfg.ConditionID)
		}
	}
	return out
}

func (a *App) setRunning(v bool) {
	a.mu.Lock()
	a.running = v
	a.mu.Unlock()
}

// IsRunning reports whether the decision loops are active.
func (a *App) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

func (a *App) IsDryRun() bool      { return a.cfg.DryRun }
func (a *App) TradingMode() string { return a.tradingMode }

// SetEmergencyStop blocks or re-allows order submission. Decisions keep
// being evaluated and recorded while stopped.
func (a *App) SetEmergencyStop(stop bool) { a.gate.SetEmergencyStop(stop) }

func (a *App) EmergencyStopped() bool { return a.gate.EmergencyStop() }

func (a *App) Holdings() map[string]execution.Holding { return a.tracker.Holdings() }

// Positions returns tracked positions with their settlement state, or nil
// when settlement tracking is off.
func (a *App) Positions() []portfolio.Position {
	if a.portfolio == nil {
		return nil
	}
	return a.portfolio.Positions()
}

func (a *App) RecentFills(limit int) []execution.Fill { return a.tracker.RecentFills(limit) }

func (a *App) PaperSnapshot() (paper.Snapshot, bool) {
	if a.paperSim == nil {
		return paper.Snapshot{}, false
	}
	return a.paperSim.Snapshot(), true
}

// Markets returns the live view of every session, sorted by market ID.
func (a *App) Markets() []api.MarketStatus {
	out := make([]api.MarketStatus, 0, len(a.markets))
	for _, m := range a.markets {
		m.mu.RLock()
		out = append(out, status(m.session))
		m.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func status(s *engine.Session) api.MarketStatus {
	d := s.Last
	st := api.MarketStatus{
		ID:          s.Market.ID,
		Day:         s.Day.Date,
		LastTick:    d.Time,
		Band:        string(d.Snapshot.Band),
		Available:   d.Snapshot.AvailableCount,
		GuardLocked: s.Guard.Locked,
		GuardReason: string(s.Guard.Reason),
		GuardDetail: s.Guard.Describe(),
		Phase:       s.Strategy.Phase,
		Resonance:   s.Strategy.Resonance,
		Duration:    s.Strategy.Duration,
		Fired:       s.Strategy.Fired,
		FiredType:   string(s.Strategy.FiredType),
		Signal:      string(d.Signal.Type),
		Reason:      string(d.Signal.Reason),
		Detail:      d.Signal.Detail,
	}
	st.Actual = tempPtr(d.Snapshot.Actual)
	st.Forecast = tempPtr(d.Snapshot.Forecast)
	st.Divergence = tempPtr(d.Snapshot.Divergence)
	return st
}

func tempPtr(t weather.Temp) *float64 {
	if !t.OK {
		return nil
	}
	v := t.C
	return &v
}
