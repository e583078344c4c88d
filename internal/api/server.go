package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/GoPolymarket/weather-trader/internal/execution"
	"github.com/GoPolymarket/weather-trader/internal/paper"
	"github.com/GoPolymarket/weather-trader/internal/portfolio"
	"github.com/GoPolymarket/weather-trader/internal/record"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// MarketStatus is the live view of one market session.
type MarketStatus struct {
	ID          string    `json:"id"`
	Day         string    `json:"day"`
	LastTick    time.Time `json:"last_tick"`
	Actual      *float64  `json:"actual_c,omitempty"`
	Forecast    *float64  `json:"forecast_c,omitempty"`
	Divergence  *float64  `json:"divergence_c,omitempty"`
	Band        string    `json:"band"`
	Available   int       `json:"available_sources"`
	GuardLocked bool      `json:"guard_locked"`
	GuardReason string    `json:"guard_reason,omitempty"`
	GuardDetail string    `json:"guard_detail"`
	Phase       int       `json:"phase"`
	Resonance   int       `json:"resonance"`
	Duration    int       `json:"duration"`
	Fired       bool      `json:"fired"`
	FiredType   string    `json:"fired_type,omitempty"`
	Signal      string    `json:"signal"`
	Reason      string    `json:"reason"`
	Detail      string    `json:"detail,omitempty"`
}

// AppState exposes the trading app's state for the API layer.
type AppState interface {
	IsRunning() bool
	IsDryRun() bool
	TradingMode() string
	SetEmergencyStop(stop bool)
	EmergencyStopped() bool
	Markets() []MarketStatus
	Holdings() map[string]execution.Holding
	// Positions is empty when settlement tracking is off.
	Positions() []portfolio.Position
	RecentFills(limit int) []execution.Fill
	// PaperSnapshot reports false outside paper mode.
	PaperSnapshot() (paper.Snapshot, bool)
}

// DecisionStore reads the persisted decision log (nil if unavailable).
type DecisionStore interface {
	Recent(ctx context.Context, market string, limit int) ([]record.Row, error)
	Summaries(ctx context.Context, market string) ([]record.DaySummary, error)
}

// Server is a lightweight HTTP API for monitoring the engine.
type Server struct {
	httpServer *http.Server
	appState   AppState
	store      DecisionStore
	log        zerolog.Logger
	startedAt  time.Time
}

// NewServer creates a new API server bound to addr. Metrics from gatherer
// are served on /metrics.
func NewServer(addr string, appState AppState, store DecisionStore, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	s := &Server{
		appState:  appState,
		store:     store,
		log:       log.With().Str("component", "api").Logger(),
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/markets", s.handleMarkets)
	mux.HandleFunc("GET /api/markets/{id}", s.handleMarket)
	mux.HandleFunc("GET /api/decisions", s.handleDecisions)
	mux.HandleFunc("GET /api/summaries", s.handleSummaries)
	mux.HandleFunc("GET /api/holdings", s.handleHoldings)
	mux.HandleFunc("GET /api/trades", s.handleTrades)
	mux.HandleFunc("GET /api/paper", s.handlePaper)
	mux.HandleFunc("/api/emergency-stop", s.handleEmergencyStop)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routes for in-process tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins serving HTTP requests.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("api server listening")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("api server stopped")
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}

// GET /api/health: liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"ok":       true,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

// GET /api/ready: readiness probe.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := s.appState.IsRunning()
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.writeJSON(w, map[string]interface{}{
		"ready":        ready,
		"trading_mode": s.appState.TradingMode(),
		"uptime_s":     time.Since(s.startedAt).Seconds(),
	})
}

// GET /api/status: overall system status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	markets := s.appState.Markets()
	locked := 0
	fired := 0
	for _, m := range markets {
		if m.GuardLocked {
			locked++
		}
		if m.Fired {
			fired++
		}
	}
	s.writeJSON(w, map[string]interface{}{
		"running":        s.appState.IsRunning(),
		"dry_run":        s.appState.IsDryRun(),
		"trading_mode":   s.appState.TradingMode(),
		"emergency_stop": s.appState.EmergencyStopped(),
		"uptime_s":       time.Since(s.startedAt).Seconds(),
		"markets":        len(markets),
		"guard_locked":   locked,
		"fired_today":    fired,
		"fills":          len(s.appState.RecentFills(maxLimit)),
	})
}

// GET /api/markets: every market session.
func (s *Server) handleMarkets(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{"markets": s.appState.Markets()})
}

// GET /api/markets/{id}: one session plus its latest stored decisions.
func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, m := range s.appState.Markets() {
		if m.ID != id {
			continue
		}
		resp := map[string]interface{}{"market": m}
		if s.store != nil {
			rows, err := s.store.Recent(r.Context(), id, limitParam(r))
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			resp["decisions"] = rows
		}
		s.writeJSON(w, resp)
		return
	}
	http.Error(w, "unknown market", http.StatusNotFound)
}

// GET /api/decisions?market=&limit=: decision log.
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "decision store not configured", http.StatusServiceUnavailable)
		return
	}
	rows, err := s.store.Recent(r.Context(), r.URL.Query().Get("market"), limitParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]interface{}{"decisions": rows})
}

// GET /api/summaries?market=: closed trading days.
func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "decision store not configured", http.StatusServiceUnavailable)
		return
	}
	days, err := s.store.Summaries(r.Context(), r.URL.Query().Get("market"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]interface{}{"days": days})
}

// GET /api/holdings: YES shares per contract token with settlement state.
func (s *Server) handleHoldings(w http.ResponseWriter, _ *http.Request) {
	type holdingEntry struct {
		TokenID  string  `json:"token_id"`
		Market   string  `json:"market"`
		Day      string  `json:"day,omitempty"`
		Label    string  `json:"label"`
		Shares   float64 `json:"shares"`
		AvgPrice float64 `json:"avg_price"`
		Cost     float64 `json:"cost_usdc"`
		Fills    int     `json:"fills"`
		Status   string  `json:"status"`
		Outcome  string  `json:"outcome,omitempty"`
		Payout   float64 `json:"payout_usdc"`
		PnL      float64 `json:"pnl_usdc"`
	}
	positions := s.appState.Positions()
	byToken := make(map[string]portfolio.Position, len(positions))
	for _, p := range positions {
		byToken[p.TokenID] = p
	}
	holdings := s.appState.Holdings()
	entries := make([]holdingEntry, 0, len(holdings))
	for _, h := range holdings {
		e := holdingEntry{
			TokenID:  h.TokenID,
			Market:   h.Market,
			Day:      h.Day,
			Label:    h.Label,
			Shares:   h.Shares,
			AvgPrice: h.AvgPrice,
			Cost:     h.Cost,
			Fills:    h.Fills,
			Status:   string(portfolio.Filled),
		}
		if p, ok := byToken[h.TokenID]; ok && p.Status.Settled() {
			e.Status, e.Outcome = string(p.Status), string(p.Outcome)
			e.Payout, e.PnL = p.Payout, p.PnL
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Market != entries[j].Market {
			return entries[i].Market < entries[j].Market
		}
		if entries[i].Day != entries[j].Day {
			return entries[i].Day < entries[j].Day
		}
		return entries[i].Label < entries[j].Label
	})
	s.writeJSON(w, map[string]interface{}{
		"holdings": entries,
		"summary":  portfolio.Summarize(positions),
	})
}

// GET /api/trades?limit=: recent fills.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	type tradeEntry struct {
		TradeID   string    `json:"trade_id"`
		OrderID   string    `json:"order_id"`
		Market    string    `json:"market"`
		Label     string    `json:"label"`
		Price     float64   `json:"price"`
		Size      float64   `json:"size"`
		Timestamp time.Time `json:"timestamp"`
	}
	fills := s.appState.RecentFills(limitParam(r))
	entries := make([]tradeEntry, 0, len(fills))
	for _, f := range fills {
		entries = append(entries, tradeEntry{
			TradeID:   f.TradeID,
			OrderID:   f.OrderID,
			Market:    f.Market,
			Label:     f.Label,
			Price:     f.Price,
			Size:      f.Size,
			Timestamp: f.Timestamp,
		})
	}
	s.writeJSON(w, map[string]interface{}{"trades": entries})
}

// GET /api/paper: paper account.
func (s *Server) handlePaper(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.appState.PaperSnapshot()
	if !ok {
		http.Error(w, "not in paper mode", http.StatusNotFound)
		return
	}
	s.writeJSON(w, snap)
}

// POST /api/emergency-stop pauses order submission; DELETE resumes it.
func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.appState.SetEmergencyStop(true)
		s.log.Warn().Msg("emergency stop activated")
		s.writeJSON(w, map[string]string{"status": "emergency_stop_activated"})
	case http.MethodDelete:
		s.appState.SetEmergencyStop(false)
		s.log.Info().Msg("emergency stop cleared")
		s.writeJSON(w, map[string]string{"status": "emergency_stop_cleared"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
