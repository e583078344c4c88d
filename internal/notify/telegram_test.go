package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoPolymarket/weather-trader/internal/clock"
	"github.com/GoPolymarket/weather-trader/internal/engine"
	"github.com/GoPolymarket/weather-trader/internal/guard"
	"github.com/GoPolymarket/weather-trader/internal/portfolio"
	"github.com/GoPolymarket/weather-trader/internal/strategy"
	"github.com/GoPolymarket/weather-trader/internal/weather"
)

type capture struct {
	mu    sync.Mutex
	texts []string
}

func (c *capture) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func newTestNotifier(t *testing.T, status int) (*Notifier, *capture, *time.Time) {
	t.Helper()
	c := &capture{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.texts = append(c.texts, r.URL.Query().Get("text"))
		c.mu.Unlock()
		w.WriteHeader(status)
		if status != http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]string{"description": "bad request"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	t.Cleanup(server.Close)

	now := time.Date(2026, 7, 1, 13, 0, 0, 0, time.UTC)
	n := NewNotifier("test-token", "test-chat", 6*time.Hour)
	n.httpClient = server.Client()
	n.baseURL = server.URL
	n.now = func() time.Time { return now }
	return n, c, &now
}

func TestNewNotifierDisabled(t *testing.T) {
	n := NewNotifier("", "", time.Hour)
	if n.Enabled() {
		t.Fatal("expected disabled notifier with empty credentials")
	}
	if err := n.Send(context.Background(), "test"); err != nil {
		t.Fatalf("disabled send should succeed silently: %v", err)
	}
}

func TestNewNotifierEnabled(t *testing.T) {
	n := NewNotifier("bot123", "chat456", time.Hour)
	if !n.Enabled() {
		t.Fatal("expected enabled notifier with credentials")
	}
}

func TestSendSuccess(t *testing.T) {
	var receivedChatID, receivedText, parseMode string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedChatID = r.URL.Query().Get("chat_id")
		receivedText = r.URL.Query().Get("text")
		parseMode = r.URL.Query().Get("parse_mode")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier("test-token", "test-chat", time.Hour)
	n.httpClient = server.Client()
	n.baseURL = server.URL

	if err := n.Send(context.Background(), "hello world"); err != nil {
		t.Fatalf("send should succeed: %v", err)
	}
	if receivedChatID != "test-chat" {
		t.Errorf("expected chat_id=test-chat, got %s", receivedChatID)
	}
	if receivedText != "hello world" {
		t.Errorf("expected text=hello world, got %s", receivedText)
	}
	if parseMode != "HTML" {
		t.Errorf("expected HTML parse mode, got %s", parseMode)
	}
}

func TestSendServerError(t *testing.T) {
	n, _, _ := newTestNotifier(t, http.StatusBadRequest)
	err := n.Send(context.Background(), "test")
	if err == nil {
		t.Fatal("expected error for server error response")
	}
	if !strings.Contains(err.Error(), "bad request") {
		t.Fatalf("expected telegram description in error, got %v", err)
	}
}

func TestGuardLockCooldown(t *testing.T) {
	n, c, now := newTestNotifier(t, http.StatusOK)
	ctx := context.Background()
	st := guard.State{Locked: true, Reason: guard.ReasonRiskySources, RiskyCount: 2, AvailableSources: 3,
		RiskySources: []weather.SourceID{"noaa", "om"}}

	if err := n.NotifyGuardLock(ctx, "seoul", st); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(time.Hour)
	if err := n.NotifyGuardLock(ctx, "seoul", st); err != nil {
		t.Fatal(err)
	}
	if got := len(c.all()); got != 1 {
		t.Fatalf("expected repeat within cooldown suppressed, got %d sends", got)
	}

	other := st
	other.Reason = guard.ReasonNoAnchor
	if err := n.NotifyGuardLock(ctx, "seoul", other); err != nil {
		t.Fatal(err)
	}
	if err := n.NotifyGuardLock(ctx, "london", st); err != nil {
		t.Fatal(err)
	}
	if got := len(c.all()); got != 3 {
		t.Fatalf("different reason or market must not be suppressed, got %d sends", got)
	}

	*now = now.Add(6 * time.Hour)
	if err := n.NotifyGuardLock(ctx, "seoul", st); err != nil {
		t.Fatal(err)
	}
	texts := c.all()
	if len(texts) != 4 {
		t.Fatalf("expected alert after cooldown, got %d sends", len(texts))
	}
	if !strings.Contains(texts[0], "risky-source-count") || !strings.Contains(texts[0], "- noaa") {
		t.Fatalf("unexpected lock text: %q", texts[0])
	}
}

func TestPriceSkipOncePerDay(t *testing.T) {
	n, c, _ := newTestNotifier(t, http.StatusOK)
	ctx := context.Background()
	sig := strategy.Signal{Type: strategy.SkipPrice, Contract: strategy.Contract{Label: "11°C"}, Ask: 0.42}

	for i := 0; i < 3; i++ {
		if err := n.NotifyPriceSkip(ctx, "seoul", "2026-07-01", sig); err != nil {
			t.Fatal(err)
		}
	}
	if err := n.NotifyPriceSkip(ctx, "seoul", "2026-07-02", sig); err != nil {
		t.Fatal(err)
	}
	texts := c.all()
	if len(texts) != 2 {
		t.Fatalf("expected one skip alert per day, got %d", len(texts))
	}
	if !strings.Contains(texts[0], "0.420") {
		t.Fatalf("expected ask in text, got %q", texts[0])
	}
}

func TestDecisionDispatch(t *testing.T) {
	n, c, _ := newTestNotifier(t, http.StatusOK)
	ctx := context.Background()
	day := clock.DayKey{Market: "seoul", Date: "2026-07-01"}

	d := engine.Decision{
		Market:     "seoul",
		GuardAlert: true,
		Guard:      guard.State{Locked: true, Reason: guard.ReasonNoAnchor},
		Closed:     &engine.DaySummary{Day: clock.DayKey{Market: "seoul", Date: "2026-06-30"}, Fired: true, FiredType: strategy.BuyForce, DayMax: weather.Celsius(31.2)},
	}
	if err := n.Decision(ctx, d); err != nil {
		t.Fatal(err)
	}

	buy := engine.Decision{
		Market:   "seoul",
		Strategy: strategy.State{Day: day},
		Signal:   strategy.Signal{Type: strategy.BuyDrop, Phase: 2, Resonance: 2, Duration: 3, Contract: strategy.Contract{Label: "31°C"}, Ask: 0.93},
		Order:    engine.OrderOutcome{Submitted: true, OrderID: "paper-order-000001"},
	}
	if err := n.Decision(ctx, buy); err != nil {
		t.Fatal(err)
	}

	failed := buy
	failed.Order = engine.OrderOutcome{Submitted: true, Err: "insufficient balance"}
	if err := n.Decision(ctx, failed); err != nil {
		t.Fatal(err)
	}

	quiet := engine.Decision{Market: "seoul", Signal: strategy.Signal{Type: strategy.Wait}}
	if err := n.Decision(ctx, quiet); err != nil {
		t.Fatal(err)
	}

	texts := c.all()
	if len(texts) != 4 {
		t.Fatalf("expected 4 alerts, got %d: %q", len(texts), texts)
	}
	if !strings.Contains(texts[0], "Daily Summary") || !strings.Contains(texts[0], "31.2") || !strings.Contains(texts[0], "BUY_FORCE") {
		t.Fatalf("unexpected summary: %q", texts[0])
	}
	if !strings.Contains(texts[1], "Guard Locked") {
		t.Fatalf("unexpected lock alert: %q", texts[1])
	}
	if !strings.Contains(texts[2], "Buy Executed") || !strings.Contains(texts[2], "P2") || !strings.Contains(texts[2], "paper-order-000001") {
		t.Fatalf("unexpected buy alert: %q", texts[2])
	}
	if !strings.Contains(texts[3], "Order Failed") || !strings.Contains(texts[3], "insufficient balance") {
		t.Fatalf("unexpected failure alert: %q", texts[3])
	}
}

func TestDailySummaryShowsSettlement(t *testing.T) {
	s := engine.DaySummary{
		Day:       clock.DayKey{Market: "seoul", Date: "2026-06-30"},
		Fired:     true,
		FiredType: strategy.BuyDrop,
		DayMax:    weather.Celsius(31.2),
		Positions: []portfolio.Position{
			{Label: "31°C", Status: portfolio.Filled, Shares: 10, AvgPrice: 0.9, Cost: 9},
		},
	}
	out := RenderDailySummary(s)
	if !strings.Contains(out, "31°C: FILLED") || !strings.Contains(out, "Settlement: pending") {
		t.Fatalf("expected open position, got %q", out)
	}

	s.Positions[0].Status, s.Positions[0].Outcome = portfolio.Win, portfolio.Win
	s.Positions[0].Payout, s.Positions[0].PnL = 10, 1
	out = RenderDailySummary(s)
	if !strings.Contains(out, "(WIN, PnL +1.00)") || !strings.Contains(out, "Result: 1W/0L") {
		t.Fatalf("expected settled win, got %q", out)
	}
}

func TestSettlementAlerts(t *testing.T) {
	n, c, _ := newTestNotifier(t, http.StatusOK)
	ctx := context.Background()
	lost := portfolio.Position{Market: "seoul", Day: "2026-06-30", Label: "32°C", Status: portfolio.Loss, Outcome: portfolio.Loss, Shares: 5, AvgPrice: 0.95, Cost: 4.75, PnL: -4.75}

	if err := n.Settlement(ctx, lost, nil); err != nil {
		t.Fatal(err)
	}
	day := &engine.DaySummary{Day: clock.DayKey{Market: "seoul", Date: "2026-06-30"}, Positions: []portfolio.Position{lost}}
	if err := n.Settlement(ctx, lost, day); err != nil {
		t.Fatal(err)
	}

	texts := c.all()
	if len(texts) != 3 {
		t.Fatalf("expected 3 messages, got %d: %q", len(texts), texts)
	}
	if !strings.Contains(texts[0], "Position Lost") || !strings.Contains(texts[0], "PnL: -4.75") {
		t.Fatalf("unexpected settlement alert: %q", texts[0])
	}
	if !strings.Contains(texts[2], "Daily Summary") || !strings.Contains(texts[2], "Result: 0W/1L") {
		t.Fatalf("unexpected settled summary: %q", texts[2])
	}
}

func TestRenderEscapesHTML(t *testing.T) {
	out := RenderBuy("<x>", strategy.Signal{Type: strategy.BuyForce, Contract: strategy.Contract{Label: "a&b"}}, "id")
	if strings.Contains(out, "<x>") || !strings.Contains(out, "&lt;x&gt;") || !strings.Contains(out, "a&amp;b") {
		t.Fatalf("expected escaped output, got %q", out)
	}
}
