package portfolio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/data"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/gamma"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/transport"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/weather-trader/internal/execution"
)

const (
	tokWin     = "1001"
	tokLoss    = "2001"
	tokOpen    = "3001"
	tokPending = "4001"
)

var wallet = common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")

// fakeBook feeds the tracker the way execution.Tracker would after fills.
func fakeBook() *execution.Tracker {
	tr := execution.NewTracker()
	buy := func(token, label string, price, size float64) {
		o := execution.Order{Market: "nyc", Day: "2026-01-05", Signal: "BUY_DROP", TokenID: token, Label: label, Side: "BUY", Price: price, AmountUSDC: price * size}
		tr.Register(o, execution.Ack{OrderID: "ord-" + token, Status: "MATCHED", Filled: true, Price: price, Size: size})
	}
	buy(tokWin, "46-47°F", 0.90, 10)
	buy(tokLoss, "48-49°F", 0.95, 5)
	buy(tokOpen, "50-51°F", 0.92, 4)
	tr.Register(
		execution.Order{Market: "nyc", Day: "2026-01-06", Signal: "BUY_FORCE", TokenID: tokPending, Label: "40-41°F", Side: "BUY", Price: 0.91, AmountUSDC: 5},
		execution.Ack{OrderID: "ord-" + tokPending, Status: "LIVE"},
	)
	return tr
}

const gammaMarkets = `[
  {"id":"m1","question":"NYC high 46-47°F?","closed":true,
   "clobTokenIds":"[\"1001\",\"1002\"]","outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"1\",\"0\"]"},
  {"id":"m2","question":"NYC high 48-49°F?","closed":true,
   "clobTokenIds":"[\"2001\",\"2002\"]","outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.0005\",\"0.9995\"]"},
  {"id":"m3","question":"NYC high 50-51°F?","closed":true,
   "clobTokenIds":"[\"3001\",\"3002\"]","outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.62\",\"0.38\"]"}
]`

type gammaServer struct {
	mu      sync.Mutex
	queries []map[string][]string
	body    string
	status  int
}

func (g *gammaServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	g.queries = append(g.queries, r.URL.Query())
	body, status := g.body, g.status
	g.mu.Unlock()
	if r.URL.Path != "/markets" {
		http.NotFound(w, r)
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func newGamma(t *testing.T, g *gammaServer) gamma.Client {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return gamma.NewClient(transport.NewClient(srv.Client(), srv.URL))
}

func newData(t *testing.T, body string) data.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/positions" || r.URL.Query().Get("user") == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return data.NewClient(transport.NewClient(srv.Client(), srv.URL))
}

func TestNewTrackerDefaults(t *testing.T) {
	tr := NewTracker(nil, nil, common.Address{}, execution.NewTracker(), Config{}, zerolog.Nop())
	assert.Equal(t, 10*time.Minute, tr.cfg.SyncInterval)
	assert.True(t, tr.LastSync().IsZero())
	assert.Empty(t, tr.Positions())
}

func TestSyncSettlesClosedBinaryMarkets(t *testing.T) {
	g := &gammaServer{body: gammaMarkets}
	tr := NewTracker(newGamma(t, g), nil, common.Address{}, fakeBook(), Config{}, zerolog.Nop())
	settleAt := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return settleAt }

	var settled []Position
	tr.OnSettle = func(p Position) { settled = append(settled, p) }

	require.NoError(t, tr.Sync(context.Background()))

	require.Len(t, g.queries, 1)
	ids := g.queries[0]["clob_token_ids"]
	sort.Strings(ids)
	assert.Equal(t, []string{tokWin, tokLoss, tokOpen}, ids, "only filled positions are looked up")
	assert.Equal(t, []string{"true"}, g.queries[0]["closed"])

	win, ok := tr.Position(tokWin)
	require.True(t, ok)
	assert.Equal(t, Win, win.Status)
	assert.Equal(t, Win, win.Outcome)
	assert.InDelta(t, 10.0, win.Payout, 1e-9)
	assert.InDelta(t, 1.0, win.PnL, 1e-9)
	assert.Equal(t, settleAt, win.SettledAt)

	loss, _ := tr.Position(tokLoss)
	assert.Equal(t, Loss, loss.Status)
	assert.Zero(t, loss.Payout)
	assert.InDelta(t, -4.75, loss.PnL, 1e-9)

	open, _ := tr.Position(tokOpen)
	assert.Equal(t, Filled, open.Status, "non-binary prices leave the position open")

	pending, _ := tr.Position(tokPending)
	assert.Equal(t, Pending, pending.Status)
	assert.Equal(t, "2026-01-06", pending.Day)

	require.Len(t, settled, 2)
	assert.Equal(t, settleAt, tr.LastSync())

	// A second sync does not settle twice.
	require.NoError(t, tr.Sync(context.Background()))
	assert.Len(t, settled, 2)
	require.Len(t, g.queries, 2)
	assert.Equal(t, []string{tokOpen}, g.queries[1]["clob_token_ids"])

	s := tr.Summary()
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, 1, s.Open)
	assert.Equal(t, 1, s.Won)
	assert.Equal(t, 1, s.Lost)
	assert.InDelta(t, 13.75, s.Cost, 1e-9)
	assert.InDelta(t, 10.0, s.Payout, 1e-9)
	assert.InDelta(t, -3.75, s.RealizedPnL, 1e-9)
}

func TestSyncMarksRedeemedWhenWalletNoLongerHoldsToken(t *testing.T) {
	g := &gammaServer{body: gammaMarkets}
	held := `[{"asset":"2001","size":"5","redeemable":true},{"asset":"3001","size":"4"}]`
	tr := NewTracker(newGamma(t, g), newData(t, held), wallet, fakeBook(), Config{}, zerolog.Nop())

	require.NoError(t, tr.Sync(context.Background()))

	win, _ := tr.Position(tokWin)
	assert.Equal(t, Redeemed, win.Status)
	assert.Equal(t, Win, win.Outcome, "redemption keeps the outcome")
	assert.InDelta(t, 1.0, win.PnL, 1e-9)

	loss, _ := tr.Position(tokLoss)
	assert.Equal(t, Loss, loss.Status, "still held, not redeemed")

	open, _ := tr.Position(tokOpen)
	assert.Equal(t, Filled, open.Status)

	s := tr.Summary()
	assert.Equal(t, 1, s.Redeemed)
	assert.Equal(t, 1, s.Won)
	assert.Equal(t, 1, s.Lost)
}

func TestSyncWithoutWalletSkipsRedemption(t *testing.T) {
	g := &gammaServer{body: gammaMarkets}
	tr := NewTracker(newGamma(t, g), newData(t, `[]`), common.Address{}, fakeBook(), Config{}, zerolog.Nop())

	require.NoError(t, tr.Sync(context.Background()))

	win, _ := tr.Position(tokWin)
	assert.Equal(t, Win, win.Status)
}

func TestSyncReportsGammaErrors(t *testing.T) {
	g := &gammaServer{status: http.StatusBadRequest}
	tr := NewTracker(newGamma(t, g), nil, common.Address{}, fakeBook(), Config{}, zerolog.Nop())

	err := tr.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve")
	assert.True(t, tr.LastSync().IsZero())

	win, _ := tr.Position(tokWin)
	assert.Equal(t, Filled, win.Status)
}

func TestDayPositions(t *testing.T) {
	g := &gammaServer{body: `[]`}
	tr := NewTracker(newGamma(t, g), nil, common.Address{}, fakeBook(), Config{}, zerolog.Nop())
	require.NoError(t, tr.Sync(context.Background()))

	day := tr.DayPositions("nyc", "2026-01-05")
	require.Len(t, day, 3)
	assert.Equal(t, []string{"46-47°F", "48-49°F", "50-51°F"}, []string{day[0].Label, day[1].Label, day[2].Label})
	assert.Len(t, tr.DayPositions("nyc", "2026-01-06"), 1)
	assert.Empty(t, tr.DayPositions("chicago", "2026-01-05"))
}

func TestResolve(t *testing.T) {
	cases := []struct {
		name    string
		market  gamma.Market
		index   int
		want    Status
		settled bool
	}{
		{
			name:    "yes wins",
			market:  gamma.Market{ClobTokenIds: `["a","b"]`, OutcomePrices: `["1","0"]`},
			index:   0,
			want:    Win,
			settled: true,
		},
		{
			name:    "no side of a yes win",
			market:  gamma.Market{ClobTokenIds: `["a","b"]`, OutcomePrices: `["0.9995","0.005"]`},
			index:   1,
			want:    Loss,
			settled: true,
		},
		{
			name:   "numeric prices not yet binary",
			market: gamma.Market{ClobTokenIds: `["a","b"]`, OutcomePrices: `[0.98,0.02]`},
			index:  0,
		},
		{
			name:    "winner flag overrides prices",
			market:  gamma.Market{Tokens: []gamma.Token{{TokenID: "a", Winner: false}, {TokenID: "b", Winner: true}}, OutcomePrices: `["0.5","0.5"]`},
			index:   0,
			want:    Loss,
			settled: true,
		},
		{
			name:   "index out of range",
			market: gamma.Market{ClobTokenIds: `["a","b"]`, OutcomePrices: `["1","0"]`},
			index:  2,
		},
		{
			name:   "missing prices",
			market: gamma.Market{ClobTokenIds: `["a","b"]`},
			index:  0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Resolve(tc.market, tc.index)
			assert.Equal(t, tc.settled, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	g := &gammaServer{body: `[]`}
	tr := NewTracker(newGamma(t, g), nil, common.Address{}, fakeBook(), Config{SyncInterval: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.Eventually(t, func() bool { return !tr.LastSync().IsZero() }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}
