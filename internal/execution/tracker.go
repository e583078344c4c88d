package execution

import (
	"strconv"
	"sync"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/ws"
)

// maxFills bounds the in-memory fill log.
const maxFills = 500

// Placement is a buy the engine sent, keyed by venue order ID.
type Placement struct {
	OrderID   string
	Market    string
	Day       string
	Signal    string
	TokenID   string
	Label     string
	Status    string
	Price     float64
	Amount    float64
	Filled    float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fill is a single trade execution against one of our placements.
type Fill struct {
	TradeID   string
	OrderID   string
	TokenID   string
	Market    string
	Label     string
	Price     float64
	Size      float64
	Timestamp time.Time
}

// Holding aggregates YES shares held for one contract token.
type Holding struct {
	TokenID  string
	Market   string
	Day      string
	Label    string
	Shares   float64
	AvgPrice float64
	Cost     float64
	Fills    int
}

// Tracker follows our buy orders through the user WebSocket channel.
type Tracker struct {
	mu         sync.RWMutex
	placements map[string]*Placement
	byToken    map[string]*Placement
	fills      []Fill
	holdings   map[string]*Holding
	OnFill     func(Fill)
}

func NewTracker() *Tracker {
	return &Tracker{
		placements: make(map[string]*Placement),
		byToken:    make(map[string]*Placement),
		holdings:   make(map[string]*Holding),
	}
}

// Register records an acknowledged buy. An ack that already reports a
// match is booked as a fill immediately.
func (t *Tracker) Register(o Order, ack Ack) {
	now := o.Time
	if now.IsZero() {
		now = time.Now()
	}
	p := &Placement{
		OrderID:   ack.OrderID,
		Market:    o.Market,
		Day:       o.Day,
		Signal:    o.Signal,
		TokenID:   o.TokenID,
		Label:     o.Label,
		Status:    ack.Status,
		Price:     o.Price,
		Amount:    o.AmountUSDC,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.mu.Lock()
	t.placements[ack.OrderID] = p
	t.byToken[o.TokenID] = p
	t.mu.Unlock()

	if ack.Filled && ack.Size > 0 {
		price := ack.Price
		if price == 0 {
			price = o.Price
		}
		t.record(Fill{
			TradeID:   ack.OrderID,
			OrderID:   ack.OrderID,
			TokenID:   o.TokenID,
			Price:     price,
			Size:      ack.Size,
			Timestamp: now,
		})
	}
}

// ProcessOrderEvent updates the status of a tracked placement. Orders we
// did not place are ignored.
func (t *Tracker) ProcessOrderEvent(ev ws.OrderEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.placements[ev.ID]
	if !ok {
		return
	}
	p.Status = ev.Status
	p.UpdatedAt = time.Now()
	if matched, err := strconv.ParseFloat(ev.SizeMatched, 64); err == nil {
		p.Filled = matched
	}
}

// ProcessTradeEvent books a BUY trade on a token we placed an order for.
func (t *Tracker) ProcessTradeEvent(ev ws.TradeEvent) {
	if ev.Side != "" && ev.Side != "BUY" {
		return
	}
	price, _ := strconv.ParseFloat(ev.Price, 64)
	size, _ := strconv.ParseFloat(ev.Size, 64)
	if size <= 0 {
		return
	}
	t.mu.RLock()
	p, ok := t.byToken[ev.AssetID]
	t.mu.RUnlock()
	if !ok {
		return
	}
	t.record(Fill{
		TradeID:   ev.ID,
		OrderID:   p.OrderID,
		TokenID:   ev.AssetID,
		Price:     price,
		Size:      size,
		Timestamp: time.Now(),
	})
}

func (t *Tracker) record(f Fill) {
	t.mu.Lock()
	var day string
	if p, ok := t.byToken[f.TokenID]; ok {
		f.Market, f.Label, day = p.Market, p.Label, p.Day
	}
	t.fills = append(t.fills, f)
	if len(t.fills) > maxFills {
		t.fills = t.fills[len(t.fills)-maxFills:]
	}
	h, ok := t.holdings[f.TokenID]
	if !ok {
		h = &Holding{TokenID: f.TokenID, Market: f.Market, Day: day, Label: f.Label}
		t.holdings[f.TokenID] = h
	}
	h.Fills++
	h.Cost += f.Price * f.Size
	h.Shares += f.Size
	if h.Shares > 0 {
		h.AvgPrice = h.Cost / h.Shares
	}
	cb := t.OnFill
	t.mu.Unlock()

	if cb != nil {
		cb(f)
	}
}

// Holding returns the holding for a token (nil if none).
func (t *Tracker) Holding(tokenID string) *Holding {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.holdings[tokenID]
	if !ok {
		return nil
	}
	cp := *h
	return &cp
}

func (t *Tracker) Holdings() map[string]Holding {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Holding, len(t.holdings))
	for k, v := range t.holdings {
		out[k] = *v
	}
	return out
}

// Placements returns the orders placed for a market, in no particular order.
func (t *Tracker) Placements(market string) []Placement {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Placement
	for _, p := range t.placements {
		if market == "" || p.Market == market {
			out = append(out, *p)
		}
	}
	return out
}

func (t *Tracker) TotalFills() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.fills)
}

// RecentFills returns the last N fills, most recent first.
func (t *Tracker) RecentFills(limit int) []Fill {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := len(t.fills)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Fill, limit)
	for i := 0; i < limit; i++ {
		out[i] = t.fills[n-1-i]
	}
	return out
}
