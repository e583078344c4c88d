package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/GoPolymarket/weather-trader/internal/engine"
	"github.com/GoPolymarket/weather-trader/internal/guard"
	"github.com/GoPolymarket/weather-trader/internal/portfolio"
	"github.com/GoPolymarket/weather-trader/internal/strategy"
)

// Notifier sends alerts to a Telegram chat via the Bot API.
type Notifier struct {
	botToken   string
	chatID     string
	httpClient *http.Client
	enabled    bool
	baseURL    string // overridable for testing; defaults to Telegram API

	cooldown time.Duration
	now      func() time.Time

	mu        sync.Mutex
	lastLock  map[string]time.Time
	priceSkip map[string]bool
}

// NewNotifier creates a Notifier. Notifications are enabled only when both
// botToken and chatID are non-empty. Lock alerts for the same market and
// reason are suppressed for lockCooldown.
func NewNotifier(botToken, chatID string, lockCooldown time.Duration) *Notifier {
	return &Notifier{
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		enabled:    botToken != "" && chatID != "",
		cooldown:   lockCooldown,
		now:        time.Now,
		lastLock:   make(map[string]time.Time),
		priceSkip:  make(map[string]bool),
	}
}

// Enabled reports whether the notifier is active.
func (n *Notifier) Enabled() bool { return n.enabled }

// Send posts a message to the configured Telegram chat.
func (n *Notifier) Send(ctx context.Context, msg string) error {
	if !n.enabled {
		return nil
	}

	endpoint := n.baseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	}
	vals := url.Values{
		"chat_id":    {n.chatID},
		"text":       {msg},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.URL.RawQuery = vals.Encode()

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("notify: telegram %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}

// NotifyGuardLock sends a lock alert unless one went out for the same
// market and reason within the cooldown.
func (n *Notifier) NotifyGuardLock(ctx context.Context, market string, st guard.State) error {
	key := market + "|" + string(st.Reason)
	n.mu.Lock()
	now := n.now()
	if last, ok := n.lastLock[key]; ok && now.Sub(last) < n.cooldown {
		n.mu.Unlock()
		return nil
	}
	n.lastLock[key] = now
	n.mu.Unlock()
	return n.Send(ctx, RenderGuardLock(market, st))
}

// NotifyGuardUnlock sends an unlock alert.
func (n *Notifier) NotifyGuardUnlock(ctx context.Context, market string) error {
	return n.Send(ctx, fmt.Sprintf("<b>Guard Unlocked</b>\nMarket: %s", escape(market)))
}

// NotifyBuy sends an executed-buy alert.
func (n *Notifier) NotifyBuy(ctx context.Context, market string, sig strategy.Signal, orderID string) error {
	return n.Send(ctx, RenderBuy(market, sig, orderID))
}

// NotifyOrderFailed sends a failed-order alert.
func (n *Notifier) NotifyOrderFailed(ctx context.Context, market string, sig strategy.Signal, errMsg string) error {
	msg := fmt.Sprintf("<b>Order Failed</b>\nMarket: %s\nSignal: %s\nContract: %s\nError: %s",
		escape(market), sig.Type, escape(sig.Contract.Label), escape(errMsg))
	return n.Send(ctx, msg)
}

// NotifyPriceSkip reports the first price-floor skip of a market-day.
func (n *Notifier) NotifyPriceSkip(ctx context.Context, market, day string, sig strategy.Signal) error {
	key := market + "|" + day
	n.mu.Lock()
	if n.priceSkip[key] {
		n.mu.Unlock()
		return nil
	}
	n.priceSkip[key] = true
	n.mu.Unlock()
	msg := fmt.Sprintf("<b>Buy Skipped</b>\nMarket: %s\nContract: %s\nAsk: %.3f below floor",
		escape(market), escape(sig.Contract.Label), sig.Ask)
	return n.Send(ctx, msg)
}

// NotifyDailySummary sends the summary of a closed trading day.
func (n *Notifier) NotifyDailySummary(ctx context.Context, s engine.DaySummary) error {
	n.mu.Lock()
	delete(n.priceSkip, s.Day.Market+"|"+s.Day.Date)
	n.mu.Unlock()
	return n.Send(ctx, RenderDailySummary(s))
}

// Settlement reports a resolved position. When day is non-nil the day it
// belongs to has fully settled and its summary is sent again with results.
func (n *Notifier) Settlement(ctx context.Context, p portfolio.Position, day *engine.DaySummary) error {
	err := n.Send(ctx, RenderSettlement(p))
	if day != nil {
		err = errors.Join(err, n.Send(ctx, RenderDailySummary(*day)))
	}
	return err
}

// Decision dispatches the alerts one decision calls for.
func (n *Notifier) Decision(ctx context.Context, d engine.Decision) error {
	var errs []error
	if d.Closed != nil {
		errs = append(errs, n.NotifyDailySummary(ctx, *d.Closed))
	}
	if d.GuardAlert {
		errs = append(errs, n.NotifyGuardLock(ctx, d.Market, d.Guard))
	}
	if d.GuardEdge == guard.Unlocked {
		errs = append(errs, n.NotifyGuardUnlock(ctx, d.Market))
	}
	switch {
	case d.Signal.Type.IsBuy() && d.Order.OrderID != "":
		errs = append(errs, n.NotifyBuy(ctx, d.Market, d.Signal, d.Order.OrderID))
	case d.Signal.Type.IsBuy() && d.Order.Err != "":
		errs = append(errs, n.NotifyOrderFailed(ctx, d.Market, d.Signal, d.Order.Err))
	case d.Signal.Type == strategy.SkipPrice:
		errs = append(errs, n.NotifyPriceSkip(ctx, d.Market, d.Strategy.Day.Date, d.Signal))
	}
	return errors.Join(errs...)
}
