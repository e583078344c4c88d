package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/GoPolymarket/weather-trader/internal/engine"
	"github.com/GoPolymarket/weather-trader/internal/guard"
	"github.com/GoPolymarket/weather-trader/internal/portfolio"
	"github.com/GoPolymarket/weather-trader/internal/strategy"
)

func escape(s string) string { return html.EscapeString(s) }

// RenderGuardLock renders a lock alert in HTML parse mode.
func RenderGuardLock(market string, st guard.State) string {
	var b strings.Builder
	b.WriteString("<b>Guard Locked</b>\n")
	b.WriteString(fmt.Sprintf("Market: %s\nReason: %s\n", escape(market), st.Reason))
	b.WriteString(fmt.Sprintf("Risky Sources: %d/%d\n", st.RiskyCount, st.AvailableSources))
	if len(st.RiskySources) > 0 {
		b.WriteString("\n<b>Risky</b>\n")
		for _, id := range st.RiskySources {
			b.WriteString("- " + escape(string(id)) + "\n")
		}
	}
	if st.HasWindow {
		b.WriteString(fmt.Sprintf("\nPeak window: %s to %s\n",
			st.Window.Start.Format("15:04"), st.Window.End.Format("15:04")))
	}
	return strings.TrimSpace(b.String())
}

// RenderBuy renders an executed-buy alert.
func RenderBuy(market string, sig strategy.Signal, orderID string) string {
	var b strings.Builder
	b.WriteString("<b>Buy Executed</b>\n")
	b.WriteString(fmt.Sprintf("Market: %s\nSignal: %s\n", escape(market), sig.Type))
	if sig.Phase > 0 {
		b.WriteString(fmt.Sprintf("Phase: P%d (resonance %d, duration %d)\n", sig.Phase, sig.Resonance, sig.Duration))
	}
	b.WriteString(fmt.Sprintf("Contract: %s\nAsk: %.3f\nOrder: <code>%s</code>", escape(sig.Contract.Label), sig.Ask, escape(orderID)))
	return b.String()
}

// RenderDailySummary renders the close of a trading day with the
// settlement state of every position bought that day.
func RenderDailySummary(s engine.DaySummary) string {
	var b strings.Builder
	b.WriteString("<b>Daily Summary</b>\n")
	b.WriteString(fmt.Sprintf("Market: %s\nDate: %s\n", escape(s.Day.Market), s.Day.Date))
	if s.DayMax.OK {
		b.WriteString(fmt.Sprintf("Ground Truth Max: %.1f°C\n", s.DayMax.C))
	} else {
		b.WriteString("Ground Truth Max: n/a\n")
	}
	if s.Fired {
		b.WriteString(fmt.Sprintf("Fired: %s", s.FiredType))
	} else {
		b.WriteString("Fired: no")
	}
	if len(s.Positions) == 0 {
		return b.String()
	}

	b.WriteString("\n\n<b>Positions</b>\n")
	for _, p := range s.Positions {
		b.WriteString(fmt.Sprintf("- %s: %s %.2f sh @ %.3f", escape(p.Label), p.Status, p.Shares, p.AvgPrice))
		if p.Status.Settled() {
			b.WriteString(fmt.Sprintf(" (%s, PnL %+.2f)", p.Outcome, p.PnL))
		}
		b.WriteString("\n")
	}
	if !s.Settled() {
		b.WriteString("Settlement: pending")
		return b.String()
	}
	sum := portfolio.Summarize(s.Positions)
	b.WriteString(fmt.Sprintf("Result: %dW/%dL, payout %.2f, PnL %+.2f USDC", sum.Won, sum.Lost, sum.Payout, sum.RealizedPnL))
	return b.String()
}

// RenderSettlement renders a resolved position.
func RenderSettlement(p portfolio.Position) string {
	title := "Position Won"
	if p.Outcome == portfolio.Loss {
		title = "Position Lost"
	}
	return fmt.Sprintf("<b>%s</b>\nMarket: %s\nDate: %s\nContract: %s\nShares: %.2f @ %.3f\nPayout: %.2f\nPnL: %+.2f USDC",
		title, escape(p.Market), p.Day, escape(p.Label), p.Shares, p.AvgPrice, p.Payout, p.PnL)
}
