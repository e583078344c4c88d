package replay

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"github.com/GoPolymarket/weather-trader/internal/engine"
	"github.com/GoPolymarket/weather-trader/internal/execution"
	"github.com/GoPolymarket/weather-trader/internal/paper"
	"github.com/GoPolymarket/weather-trader/internal/strategy"
)

// Runner replays one market.
type Runner struct {
	Config     engine.Config
	Market     engine.Market
	AmountUSDC float64
	Paper      paper.Config
	// Sink optionally receives every replayed decision.
	Sink engine.Sink
	Log  zerolog.Logger
}

// Result is the outcome of a replay.
type Result struct {
	Decisions []engine.Decision
	Days      []engine.DaySummary
	Paper     paper.Snapshot
}

// Signals returns the signal of every decision in order.
func (r Result) Signals() []strategy.Signal {
	out := make([]strategy.Signal, len(r.Decisions))
	for i, d := range r.Decisions {
		out[i] = d.Signal
	}
	return out
}

// Buys returns the decisions that produced an acknowledged order.
func (r Result) Buys() []engine.Decision {
	var out []engine.Decision
	for _, d := range r.Decisions {
		if d.Signal.Type.IsBuy() && d.Order.OrderID != "" {
			out = append(out, d)
		}
	}
	return out
}

// Run evaluates every tick in order. Signals never depend on wall time.
func (r *Runner) Run(ctx context.Context, ticks []engine.Tick) (Result, error) {
	sim := paper.NewSimulator(r.Paper, execution.NewTracker())
	p := engine.NewPipeline(engine.New(r.Config), sim, r.Sink, r.AmountUSDC, r.Log)
	s := engine.NewSession(r.Market)

	res := Result{Decisions: make([]engine.Decision, 0, len(ticks))}
	for _, t := range ticks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		d, err := p.Process(ctx, s, t)
		if err != nil {
			return res, fmt.Errorf("replay %s at %s: %w", r.Market.ID, t.Time.Format("2006-01-02T15:04:05Z07:00"), err)
		}
		if d.Closed != nil {
			res.Days = append(res.Days, *d.Closed)
		}
		res.Decisions = append(res.Decisions, d)
	}
	if s.Day.Date != "" {
		res.Days = append(res.Days, engine.DaySummary{
			Day:       s.Day,
			Fired:     s.Strategy.Fired,
			FiredType: s.Strategy.FiredType,
			DayMax:    s.Strategy.DayMax(r.Market.GroundTruth),
		})
	}
	res.Paper = sim.Snapshot()
	return res, nil
}

// WriteTable prints the non-WAIT decisions, or all of them when verbose.
func WriteTable(w io.Writer, res Result, verbose bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tPHASE\tSIGNAL\tREASON\tCONTRACT\tASK\tGUARD\tDETAIL")
	for _, d := range res.Decisions {
		sig := d.Signal
		if !verbose && sig.Type == strategy.Wait {
			continue
		}
		guardCol := "open"
		if d.Guard.Locked {
			guardCol = "locked:" + string(d.Guard.Reason)
		}
		ask := ""
		if sig.Ask > 0 {
			ask = fmt.Sprintf("%.3f", sig.Ask)
		}
		fmt.Fprintf(tw, "%s\tP%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Time.Format("2006-01-02 15:04"), sig.Phase, sig.Type, sig.Reason, sig.Contract.Label, ask, guardCol, sig.Detail)
	}
	fmt.Fprintln(tw)
	for _, day := range res.Days {
		fired := "-"
		if day.Fired {
			fired = string(day.FiredType)
		}
		fmt.Fprintf(tw, "%s\tday max %s\tfired %s\n", day.Day.Date, day.DayMax, fired)
	}
	return tw.Flush()
}
