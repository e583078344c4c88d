package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/GoPolymarket/weather-trader/internal/execution"
)

// Submitter places a buy. Live and paper execution both satisfy it.
type Submitter interface {
	Submit(ctx context.Context, o execution.Order) (execution.Ack, error)
}

// Sink persists decisions.
type Sink interface {
	Persist(ctx context.Context, d Decision) error
}

// Pipeline runs a step, submits buys and persists the result. It is the
// only place where a decision turns into an order.
type Pipeline struct {
	Engine     *Engine
	Submitter  Submitter
	Sink       Sink
	AmountUSDC float64
	Log        zerolog.Logger
}

func NewPipeline(e *Engine, sub Submitter, sink Sink, amountUSDC float64, log zerolog.Logger) *Pipeline {
	return &Pipeline{Engine: e, Submitter: sub, Sink: sink, AmountUSDC: amountUSDC, Log: log}
}

// Process evaluates one tick. A buy marks the day fired only after the
// submitter acknowledges it; a failed submission leaves the trigger armed.
// The returned error reports persistence failures only.
func (p *Pipeline) Process(ctx context.Context, s *Session, t Tick) (Decision, error) {
	d := p.Engine.Step(s, t)
	log := p.Log.With().Str("market", d.Market).Logger()

	if d.Signal.Type.IsBuy() {
		o := execution.Order{
			Market:     d.Market,
			Day:        s.Day.Date,
			Signal:     string(d.Signal.Type),
			TokenID:    d.Signal.Contract.TokenID,
			Label:      d.Signal.Contract.Label,
			Side:       "BUY",
			Price:      d.Signal.Ask,
			AmountUSDC: p.AmountUSDC,
			Time:       t.Time,
		}
		d.Order.Submitted = true
		if p.Submitter == nil {
			d.Order.Err = "no submitter configured"
		} else if ack, err := p.Submitter.Submit(ctx, o); err != nil {
			d.Order.Err = err.Error()
			log.Error().Err(err).Str("signal", o.Signal).Str("contract", o.Label).Msg("buy failed")
		} else {
			s.MarkFired(d.Signal.Type)
			d.Strategy = s.Strategy
			d.Order.OrderID = ack.OrderID
			d.Order.Status = ack.Status
			log.Info().
				Str("signal", o.Signal).
				Str("contract", o.Label).
				Float64("ask", o.Price).
				Str("order_id", ack.OrderID).
				Msg("buy executed")
		}
		s.Last = d
	}

	log.Debug().
		Str("signal", string(d.Signal.Type)).
		Str("reason", string(d.Signal.Reason)).
		Bool("guard_locked", d.Guard.Locked).
		Msg("tick")

	if p.Sink == nil {
		return d, nil
	}
	if err := p.Sink.Persist(ctx, d); err != nil {
		return d, errors.Join(ErrPersist, err)
	}
	return d, nil
}

var ErrPersist = errors.New("persist decision")
