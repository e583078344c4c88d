package execution

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/clobtypes"
)

var ErrRejected = errors.New("order rejected")

// LiveSubmitter places fill-and-kill market buys on the CLOB.
type LiveSubmitter struct {
	client  clob.Client
	signer  auth.Signer
	tracker *Tracker
	dryRun  bool
}

func NewLiveSubmitter(client clob.Client, signer auth.Signer, tracker *Tracker, dryRun bool) *LiveSubmitter {
	return &LiveSubmitter{client: client, signer: signer, tracker: tracker, dryRun: dryRun}
}

// Submit is called once per buy decision and never retried.
func (s *LiveSubmitter) Submit(ctx context.Context, o Order) (Ack, error) {
	if s.dryRun {
		return Ack{}, fmt.Errorf("dry run: %s not sent", o)
	}
	if s.client == nil || s.signer == nil {
		return Ack{}, errors.New("live submitter requires an authenticated CLOB client")
	}
	side := strings.ToUpper(o.Side)
	if side == "" {
		side = "BUY"
	}

	builder := clob.NewOrderBuilder(s.client, s.signer).
		TokenID(o.TokenID).
		Side(side).
		AmountUSDC(o.AmountUSDC).
		OrderType(clobtypes.OrderTypeFAK)

	signable, err := builder.BuildMarketWithContext(ctx)
	if err != nil {
		return Ack{}, fmt.Errorf("build market %s %s: %w", side, o.TokenID, err)
	}
	resp, err := s.client.CreateOrderFromSignable(ctx, signable)
	if err != nil {
		return Ack{}, fmt.Errorf("place market %s %s: %w", side, o.TokenID, err)
	}
	if resp.ID == "" {
		return Ack{}, fmt.Errorf("%w: %s status=%q", ErrRejected, o.TokenID, resp.Status)
	}

	price, _ := strconv.ParseFloat(resp.Price, 64)
	matched, _ := strconv.ParseFloat(resp.SizeMatched, 64)
	ack := Ack{
		OrderID: resp.ID,
		Status:  resp.Status,
		Filled:  matched > 0,
		Price:   price,
		Size:    matched,
	}
	if s.tracker != nil {
		s.tracker.Register(o, ack)
	}
	return ack, nil
}
