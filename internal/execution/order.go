package execution

import (
	"fmt"
	"time"
)

// Order is a buy of one contract's YES token, placed after a BUY_* decision.
type Order struct {
	Market     string
	Day        string
	Signal     string
	TokenID    string
	Label      string
	Side       string
	Price      float64
	AmountUSDC float64
	Time       time.Time
}

func (o Order) String() string {
	return fmt.Sprintf("%s %s %s %s @ %.3f amount=%.2f", o.Market, o.Signal, o.Side, o.Label, o.Price, o.AmountUSDC)
}

// Ack is a confirmed acceptance of an order by the venue or the simulator.
type Ack struct {
	OrderID string
	Status  string
	Filled  bool
	Price   float64
	Size    float64
}
