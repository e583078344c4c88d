// Package feed keeps the latest order book per contract token and turns it
// into the ask quotes the strategy kernel reads.
package feed

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/clobtypes"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/ws"

	"github.com/GoPolymarket/weather-trader/internal/strategy"
)

// FetchFunc loads one book over REST.
type FetchFunc func(ctx context.Context, tokenID string) (clobtypes.OrderBook, error)

// Books maintains an in-memory order book snapshot per token.
type Books struct {
	mu      sync.RWMutex
	books   map[string]ws.OrderbookEvent
	updated map[string]time.Time
	maxAge  time.Duration
	now     func() time.Time
}

// NewBooks returns an empty snapshot. A positive maxAge makes older books
// quote as unavailable.
func NewBooks(maxAge time.Duration) *Books {
	return &Books{
		books:   make(map[string]ws.OrderbookEvent),
		updated: make(map[string]time.Time),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

func (s *Books) Update(event ws.OrderbookEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[event.AssetID] = event
	s.updated[event.AssetID] = s.now()
}

func (s *Books) Get(tokenID string) (ws.OrderbookEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[tokenID]
	return b, ok
}

// BestAsk returns the lowest ask with positive size.
func (s *Books) BestAsk(tokenID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[tokenID]
	if !ok {
		return 0, fmt.Errorf("no book for %s", tokenID)
	}
	if s.maxAge > 0 && s.now().Sub(s.updated[tokenID]) > s.maxAge {
		return 0, fmt.Errorf("book for %s is stale", tokenID)
	}
	best, found := 0.0, false
	for _, lvl := range b.Asks {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		if size, err := strconv.ParseFloat(lvl.Size, 64); err == nil && size <= 0 {
			continue
		}
		if !found || price < best {
			best, found = price, true
		}
	}
	if !found {
		return 0, fmt.Errorf("no asks for %s", tokenID)
	}
	return best, nil
}

// Quotes returns the ask per contract label. Contracts without a usable
// book are present with OK=false.
func (s *Books) Quotes(contracts []strategy.Contract) map[string]strategy.Quote {
	out := make(map[string]strategy.Quote, len(contracts))
	for _, c := range contracts {
		ask, err := s.BestAsk(c.TokenID)
		out[c.Label] = strategy.Quote{Ask: ask, OK: err == nil}
	}
	return out
}

// Seed loads books over REST for tokens that have none yet.
func (s *Books) Seed(ctx context.Context, fetch FetchFunc, tokenIDs []string) error {
	var firstErr error
	for _, id := range tokenIDs {
		if _, ok := s.Get(id); ok {
			continue
		}
		book, err := fetch(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("seed book %s: %w", id, err)
			}
			continue
		}
		s.Update(FromREST(id, book))
	}
	return firstErr
}

// FromREST converts a REST book into the WebSocket event shape.
func FromREST(tokenID string, book clobtypes.OrderBook) ws.OrderbookEvent {
	ev := ws.OrderbookEvent{AssetID: tokenID}
	for _, l := range book.Bids {
		ev.Bids = append(ev.Bids, ws.OrderbookLevel{Price: l.Price, Size: l.Size})
	}
	for _, l := range book.Asks {
		ev.Asks = append(ev.Asks, ws.OrderbookLevel{Price: l.Price, Size: l.Size})
	}
	return ev
}

// TokenIDs returns all tracked tokens.
func (s *Books) TokenIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.books))
	for id := range s.books {
		ids = append(ids, id)
	}
	return ids
}
