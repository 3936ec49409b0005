// pkg/domain/market/book.go
package market

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrNoPrice = errors.New("no price for key")

// DefaultMaxBars bounds the closed-bar history kept per key.
const DefaultMaxBars = 1000

// Book is the in-memory PriceFeed. It keeps the closed bars and the forming
// bar for every key it has seen.
type Book struct {
	maxBars int
	series  map[Key]*series
	mu      sync.RWMutex
}

type series struct {
	closed []Candle
	live   *Candle
}

func NewBook(maxBars int) *Book {
	if maxBars <= 0 {
		maxBars = DefaultMaxBars
	}
	return &Book{
		maxBars: maxBars,
		series:  make(map[Key]*series),
	}
}

// Update applies a pushed candle. A closed candle replaces a closed bar with the
// same timestamp or is inserted in time order; an open candle becomes the live bar.
func (b *Book) Update(c Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.series[c.Key]
	if !ok {
		s = &series{}
		b.series[c.Key] = s
	}

	if !c.Closed {
		// a late live update for an already closed bar is ignored
		if n := len(s.closed); n > 0 && s.closed[n-1].TsMs >= c.TsMs {
			return
		}
		live := c
		s.live = &live
		return
	}

	if s.live != nil && s.live.TsMs <= c.TsMs {
		s.live = nil
	}

	i := sort.Search(len(s.closed), func(i int) bool { return s.closed[i].TsMs >= c.TsMs })
	switch {
	case i < len(s.closed) && s.closed[i].TsMs == c.TsMs:
		s.closed[i] = c
	case i == len(s.closed):
		s.closed = append(s.closed, c)
	default:
		s.closed = append(s.closed, Candle{})
		copy(s.closed[i+1:], s.closed[i:])
		s.closed[i] = c
	}

	if len(s.closed) > b.maxBars {
		s.closed = append([]Candle(nil), s.closed[len(s.closed)-b.maxBars:]...)
	}
}

// Closes implements PriceFeed.
func (b *Book) Closes(_ context.Context, key Key, limit int) ([]float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.series[key]
	if !ok {
		return []float64{}, nil
	}

	out := make([]float64, 0, len(s.closed)+1)
	for _, c := range s.closed {
		out = append(out, c.Close)
	}
	if s.live != nil {
		out = append(out, s.live.Close)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Price implements PriceFeed. It falls back to the last closed bar when no live
// bar is forming.
func (b *Book) Price(_ context.Context, key Key) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.series[key]
	if !ok {
		return 0, ErrNoPrice
	}
	if s.live != nil {
		return s.live.Close, nil
	}
	if n := len(s.closed); n > 0 {
		return s.closed[n-1].Close, nil
	}
	return 0, ErrNoPrice
}
