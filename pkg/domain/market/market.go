// pkg/domain/market/market.go
package market

import (
	"context"
	"fmt"
	"strings"
)

// Key identifies one evaluated stream: a symbol on an exchange at a candle interval.
// Positions, ticks and price history are all scoped by it.
type Key struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Interval string `json:"interval"`
}

func (k Key) String() string {
	return k.Symbol + ":" + k.Exchange + ":" + k.Interval
}

// ParseKey parses "SYMBOL:EXCHANGE:INTERVAL".
func ParseKey(s string) (Key, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("invalid pair %q: want SYMBOL:EXCHANGE:INTERVAL", s)
	}
	k := Key{
		Symbol:   strings.ToUpper(strings.TrimSpace(parts[0])),
		Exchange: strings.ToUpper(strings.TrimSpace(parts[1])),
		Interval: strings.TrimSpace(parts[2]),
	}
	if k.Symbol == "" || k.Exchange == "" || k.Interval == "" {
		return Key{}, fmt.Errorf("invalid pair %q: empty component", s)
	}
	return k, nil
}

// Candle is one close-price bar pushed by the exchange side.
// Closed is false while the bar is still forming (the live bar).
type Candle struct {
	Key
	TsMs   int64
	Close  float64
	Closed bool
}

// PriceFeed supplies price history and the current price for a key.
type PriceFeed interface {
	// Closes returns up to limit close prices, ascending by time, ending with the live bar.
	Closes(ctx context.Context, key Key, limit int) ([]float64, error)
	// Price returns the current scalar price.
	Price(ctx context.Context, key Key) (float64, error)
}

// CandleStreamer connects to the market and streams candle updates until ctx is done.
type CandleStreamer interface {
	Start(ctx context.Context) (<-chan Candle, error)
}
