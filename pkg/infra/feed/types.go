package feed

import (
	"fmt"
	"strings"

	"github.com/r-umemoto/crossbot/pkg/domain/market"
)

// CandleMessage is one push on the candle stream.
type CandleMessage struct {
	Symbol   string  `json:"symbol"`
	Exchange string  `json:"exchange"`
	Interval string  `json:"interval"`
	TsMs     int64   `json:"ts_ms"`
	Close    float64 `json:"close"`
	Closed   bool    `json:"closed"`
}

func (m CandleMessage) toCandle() (market.Candle, error) {
	if m.Symbol == "" || m.Exchange == "" || m.Interval == "" {
		return market.Candle{}, fmt.Errorf("candle without key: %+v", m)
	}
	return market.Candle{
		Key: market.Key{
			Symbol:   strings.ToUpper(m.Symbol),
			Exchange: strings.ToUpper(m.Exchange),
			Interval: m.Interval,
		},
		TsMs:   m.TsMs,
		Close:  m.Close,
		Closed: m.Closed,
	}, nil
}
