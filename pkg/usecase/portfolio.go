// pkg/usecase/portfolio.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/r-umemoto/crossbot/pkg/domain/ledger"
	"github.com/r-umemoto/crossbot/pkg/domain/market"
)

// PortfolioStore is the read side of the ledger used for reporting.
type PortfolioStore interface {
	GetFree(ctx context.Context, asset string) (float64, error)
	ListOpen(ctx context.Context) ([]ledger.Trade, error)
	ListTrades(ctx context.Context, limit int) ([]ledger.Trade, error)
	Balances(ctx context.Context) ([]ledger.WalletBalance, error)
}

// OpenPosition is an open trade marked to the current price.
type OpenPosition struct {
	ID            uint64     `json:"id"`
	Key           market.Key `json:"key"`
	EntryPrice    float64    `json:"entry_price"`
	BaseQty       float64    `json:"base_qty"`
	QuoteSpent    float64    `json:"quote_spent"`
	OpenedAt      time.Time  `json:"opened_at"`
	MarkPrice     float64    `json:"mark_price"`
	MarkStale     bool       `json:"mark_stale"` // no live price, entry price used
	Value         float64    `json:"value"`
	UnrealizedPct *float64   `json:"unrealized_pct"`
}

// Status is the account snapshot served by the status API.
type Status struct {
	Mode       string                 `json:"mode"`
	QuoteAsset string                 `json:"quote_asset"`
	Free       float64                `json:"free"`
	Balances   []ledger.WalletBalance `json:"balances"`
	Open       []OpenPosition         `json:"open"`
	Equity     float64                `json:"equity"`
	At         time.Time              `json:"at"`
}

// Portfolio computes equity: free quote plus every open position at its mark price.
type Portfolio struct {
	store PortfolioStore
	feed  market.PriceFeed
	mode  string
	quote string
	now   func() time.Time
}

func NewPortfolio(store PortfolioStore, feed market.PriceFeed, mode, quote string) *Portfolio {
	return &Portfolio{store: store, feed: feed, mode: mode, quote: quote, now: time.Now}
}

func (p *Portfolio) Status(ctx context.Context) (Status, error) {
	free, err := p.store.GetFree(ctx, p.quote)
	if err != nil {
		return Status{}, fmt.Errorf("free balance: %w", err)
	}
	open, err := p.store.ListOpen(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("open trades: %w", err)
	}
	balances, err := p.store.Balances(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("wallet: %w", err)
	}

	st := Status{
		Mode:       p.mode,
		QuoteAsset: p.quote,
		Free:       free,
		Balances:   balances,
		Open:       make([]OpenPosition, 0, len(open)),
		Equity:     free,
		At:         p.now().UTC(),
	}
	for _, t := range open {
		mark, stale := t.EntryPrice, true
		if price, err := p.feed.Price(ctx, t.Key); err == nil && price > 0 {
			mark, stale = price, false
		}
		pos := OpenPosition{
			ID:            t.ID,
			Key:           t.Key,
			EntryPrice:    t.EntryPrice,
			BaseQty:       t.BaseQty,
			QuoteSpent:    t.QuoteSpent,
			OpenedAt:      t.OpenedAt,
			MarkPrice:     mark,
			MarkStale:     stale,
			Value:         t.BaseQty * mark,
			UnrealizedPct: ledger.PnLPct(t.EntryPrice, mark),
		}
		st.Open = append(st.Open, pos)
		st.Equity += pos.Value
	}
	return st, nil
}

// Balance implements notify.Balances.
func (p *Portfolio) Balance(ctx context.Context) (float64, float64, error) {
	st, err := p.Status(ctx)
	if err != nil {
		return 0, 0, err
	}
	return st.Free, st.Equity, nil
}

// Trades returns the most recent trades, newest first.
func (p *Portfolio) Trades(ctx context.Context, limit int) ([]ledger.Trade, error) {
	return p.store.ListTrades(ctx, limit)
}
