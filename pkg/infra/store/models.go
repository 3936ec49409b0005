package store

import (
	"time"

	"github.com/r-umemoto/crossbot/pkg/domain/ledger"
	"github.com/r-umemoto/crossbot/pkg/domain/market"
)

// tradeRecord is the trades row. The partial unique index allows any number of
// closed rows per key but only one open row.
type tradeRecord struct {
	ID         uint64  `gorm:"primaryKey;autoIncrement"`
	Mode       string  `gorm:"size:8;not null;index:idx_trades_open_key,unique,where:is_open"`
	Symbol     string  `gorm:"size:40;not null;index:idx_trades_open_key,unique"`
	Exchange   string  `gorm:"size:20;not null;index:idx_trades_open_key,unique"`
	Interval   string  `gorm:"size:10;not null;index:idx_trades_open_key,unique"`
	EntryPrice float64 `gorm:"not null"`
	ExitPrice  *float64
	BaseQty    float64   `gorm:"not null"`
	QuoteSpent float64   `gorm:"not null"`
	IsOpen     bool      `gorm:"not null;index"`
	OpenedAt   time.Time `gorm:"not null"`
	ClosedAt   *time.Time
	Meta       map[string]any `gorm:"serializer:json"`
}

func (tradeRecord) TableName() string { return "trades" }

func (r tradeRecord) toDomain() ledger.Trade {
	return ledger.Trade{
		ID:         r.ID,
		Key:        market.Key{Symbol: r.Symbol, Exchange: r.Exchange, Interval: r.Interval},
		EntryPrice: r.EntryPrice,
		ExitPrice:  r.ExitPrice,
		BaseQty:    r.BaseQty,
		QuoteSpent: r.QuoteSpent,
		IsOpen:     r.IsOpen,
		OpenedAt:   r.OpenedAt,
		ClosedAt:   r.ClosedAt,
		Meta:       r.Meta,
	}
}

type walletRecord struct {
	Asset     string  `gorm:"primaryKey;size:20"`
	Free      float64 `gorm:"not null"`
	Locked    float64 `gorm:"not null"`
	UpdatedAt time.Time
}

func (walletRecord) TableName() string { return "wallet" }

func (r walletRecord) toDomain() ledger.WalletBalance {
	return ledger.WalletBalance{Asset: r.Asset, Free: r.Free, Locked: r.Locked, UpdatedAt: r.UpdatedAt}
}
