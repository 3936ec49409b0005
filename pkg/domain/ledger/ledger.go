// pkg/domain/ledger/ledger.go
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/r-umemoto/crossbot/pkg/domain/market"
)

var (
	ErrAlreadyOpen         = errors.New("a position is already open for this key")
	ErrNoOpenPosition      = errors.New("no open position for this key")
	ErrInsufficientBalance = errors.New("insufficient free balance")
)

// Trade is one position record. It is created open and later closed in place;
// records are never deleted.
type Trade struct {
	ID         uint64         `json:"id"`
	Key        market.Key     `json:"key"`
	EntryPrice float64        `json:"entry_price"`
	ExitPrice  *float64       `json:"exit_price"`
	BaseQty    float64        `json:"base_qty"`
	QuoteSpent float64        `json:"quote_spent"`
	IsOpen     bool           `json:"is_open"`
	OpenedAt   time.Time      `json:"opened_at"`
	ClosedAt   *time.Time     `json:"closed_at"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// PnLPct returns the fractional return of a closed trade, or nil when it cannot be computed.
func (t Trade) PnLPct() *float64 {
	if t.ExitPrice == nil {
		return nil
	}
	return PnLPct(t.EntryPrice, *t.ExitPrice)
}

// PnLPct is (exit-entry)/entry, nil when entry is not positive.
func PnLPct(entry, exit float64) *float64 {
	if entry <= 0 {
		return nil
	}
	v := (exit - entry) / entry
	return &v
}

// WalletBalance is the per-asset balance row.
type WalletBalance struct {
	Asset     string    `json:"asset"`
	Free      float64   `json:"free"`
	Locked    float64   `json:"locked"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TradeStore persists positions keyed by market.Key, at most one open per key.
type TradeStore interface {
	HasOpen(ctx context.Context, key market.Key) (bool, error)
	// GetOpen returns nil when nothing is open. Inside a transaction the row
	// stays locked until it ends.
	GetOpen(ctx context.Context, key market.Key) (*Trade, error)
	// OpenEntry fails with ErrAlreadyOpen when a trade is already open for key.
	OpenEntry(ctx context.Context, key market.Key, entryPrice, baseQty, quoteSpent float64, meta map[string]any) (*Trade, error)
	// CloseEntry returns the closed trade as stored, or nil (no-op) when nothing
	// is open for key.
	CloseEntry(ctx context.Context, key market.Key, exitPrice float64, meta map[string]any) (*Trade, error)
}

// WalletLedger holds free/locked balances per asset.
type WalletLedger interface {
	// GetFree returns 0 for an unknown asset. Inside a transaction the balance
	// stays locked until it ends.
	GetFree(ctx context.Context, asset string) (float64, error)
	// AddFree creates the asset row when absent and applies delta. It fails with
	// ErrInsufficientBalance instead of letting free go negative.
	AddFree(ctx context.Context, asset string, delta float64) (WalletBalance, error)
}

// Ledger is the combined store surface used inside one transition.
type Ledger interface {
	TradeStore
	WalletLedger
}

// Transactor runs fn against a Ledger bound to a single transaction. The
// transaction commits when fn returns nil and rolls back on error or panic.
type Transactor interface {
	Transact(ctx context.Context, fn func(tx Ledger) error) error
}
