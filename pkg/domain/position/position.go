// pkg/domain/position/position.go
package position

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/r-umemoto/crossbot/pkg/domain/ledger"
	"github.com/r-umemoto/crossbot/pkg/domain/market"
	"github.com/r-umemoto/crossbot/pkg/domain/signal"
)

type Status string

const (
	StatusOpened  Status = "opened"
	StatusClosed  Status = "closed"
	StatusHeld    Status = "held"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

const (
	ReasonSignalSell          = "signal_sell"
	ReasonStopLoss            = "stop_loss"
	ReasonEntry               = "entry"
	ReasonNoTrigger           = "no_trigger"
	ReasonFlat                = "flat"
	ReasonNoQuote             = "no_quote"
	ReasonBadPrice            = "bad_price"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonAlreadyOpen         = "already_open"
	ReasonNoOpenPosition      = "no_open_position"
	ReasonPersistence         = "persistence"
)

// RiskConfig is the immutable sizing/risk snapshot for one tick.
type RiskConfig struct {
	QuoteAsset  string
	AllocPct    float64 // fraction of free quote spent on entry
	StopLossPct float64 // fraction below entry that forces an exit
}

// Outcome is the result of one Process call.
type Outcome struct {
	Status Status
	Reason string
	Trade  *ledger.Trade
	Qty    float64
	Price  float64
	PnLPct *float64
	Err    error
}

// Mutated reports whether the ledger changed.
func (o Outcome) Mutated() bool {
	return o.Status == StatusOpened || o.Status == StatusClosed
}

// Event is emitted to the Notifier after a committed open or close.
type Event struct {
	ID       uuid.UUID     `json:"id"`
	Action   signal.Action `json:"action"`
	Symbol   string        `json:"symbol"`
	Exchange string        `json:"exchange"`
	Interval string        `json:"interval"`
	Qty      float64       `json:"qty"`
	Price    float64       `json:"price"`
	PnLPct   *float64      `json:"pnl_pct"`
	Reason   string        `json:"reason"`
	At       time.Time     `json:"at"`
}

// Notifier receives trade events. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

func newEvent(key market.Key, action signal.Action, o Outcome, at time.Time) Event {
	return Event{
		ID:       uuid.New(),
		Action:   action,
		Symbol:   key.Symbol,
		Exchange: key.Exchange,
		Interval: key.Interval,
		Qty:      o.Qty,
		Price:    o.Price,
		PnLPct:   o.PnLPct,
		Reason:   o.Reason,
		At:       at,
	}
}
