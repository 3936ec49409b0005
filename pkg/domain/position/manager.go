// pkg/domain/position/manager.go
package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/r-umemoto/crossbot/pkg/domain/ledger"
	"github.com/r-umemoto/crossbot/pkg/domain/market"
	"github.com/r-umemoto/crossbot/pkg/domain/signal"
)

// Manager drives the FLAT/OPEN state machine of every key against the ledger.
type Manager struct {
	ledger   ledger.Transactor
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[market.Key]*sync.Mutex
}

func NewManager(tx ledger.Transactor, notifier Notifier, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		ledger:   tx,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		locks:    make(map[market.Key]*sync.Mutex),
	}
}

// lock serialises transitions of one key; different keys proceed in parallel.
func (m *Manager) lock(key market.Key) func() {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Process applies sig at price to the position of key.
//
// The read of the open trade and the wallet, and the resulting writes, run in
// one ledger transaction under the key lock. A notification is sent after the
// commit and its failure never changes the returned outcome.
func (m *Manager) Process(ctx context.Context, key market.Key, sig signal.Signal, price float64, risk RiskConfig) Outcome {
	out, action := m.transition(ctx, key, sig, price, risk)

	log := m.logger.With(
		zap.String("key", key.String()),
		zap.String("status", string(out.Status)),
		zap.String("reason", out.Reason),
	)
	switch {
	case out.Status == StatusFailed:
		log.Error("position transition failed", zap.Error(out.Err))
	case out.Mutated():
		log.Info("position transition",
			zap.String("action", string(action)),
			zap.Float64("qty", out.Qty),
			zap.Float64("price", out.Price),
			zap.Float64p("pnl_pct", out.PnLPct),
		)
		m.notify(ctx, newEvent(key, action, out, m.eventTime(out)))
	default:
		log.Debug("position unchanged", zap.String("signal", string(sig.Action)))
	}
	return out
}

func (m *Manager) transition(ctx context.Context, key market.Key, sig signal.Signal, price float64, risk RiskConfig) (Outcome, signal.Action) {
	unlock := m.lock(key)
	defer unlock()

	var (
		out    Outcome
		action signal.Action
	)
	err := m.ledger.Transact(ctx, func(tx ledger.Ledger) error {
		open, err := tx.GetOpen(ctx, key)
		if err != nil {
			return err
		}
		if open != nil {
			action = signal.ActionSell
			out, err = m.manageOpen(ctx, tx, key, open, sig, price, risk)
			return err
		}
		action = signal.ActionBuy
		out, err = m.maybeOpen(ctx, tx, key, sig, price, risk)
		return err
	})
	if err != nil {
		return classify(err), action
	}
	return out, action
}

// maybeOpen is the FLAT -> OPEN edge.
func (m *Manager) maybeOpen(ctx context.Context, tx ledger.Ledger, key market.Key, sig signal.Signal, price float64, risk RiskConfig) (Outcome, error) {
	if sig.Action != signal.ActionBuy {
		return Outcome{Status: StatusHeld, Reason: ReasonFlat}, nil
	}

	free, err := tx.GetFree(ctx, risk.QuoteAsset)
	if err != nil {
		return Outcome{}, err
	}
	spend := math.Max(0, free*risk.AllocPct)
	if spend <= 0 || math.IsNaN(spend) {
		return Outcome{Status: StatusSkipped, Reason: ReasonNoQuote}, nil
	}
	if !validPrice(price) {
		return Outcome{Status: StatusSkipped, Reason: ReasonBadPrice}, nil
	}
	qty := spend / price

	if _, err := tx.AddFree(ctx, risk.QuoteAsset, -spend); err != nil {
		return Outcome{}, err
	}

	meta := sig.Meta.Fields()
	meta["src"] = "engine_buy"
	trade, err := tx.OpenEntry(ctx, key, price, qty, spend, meta)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Status: StatusOpened,
		Reason: ReasonEntry,
		Trade:  trade,
		Qty:    qty,
		Price:  price,
	}, nil
}

// manageOpen is the OPEN -> FLAT edge: SELL first, then the stop loss.
func (m *Manager) manageOpen(ctx context.Context, tx ledger.Ledger, key market.Key, open *ledger.Trade, sig signal.Signal, price float64, risk RiskConfig) (Outcome, error) {
	if !validPrice(price) {
		return Outcome{Status: StatusSkipped, Reason: ReasonBadPrice, Trade: open}, nil
	}

	var reason, src string
	switch {
	case sig.Action == signal.ActionSell:
		reason, src = ReasonSignalSell, "engine_sell"
	case price <= open.EntryPrice*(1-risk.StopLossPct):
		reason, src = ReasonStopLoss, "engine_sl"
	default:
		return Outcome{Status: StatusHeld, Reason: ReasonNoTrigger, Trade: open}, nil
	}

	closed, err := tx.CloseEntry(ctx, key, price, map[string]any{
		"src":         src,
		"exit_reason": reason,
		"exit_signal": sig.Meta.Fields(),
	})
	if err != nil {
		return Outcome{}, err
	}
	if closed == nil {
		return Outcome{}, ledger.ErrNoOpenPosition
	}

	// credit only after the close took effect
	proceeds := open.BaseQty * price
	if _, err := tx.AddFree(ctx, risk.QuoteAsset, proceeds); err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Status: StatusClosed,
		Reason: reason,
		Trade:  closed,
		Qty:    open.BaseQty,
		Price:  price,
		PnLPct: ledger.PnLPct(open.EntryPrice, price),
	}, nil
}

// eventTime is the time the store recorded for the transition.
func (m *Manager) eventTime(o Outcome) time.Time {
	if t := o.Trade; t != nil {
		if o.Status == StatusClosed && t.ClosedAt != nil {
			return *t.ClosedAt
		}
		if o.Status == StatusOpened && !t.OpenedAt.IsZero() {
			return t.OpenedAt
		}
	}
	return m.now().UTC()
}

func (m *Manager) notify(ctx context.Context, ev Event) {
	if m.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("notifier panicked", zap.Any("panic", r), zap.String("event_id", ev.ID.String()))
		}
	}()
	if err := m.notifier.Notify(ctx, ev); err != nil {
		m.logger.Warn("notification failed",
			zap.Error(err),
			zap.String("event_id", ev.ID.String()),
			zap.String("action", string(ev.Action)),
			zap.String("symbol", ev.Symbol),
		)
	}
}

func classify(err error) Outcome {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return Outcome{Status: StatusSkipped, Reason: ReasonInsufficientBalance, Err: err}
	case errors.Is(err, ledger.ErrAlreadyOpen):
		return Outcome{Status: StatusFailed, Reason: ReasonAlreadyOpen, Err: err}
	case errors.Is(err, ledger.ErrNoOpenPosition):
		return Outcome{Status: StatusFailed, Reason: ReasonNoOpenPosition, Err: err}
	default:
		return Outcome{Status: StatusFailed, Reason: ReasonPersistence, Err: fmt.Errorf("ledger transaction: %w", err)}
	}
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
