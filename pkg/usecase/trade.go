// pkg/usecase/trade.go
package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/r-umemoto/crossbot/pkg/domain/market"
	"github.com/r-umemoto/crossbot/pkg/domain/position"
	"github.com/r-umemoto/crossbot/pkg/domain/signal"
	"github.com/r-umemoto/crossbot/pkg/metrics"
)

// Processor is the position manager surface used per tick.
type Processor interface {
	Process(ctx context.Context, key market.Key, sig signal.Signal, price float64, risk position.RiskConfig) position.Outcome
}

// Settings is the immutable per-tick snapshot handed to the detector and the manager.
type Settings struct {
	Params       signal.Params
	Risk         position.RiskConfig
	HistoryLimit int
}

// TickResult is what one evaluation of a key produced.
type TickResult struct {
	Key     market.Key
	Signal  signal.Signal
	Price   float64
	Outcome position.Outcome
	Err     error
}

// TradeUseCase はTickを受け取り、銘柄（キー）ごとのワーカーで判定と売買を行うユースケースです
type TradeUseCase struct {
	feed      market.PriceFeed
	processor Processor
	settings  Settings
	metrics   *metrics.Registry
	logger    *zap.Logger

	keys         []market.Key
	tickChannels map[market.Key]chan struct{} // キーごとのTick処理チャネル

	// OnResult, when set, receives every evaluation; called from the key's worker.
	OnResult func(TickResult)
}

func NewTradeUseCase(keys []market.Key, feed market.PriceFeed, processor Processor, settings Settings, m *metrics.Registry, logger *zap.Logger) *TradeUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.HistoryLimit < settings.Params.Window() {
		settings.HistoryLimit = settings.Params.Window()
	}
	uc := &TradeUseCase{
		feed:         feed,
		processor:    processor,
		settings:     settings,
		metrics:      m,
		logger:       logger,
		tickChannels: make(map[market.Key]chan struct{}),
	}

	for _, k := range keys {
		if _, exists := uc.tickChannels[k]; !exists {
			// 1件だけ保留できれば十分（保留中のTickがあれば次のTickはまとめる）
			uc.tickChannels[k] = make(chan struct{}, 1)
			uc.keys = append(uc.keys, k)
		}
	}
	return uc
}

// Keys returns the evaluated keys in configuration order.
func (u *TradeUseCase) Keys() []market.Key {
	return append([]market.Key(nil), u.keys...)
}

// StartWorkers はキーごとのワーカー（Goroutine）を起動します
func (u *TradeUseCase) StartWorkers(ctx context.Context) {
	for key, ch := range u.tickChannels {
		go u.worker(ctx, key, ch)
	}
}

// worker は特定のキーのTickを順番に処理します。同じキーのTickが並行して走ることはありません
func (u *TradeUseCase) worker(ctx context.Context, key market.Key, tickCh <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tickCh:
			res := u.Evaluate(ctx, key)
			if u.OnResult != nil {
				u.OnResult(res)
			}
		}
	}
}

// HandleTick は該当キーのチャネルへTickをルーティングします。
// 前のTickがまだ処理待ちなら、新しいTickはそれにまとめられます
func (u *TradeUseCase) HandleTick(key market.Key) bool {
	ch, ok := u.tickChannels[key]
	if !ok {
		return false
	}
	select {
	case ch <- struct{}{}:
		return true
	default:
		u.logger.Debug("tick coalesced, worker busy", zap.String("key", key.String()))
		return false
	}
}

// HandleTickAll routes one tick to every key.
func (u *TradeUseCase) HandleTickAll() {
	for _, k := range u.keys {
		u.HandleTick(k)
	}
}

// Evaluate runs one tick for key: price history, detector, position manager.
func (u *TradeUseCase) Evaluate(ctx context.Context, key market.Key) TickResult {
	start := time.Now()
	res := TickResult{Key: key}
	log := u.logger.With(
		zap.String("symbol", key.Symbol),
		zap.String("exchange", key.Exchange),
		zap.String("interval", key.Interval),
	)

	closes, err := u.feed.Closes(ctx, key, u.settings.HistoryLimit)
	if err != nil {
		res.Err = err
		log.Warn("price history unavailable", zap.Error(err))
		return res
	}
	price, err := u.feed.Price(ctx, key)
	if err != nil {
		res.Err = err
		log.Debug("no current price", zap.Error(err))
		return res
	}
	res.Price = price

	res.Signal = signal.Compute(closes, price, u.settings.Params)
	res.Outcome = u.processor.Process(ctx, key, res.Signal, price, u.settings.Risk)

	if u.metrics != nil {
		u.metrics.ObserveSignal(string(res.Signal.Action), res.Signal.Meta.Reason)
		u.metrics.ObserveTransition(string(res.Outcome.Status), res.Outcome.Reason)
		u.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}

	log.Debug("tick",
		zap.String("action", string(res.Signal.Action)),
		zap.String("reason", res.Signal.Meta.Reason),
		zap.Float64("gap", res.Signal.Meta.Gap),
		zap.Float64("price", price),
		zap.String("outcome", string(res.Outcome.Status)),
		zap.String("outcome_reason", res.Outcome.Reason),
	)
	return res
}
