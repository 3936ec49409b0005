// pkg/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/r-umemoto/crossbot/pkg/domain/market"
	"github.com/r-umemoto/crossbot/pkg/metrics"
	"github.com/r-umemoto/crossbot/pkg/usecase"
)

// BalanceSeeder seeds the quote wallet once.
type BalanceSeeder interface {
	EnsureBalance(ctx context.Context, asset string, amount float64) (bool, error)
}

// HistoryLoader preloads closed bars for a key.
type HistoryLoader interface {
	Load(ctx context.Context, book *market.Book, key market.Key) (int, error)
}

// StatusServer is the optional HTTP surface run next to the loop.
type StatusServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// EquityRecorder receives the marked-to-market equity on every ticker beat.
type EquityRecorder interface {
	RecordEquity(at time.Time, equity float64)
}

type Options struct {
	QuoteAsset   string
	StartBalance float64
	TickInterval time.Duration
}

// Engine はシステム全体のライフサイクル（初期化、実行、停止）を管理する司令部です
type Engine struct {
	streamer  market.CandleStreamer
	tradeUC   *usecase.TradeUseCase
	seeder    BalanceSeeder
	portfolio *usecase.Portfolio
	book      *market.Book
	history   HistoryLoader
	server    StatusServer
	metrics   *metrics.Registry
	recorders []EquityRecorder
	opts      Options
	logger    *zap.Logger

	closers []func() error
}

func NewEngine(streamer market.CandleStreamer, tradeUC *usecase.TradeUseCase, seeder BalanceSeeder, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 10 * time.Second
	}
	return &Engine{
		streamer: streamer,
		tradeUC:  tradeUC,
		seeder:   seeder,
		opts:     opts,
		logger:   logger,
	}
}

// Run はシステムの初期化を行い、ctx が終わるまでメインループを回します
func (e *Engine) Run(ctx context.Context) error {
	defer e.close()

	if e.seeder != nil {
		seeded, err := e.seeder.EnsureBalance(ctx, e.opts.QuoteAsset, e.opts.StartBalance)
		if err != nil {
			return fmt.Errorf("seed %s balance: %w", e.opts.QuoteAsset, err)
		}
		if seeded {
			e.logger.Info("start balance seeded", zap.String("asset", e.opts.QuoteAsset), zap.Float64("amount", e.opts.StartBalance))
		}
	}

	if e.history != nil && e.book != nil {
		for _, k := range e.tradeUC.Keys() {
			if _, err := e.history.Load(ctx, e.book, k); err != nil {
				e.logger.Warn("history backfill failed", zap.String("key", k.String()), zap.Error(err))
			}
		}
	}

	candleCh, err := e.streamer.Start(ctx)
	if err != nil {
		return fmt.Errorf("start feed: %w", err)
	}

	serverErr := make(chan error, 1)
	if e.server != nil {
		go func() { serverErr <- e.server.Start() }()
	}

	e.tradeUC.StartWorkers(ctx)
	e.updateGauges(ctx)

	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()

	e.logger.Info("🚀 crossbot started",
		zap.Int("keys", len(e.tradeUC.Keys())),
		zap.Duration("tick", e.opts.TickInterval),
	)

	// メインループ（すべてを1つのselectで統括する）
	var runErr error
Loop:
	for {
		select {
		case <-ctx.Done(): // OSの終了シグナル
			e.logger.Info("shutdown signal received, stopping loop")
			break Loop

		case <-ticker.C:
			e.tradeUC.HandleTickAll()
			e.updateGauges(ctx)

		case c, ok := <-candleCh:
			if !ok {
				candleCh = nil
				continue
			}
			// a bar just closed: evaluate without waiting for the ticker
			if c.Closed {
				e.tradeUC.HandleTick(c.Key)
			}

		case err := <-serverErr:
			runErr = fmt.Errorf("status api: %w", err)
			break Loop
		}
	}

	if e.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.server.Shutdown(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	return runErr
}

func (e *Engine) updateGauges(ctx context.Context) {
	if e.portfolio == nil {
		return
	}
	free, equity, err := e.portfolio.Balance(ctx)
	if err != nil {
		e.logger.Debug("balance gauge not updated", zap.Error(err))
		return
	}
	if e.metrics != nil {
		e.metrics.QuoteFree.Set(free)
	}
	now := time.Now().UTC()
	for _, r := range e.recorders {
		r.RecordEquity(now, equity)
	}
}

func (e *Engine) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Warn("close failed", zap.Error(err))
		}
	}
}
