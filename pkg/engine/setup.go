// pkg/engine/setup.go
package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/r-umemoto/crossbot/pkg/api"
	"github.com/r-umemoto/crossbot/pkg/config"
	"github.com/r-umemoto/crossbot/pkg/domain/market"
	"github.com/r-umemoto/crossbot/pkg/domain/position"
	"github.com/r-umemoto/crossbot/pkg/infra/feed"
	"github.com/r-umemoto/crossbot/pkg/infra/notify"
	"github.com/r-umemoto/crossbot/pkg/infra/store"
	"github.com/r-umemoto/crossbot/pkg/metrics"
	"github.com/r-umemoto/crossbot/pkg/usecase"
)

// BuildEngine は、システム全体を俯瞰する「目次」です
func BuildEngine(cfg *config.AppConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	keys, err := cfg.Keys()
	if err != nil {
		return nil, err
	}

	// 1. インフラ層の構築（泥臭い設定はすべてここへ）
	st, err := store.Open(cfg.DB, cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	book := market.NewBook(max(cfg.HistoryLimit()*2, market.DefaultMaxBars))
	gateway := feed.NewGateway(feed.NewWSClient(cfg.Feed, logger.Named("feed")), book)
	m := metrics.New()

	// 2. ユースケースの組み立て
	portfolio := usecase.NewPortfolio(st, book, cfg.Mode, cfg.Trade.QuoteAsset)
	hub := notify.NewHub(logger.Named("hub"))
	var tg *notify.Telegram
	if cfg.Telegram.Enabled() {
		tg = notify.NewTelegram(cfg.Telegram, cfg.Mode, cfg.Trade.QuoteAsset, portfolio)
	}
	notifier := buildNotifier(tg, hub, m, logger)

	manager := position.NewManager(st, notifier, logger.Named("position"))
	tradeUC := usecase.NewTradeUseCase(keys, book, manager, usecase.Settings{
		Params:       cfg.SignalParams(),
		Risk:         cfg.RiskSnapshot(),
		HistoryLimit: cfg.HistoryLimit(),
	}, m, logger.Named("trade"))

	// 3. エンジンの完成
	e := NewEngine(gateway, tradeUC, st, Options{
		QuoteAsset:   cfg.Trade.QuoteAsset,
		StartBalance: cfg.Trade.StartBalance,
		TickInterval: cfg.Trade.TickInterval,
	}, logger)
	e.book = book
	e.portfolio = portfolio
	e.metrics = m
	if tg != nil {
		e.recorders = append(e.recorders, tg)
	}
	e.closers = append(e.closers, st.Close, func() error { hub.Close(); return nil })

	if cfg.Backfill.Enabled {
		e.history = feed.NewBackfill(cfg.Backfill, logger.Named("backfill"))
	}
	if cfg.HTTPAddr != "" {
		h := api.NewHandler(portfolio, m.Handler(), hub, logger.Named("api"))
		e.server = api.NewServer(cfg.HTTPAddr, h)
	}

	logger.Info("engine built",
		zap.String("mode", cfg.Mode),
		zap.String("db", cfg.DB.Driver),
		zap.Stringers("keys", keys),
		zap.Bool("telegram", cfg.Telegram.Enabled()),
		zap.Bool("backfill", cfg.Backfill.Enabled),
	)
	return e, nil
}

// ---------------------------------------------------------
// ▼ ここから下は「下請け工場（プライベート関数）」
// ---------------------------------------------------------

func buildNotifier(tg *notify.Telegram, hub *notify.Hub, m *metrics.Registry, logger *zap.Logger) position.Notifier {
	sinks := notify.Multi{notify.NewLog(logger), hub}
	if tg != nil {
		sinks = append(sinks, tg)
	}
	return notify.Counting{Next: sinks, OnFail: m.NotifyFailures.Inc}
}
