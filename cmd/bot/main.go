// cmd/bot/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/r-umemoto/crossbot/pkg/config"
	"github.com/r-umemoto/crossbot/pkg/domain/market"
	"github.com/r-umemoto/crossbot/pkg/engine"
	"github.com/r-umemoto/crossbot/pkg/infra/store"
	"github.com/r-umemoto/crossbot/pkg/logger"
	"github.com/r-umemoto/crossbot/pkg/usecase"
)

func main() {
	statusOnly := flag.Bool("status", false, "print the account status and recent trades, then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗しました: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ロガーの初期化に失敗しました: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if *statusOnly {
		if err := printStatus(cfg); err != nil {
			log.Fatal("status failed", zap.Error(err))
		}
		return
	}

	// OSの終了シグナル（Ctrl+C）でコンテキストをキャンセルする
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.BuildEngine(cfg, log)
	if err != nil {
		log.Fatal("failed to build engine", zap.Error(err))
	}

	if err := e.Run(ctx); err != nil {
		log.Error("engine stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// printStatus reports the persisted state without connecting to the feed;
// open positions are marked at their entry price.
func printStatus(cfg *config.AppConfig) error {
	st, err := store.Open(cfg.DB, cfg.Mode)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	p := usecase.NewPortfolio(st, market.NewBook(1), cfg.Mode, cfg.Trade.QuoteAsset)
	status, err := p.Status(ctx)
	if err != nil {
		return err
	}
	trades, err := p.Trades(ctx, 20)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"status": status, "recent_trades": trades})
}
