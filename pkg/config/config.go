// pkg/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/r-umemoto/crossbot/pkg/domain/market"
	"github.com/r-umemoto/crossbot/pkg/domain/position"
	"github.com/r-umemoto/crossbot/pkg/domain/signal"
	"github.com/r-umemoto/crossbot/pkg/infra/feed"
	"github.com/r-umemoto/crossbot/pkg/infra/notify"
	"github.com/r-umemoto/crossbot/pkg/infra/store"
	"github.com/r-umemoto/crossbot/pkg/logger"
)

const (
	ModeDry  = "dry"
	ModeLive = "live"
)

// AppConfig はシステム全体の設定です
type AppConfig struct {
	Mode     string `envconfig:"BOT_MODE" default:"dry"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	Strategy StrategyConfig
	Risk     RiskConfig
	Trade    TradeConfig

	// ネストされた構造体も、タグに従って自動で読み込まれます
	DB       store.Config
	Feed     feed.Config
	Backfill feed.BackfillConfig
	Telegram notify.TelegramConfig
	Log      logger.Config
}

// StrategyConfig はEMAクロス判定のパラメータです
type StrategyConfig struct {
	EMAFast        int     `envconfig:"EMA_FAST" default:"9"`
	EMASlow        int     `envconfig:"EMA_SLOW" default:"20"`
	EntryMinGapPct float64 `envconfig:"ENTRY_MIN_GAP_PCT" default:"0.0005"`
	EntryMinGapBps float64 `envconfig:"ENTRY_MIN_GAP_BPS"` // > 0 overrides ENTRY_MIN_GAP_PCT
	CrossGraceBars int     `envconfig:"CROSS_GRACE_BARS" default:"3"`
}

// RiskConfig はポジションサイズと損切りの設定です
type RiskConfig struct {
	AllocPct    float64 `envconfig:"ALLOC_PCT" default:"5.0"`       // percent of free quote
	StopLossPct float64 `envconfig:"STOP_LOSS_PCT" default:"0.005"` // fraction of entry
}

type TradeConfig struct {
	QuoteAsset   string        `envconfig:"QUOTE_ASSET" default:"USDC"`
	StartBalance float64       `envconfig:"START_BALANCE" default:"1000"`
	Pairs        []string      `envconfig:"PAIRS" default:"BTCUSDC:MEXC:1m"`
	TickInterval time.Duration `envconfig:"TICK_INTERVAL" default:"10s"`
	HistoryLimit int           `envconfig:"HISTORY_LIMIT" default:"500"`
}

// Load は環境変数から設定を自動でマッピングして返します
func Load() (*AppConfig, error) {
	// .env が存在しない環境もあるため、エラーは無視します
	_ = godotenv.Load()

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.Trade.QuoteAsset = strings.ToUpper(strings.TrimSpace(cfg.Trade.QuoteAsset))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the bot cannot run with.
func (c *AppConfig) Validate() error {
	if c.Mode != ModeDry && c.Mode != ModeLive {
		return fmt.Errorf("BOT_MODE must be %q or %q, got %q", ModeDry, ModeLive, c.Mode)
	}
	s := c.Strategy
	if s.EMAFast <= 0 || s.EMASlow <= 0 {
		return fmt.Errorf("EMA periods must be positive, got fast=%d slow=%d", s.EMAFast, s.EMASlow)
	}
	if s.CrossGraceBars < 0 {
		return fmt.Errorf("CROSS_GRACE_BARS must not be negative, got %d", s.CrossGraceBars)
	}
	if s.EntryMinGapPct < 0 || s.EntryMinGapBps < 0 {
		return fmt.Errorf("entry gap must not be negative")
	}
	if c.Risk.AllocPct <= 0 || c.Risk.AllocPct > 100 {
		return fmt.Errorf("ALLOC_PCT must be in (0, 100], got %v", c.Risk.AllocPct)
	}
	if c.Risk.StopLossPct < 0 || c.Risk.StopLossPct >= 1 {
		return fmt.Errorf("STOP_LOSS_PCT must be in [0, 1), got %v", c.Risk.StopLossPct)
	}
	if c.Trade.QuoteAsset == "" {
		return fmt.Errorf("QUOTE_ASSET is empty")
	}
	if c.Trade.StartBalance < 0 {
		return fmt.Errorf("START_BALANCE must not be negative")
	}
	if c.Trade.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive")
	}
	if _, err := c.Keys(); err != nil {
		return err
	}
	return nil
}

// Keys parses PAIRS; duplicates are dropped.
func (c *AppConfig) Keys() ([]market.Key, error) {
	seen := make(map[market.Key]bool)
	var keys []market.Key
	for _, p := range c.Trade.Pairs {
		if strings.TrimSpace(p) == "" {
			continue
		}
		k, err := market.ParseKey(p)
		if err != nil {
			return nil, fmt.Errorf("PAIRS: %w", err)
		}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("PAIRS is empty")
	}
	return keys, nil
}

// SignalParams returns the detector snapshot.
func (c *AppConfig) SignalParams() signal.Params {
	gap := c.Strategy.EntryMinGapPct
	if c.Strategy.EntryMinGapBps > 0 {
		gap = c.Strategy.EntryMinGapBps / 10000
	}
	return signal.Params{
		EMAFast:        c.Strategy.EMAFast,
		EMASlow:        c.Strategy.EMASlow,
		EntryMinGapPct: gap,
		CrossGraceBars: c.Strategy.CrossGraceBars,
	}
}

// RiskSnapshot returns the position manager snapshot, ALLOC_PCT converted to a fraction.
func (c *AppConfig) RiskSnapshot() position.RiskConfig {
	return position.RiskConfig{
		QuoteAsset:  c.Trade.QuoteAsset,
		AllocPct:    c.Risk.AllocPct / 100,
		StopLossPct: c.Risk.StopLossPct,
	}
}

// HistoryLimit is the number of closes requested per tick, at least the
// detector window.
func (c *AppConfig) HistoryLimit() int {
	return max(c.Trade.HistoryLimit, c.SignalParams().Window())
}
