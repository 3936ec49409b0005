// pkg/infra/feed/backfill.go
package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"

	"github.com/r-umemoto/crossbot/pkg/domain/market"
)

// BackfillConfig はREST経由の過去ローソク足取得の設定です
type BackfillConfig struct {
	Enabled bool   `envconfig:"BACKFILL_ENABLED" default:"false"`
	BaseURL string `envconfig:"BACKFILL_BASE_URL"` // empty: Binance production
	Limit   int    `envconfig:"BACKFILL_LIMIT" default:"500"`
}

// Backfill seeds the book with closed klines so a freshly started bot does not
// wait a full detector window of live bars.
type Backfill struct {
	client *binance.Client
	limit  int
	now    func() time.Time
	logger *zap.Logger
}

func NewBackfill(cfg BackfillConfig, logger *zap.Logger) *Backfill {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := binance.NewClient("", "")
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	limit := cfg.Limit
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	return &Backfill{client: client, limit: limit, now: time.Now, logger: logger}
}

// Load fetches the klines of key and applies them to book. Klines whose close
// time is still in the future are the forming bar and are applied as live.
func (b *Backfill) Load(ctx context.Context, book *market.Book, key market.Key) (int, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(key.Symbol).
		Interval(key.Interval).
		Limit(b.limit).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("klines %s: %w", key, err)
	}

	nowMs := b.now().UnixMilli()
	n := 0
	for _, k := range klines {
		closePrice, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			b.logger.Warn("bad kline close", zap.String("key", key.String()), zap.String("close", k.Close))
			continue
		}
		book.Update(market.Candle{
			Key:    key,
			TsMs:   k.OpenTime,
			Close:  closePrice,
			Closed: k.CloseTime < nowMs,
		})
		n++
	}
	b.logger.Info("history backfilled", zap.String("key", key.String()), zap.Int("bars", n))
	return n, nil
}
