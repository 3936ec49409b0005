// pkg/infra/feed/websocket.go
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/r-umemoto/crossbot/pkg/domain/market"
)

// WSClient はローソク足のWebSocket購読を管理する構造体です
type WSClient struct {
	URL       string
	Reconnect time.Duration
	Dialer    *websocket.Dialer

	logger *zap.Logger
}

func NewWSClient(cfg Config, logger *zap.Logger) *WSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = 3 * time.Second
	}
	return &WSClient{
		URL:       cfg.URL,
		Reconnect: cfg.Reconnect,
		Dialer:    websocket.DefaultDialer,
		logger:    logger.With(zap.String("feed", cfg.URL)),
	}
}

// Listen はサーバーに接続し、受信したローソク足をチャネル(ch)に流し続けます。
// 切断されたら Reconnect 間隔で再接続し、ctx が終わるまで戻りません。
func (w *WSClient) Listen(ctx context.Context, ch chan<- market.Candle) {
	for {
		if err := w.session(ctx, ch); err != nil && ctx.Err() == nil {
			w.logger.Warn("feed disconnected", zap.Error(err), zap.Duration("retry_in", w.Reconnect))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.Reconnect):
		}
	}
}

// session runs one connection until it fails or ctx is done.
func (w *WSClient) session(ctx context.Context, ch chan<- market.Candle) error {
	conn, _, err := w.Dialer.DialContext(ctx, w.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	w.logger.Info("feed connected")

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg CandleMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.logger.Warn("bad candle payload", zap.Error(err))
			continue
		}
		c, err := msg.toCandle()
		if err != nil {
			w.logger.Warn("bad candle payload", zap.Error(err))
			continue
		}

		select {
		case ch <- c:
		case <-ctx.Done():
			return nil
		}
	}
}
