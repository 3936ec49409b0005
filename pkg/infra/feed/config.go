// pkg/infra/feed/config.go
package feed

import "time"

// Config はローソク足フィードへの接続設定です
type Config struct {
	URL       string        `envconfig:"FEED_WS_URL" default:"ws://localhost:18082/ws/candles"`
	Reconnect time.Duration `envconfig:"FEED_RECONNECT" default:"3s"`
}
