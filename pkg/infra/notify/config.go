// pkg/infra/notify/config.go
package notify

// TelegramConfig はTelegram通知の設定です。Token か ChatID が空なら通知は無効になります
type TelegramConfig struct {
	Token    string `envconfig:"TELEGRAM_BOT_TOKEN"`
	ChatID   int64  `envconfig:"TELEGRAM_CHAT_ID"`
	Endpoint string `envconfig:"TELEGRAM_API_ENDPOINT" default:"https://api.telegram.org/bot%s/%s"`
}

func (c TelegramConfig) Enabled() bool {
	return c.Token != "" && c.ChatID != 0
}
