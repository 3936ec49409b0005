package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/r-umemoto/crossbot/pkg/domain/position"
)

// Log writes every event as one structured info line.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("trades")}
}

func (l *Log) Notify(_ context.Context, ev position.Event) error {
	l.logger.Info("trade",
		zap.String("event_id", ev.ID.String()),
		zap.String("action", string(ev.Action)),
		zap.String("symbol", ev.Symbol),
		zap.String("exchange", ev.Exchange),
		zap.String("interval", ev.Interval),
		zap.Float64("qty", ev.Qty),
		zap.Float64("price", ev.Price),
		zap.Float64p("pnl_pct", ev.PnLPct),
		zap.String("reason", ev.Reason),
	)
	return nil
}
