// pkg/infra/feed/gateway.go
package feed

import (
	"context"

	"github.com/r-umemoto/crossbot/pkg/domain/market"
)

// Gateway は WSClient の受信をBookへ反映し、更新をそのまま下流へ流します
type Gateway struct {
	ws   *WSClient
	book *market.Book
}

func NewGateway(ws *WSClient, book *market.Book) *Gateway {
	return &Gateway{ws: ws, book: book}
}

// Start は market.CandleStreamer の実装です
func (g *Gateway) Start(ctx context.Context) (<-chan market.Candle, error) {
	raw := make(chan market.Candle, 100)
	out := make(chan market.Candle, 100)

	go g.ws.Listen(ctx, raw)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-raw:
				g.book.Update(c)
				select {
				case out <- c:
				default:
					// nobody is draining; the book already holds the update
				}
			}
		}
	}()

	return out, nil
}
