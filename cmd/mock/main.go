// cmd/mock/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/r-umemoto/crossbot/pkg/infra/feed"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func main() {
	addr := flag.String("addr", ":18082", "listen address")
	pairs := flag.String("pairs", "BTCUSDC:MEXC:1m", "comma separated SYMBOL:EXCHANGE:INTERVAL")
	every := flag.Duration("every", time.Second, "push period")
	barTicks := flag.Int("bar", 5, "pushes per bar; the last one closes it")
	history := flag.Int("history", 80, "closed bars sent right after connect")
	flag.Parse()

	http.HandleFunc("/ws/candles", func(w http.ResponseWriter, r *http.Request) {
		handleCandles(w, r, strings.Split(*pairs, ","), *every, *barTicks, *history)
	})

	fmt.Printf("[Mock] サーバー起動: ローソク足モックが %s で待機中...\n", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal("サーバー起動エラー:", err)
	}
}

// wave is the mock price path: a slow sine with a drift, so the EMA 9/20 pair
// crosses in both directions every few dozen bars.
func wave(bar int, base float64) float64 {
	x := float64(bar)
	return base * (1 + 0.01*math.Sin(x/12) + 0.002*math.Sin(x/3))
}

func handleCandles(w http.ResponseWriter, r *http.Request, pairs []string, every time.Duration, barTicks, history int) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("アップグレードエラー:", err)
		return
	}
	defer conn.Close()
	fmt.Println("[Mock] 🎯 ボットからのWebSocket接続を受け付けました！")

	send := func(msg feed.CandleMessage) error {
		data, _ := json.Marshal(msg)
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	barMs := int64(60_000)
	start := time.Now().Add(-time.Duration(history) * time.Minute).Truncate(time.Minute).UnixMilli()

	// 1. 接続直後に過去のローソク足をまとめて送る
	for bar := 0; bar < history; bar++ {
		for i, p := range pairs {
			msg, ok := candle(p, start+int64(bar)*barMs, wave(bar, 100+float64(i)*10), true)
			if !ok {
				continue
			}
			if err := send(msg); err != nil {
				return
			}
		}
	}

	// 2. 以降は every ごとに形成中の足を更新し、barTicks 回目で確定させる
	bar, tick := history, 0
	for {
		tick++
		closed := tick%barTicks == 0
		for i, p := range pairs {
			price := wave(bar, 100+float64(i)*10) + 0.01*float64(tick%barTicks)
			msg, ok := candle(p, start+int64(bar)*barMs, price, closed)
			if !ok {
				continue
			}
			if err := send(msg); err != nil {
				return
			}
			fmt.Printf("🌊 モック相場変動: %s %.4f closed=%v\n", p, price, closed)
		}
		if closed {
			bar++
		}
		time.Sleep(every)
	}
}

func candle(pair string, tsMs int64, price float64, closed bool) (feed.CandleMessage, bool) {
	parts := strings.Split(strings.TrimSpace(pair), ":")
	if len(parts) != 3 {
		return feed.CandleMessage{}, false
	}
	return feed.CandleMessage{
		Symbol:   parts[0],
		Exchange: parts[1],
		Interval: parts[2],
		TsMs:     tsMs,
		Close:    price,
		Closed:   closed,
	}, true
}
