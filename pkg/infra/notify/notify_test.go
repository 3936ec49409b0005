package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r-umemoto/crossbot/pkg/domain/position"
	"github.com/r-umemoto/crossbot/pkg/domain/signal"
)

func sellEvent() position.Event {
	pnl := 0.0123
	return position.Event{
		ID:       uuid.New(),
		Action:   signal.ActionSell,
		Symbol:   "BTCUSDC",
		Exchange: "MEXC",
		Interval: "1m",
		Qty:      0.0005,
		Price:    64250.5,
		PnLPct:   &pnl,
		Reason:   position.ReasonSignalSell,
		At:       time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

type fixedBalances struct {
	free, equity float64
	err          error
}

func (f fixedBalances) Balance(context.Context) (float64, float64, error) {
	return f.free, f.equity, f.err
}

func TestTelegramFormat(t *testing.T) {
	tg := NewTelegram(TelegramConfig{}, "dry", "USDC", nil)

	text := tg.format(sellEvent(), 1012.5, 12345.678, 0.05)
	assert.Equal(t, "DRY / BTCUSDC\n"+
		"SELL: 0.00050000\n"+
		"PRICE: 64250.50\n"+
		"BAL: 1012.50 USDC +1.23%\n"+
		"-----------------\n"+
		"2025-03-01 12:30:00\n"+
		"TOTAL: 12 345.68 $ / +5%", text)

	buy := sellEvent()
	buy.Action = signal.ActionBuy
	buy.PnLPct = nil
	text = tg.format(buy, 950, 1000, 0)
	assert.Contains(t, text, "BUY: 0.00050000\n")
	assert.Contains(t, text, "BAL: 950.00 USDC\n")

	loss := sellEvent()
	l := -0.006
	loss.PnLPct = &l
	assert.Contains(t, tg.format(loss, 0, 0, 0), "USDC -0.60%")
}

func TestGroupThousands(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0.00"},
		{12, "12.00"},
		{999.999, "1 000.00"},
		{-4321.5, "-4 321.50"},
		{1234567.891, "1 234 567.89"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, groupThousands(c.in), c.in)
	}
}

func TestEquityHistory(t *testing.T) {
	var h equityHistory
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0.0, h.record(t0, 1000))
	assert.InDelta(t, 0.1, h.record(t0.Add(24*time.Hour), 1100), 1e-12)
	// the 72h-old snapshot is pruned; the closest to -24h is the one at +24h
	assert.InDelta(t, 0.0, h.record(t0.Add(72*time.Hour), 1100), 1e-12)
	assert.Len(t, h.snaps, 2)
}

// fakeTelegramAPI answers getMe and sendMessage like the Bot API.
func fakeTelegramAPI(t *testing.T, sent chan<- string, failSend bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"crossbot","username":"crossbot_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if failSend {
				_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
				return
			}
			assert.Equal(t, "42", r.Form.Get("chat_id"))
			sent <- r.Form.Get("text")
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTelegramNotify(t *testing.T) {
	sent := make(chan string, 1)
	srv := fakeTelegramAPI(t, sent, false)

	cfg := TelegramConfig{Token: "123:abc", ChatID: 42, Endpoint: srv.URL + "/bot%s/%s"}
	tg := NewTelegram(cfg, "live", "USDC", fixedBalances{free: 1000, equity: 1032})

	require.NoError(t, tg.Notify(context.Background(), sellEvent()))
	text := <-sent
	assert.True(t, strings.HasPrefix(text, "LIVE / BTCUSDC\nSELL: "), text)
	assert.Contains(t, text, "BAL: 1000.00 USDC +1.23%")
	assert.Contains(t, text, "TOTAL: 1 032.00 $ / +0%")
}

func TestTelegramChangeUsesTickSnapshots(t *testing.T) {
	sent := make(chan string, 1)
	srv := fakeTelegramAPI(t, sent, false)

	cfg := TelegramConfig{Token: "123:abc", ChatID: 42, Endpoint: srv.URL + "/bot%s/%s"}
	tg := NewTelegram(cfg, "live", "USDC", fixedBalances{free: 1000, equity: 1032})

	ev := sellEvent()
	dayAgo := ev.At.Add(-24 * time.Hour)
	tg.RecordEquity(dayAgo, 1000)
	tg.RecordEquity(dayAgo.Add(time.Minute), 5000) // inside the throttle window, dropped
	tg.RecordEquity(ev.At.Add(-12*time.Hour), 1020)
	assert.Len(t, tg.history.snaps, 2)

	require.NoError(t, tg.Notify(context.Background(), ev))
	assert.Contains(t, <-sent, "TOTAL: 1 032.00 $ / +3%")
}

func TestTelegramNotifyErrors(t *testing.T) {
	srv := fakeTelegramAPI(t, make(chan string, 1), true)
	cfg := TelegramConfig{Token: "123:abc", ChatID: 42, Endpoint: srv.URL + "/bot%s/%s"}

	err := NewTelegram(cfg, "dry", "USDC", nil).Notify(context.Background(), sellEvent())
	assert.ErrorContains(t, err, "chat not found")

	err = NewTelegram(cfg, "dry", "USDC", fixedBalances{err: errors.New("db gone")}).Notify(context.Background(), sellEvent())
	assert.ErrorContains(t, err, "db gone")
}

func TestTelegramDisabled(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Token: "x"}, "dry", "USDC", nil)
	assert.NoError(t, tg.Notify(context.Background(), sellEvent()))
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	ev := sellEvent()
	require.NoError(t, hub.Notify(context.Background(), ev))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, ev.ID.String(), got["id"])
	assert.Equal(t, "SELL", got["action"])
	assert.Equal(t, "BTCUSDC", got["symbol"])

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

type recorder struct {
	mu     sync.Mutex
	events []position.Event
	err    error
}

func (r *recorder) Notify(_ context.Context, ev position.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestMultiJoinsErrors(t *testing.T) {
	a := &recorder{err: errors.New("a failed")}
	b := &recorder{}
	c := &recorder{err: errors.New("c failed")}

	err := Multi{a, nil, b, c, NewLog(nil)}.Notify(context.Background(), sellEvent())
	require.Error(t, err)
	assert.ErrorContains(t, err, "a failed")
	assert.ErrorContains(t, err, "c failed")
	assert.Len(t, b.events, 1, "a failure does not stop later sinks")

	assert.NoError(t, Multi{b}.Notify(context.Background(), sellEvent()))
}

func TestCounting(t *testing.T) {
	fails := 0
	n := Counting{Next: &recorder{err: errors.New("x")}, OnFail: func() { fails++ }}
	assert.Error(t, n.Notify(context.Background(), sellEvent()))
	n.Next = &recorder{}
	assert.NoError(t, n.Notify(context.Background(), sellEvent()))
	assert.Equal(t, 1, fails)
}
