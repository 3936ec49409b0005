// pkg/infra/notify/telegram.go
package notify

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/r-umemoto/crossbot/pkg/domain/position"
)

// Balances is what the Telegram message reports besides the trade itself.
type Balances interface {
	// Balance returns the free quote balance and the marked-to-market equity.
	Balance(ctx context.Context) (free, equity float64, err error)
}

var msk = time.FixedZone("MSK", 3*60*60)

// snapshotEvery throttles the equity snapshots taken between trades.
const snapshotEvery = 5 * time.Minute

// Telegram sends one plain text message per trade event.
type Telegram struct {
	cfg      TelegramConfig
	mode     string
	quote    string
	balances Balances
	client   *http.Client

	mu      sync.Mutex
	bot     *tgbotapi.BotAPI
	history equityHistory
}

func NewTelegram(cfg TelegramConfig, mode, quote string, balances Balances) *Telegram {
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	return &Telegram{
		cfg:      cfg,
		mode:     strings.ToUpper(mode),
		quote:    quote,
		balances: balances,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// connect creates the bot on first use; NewBotAPI calls getMe, so a transient
// failure is retried with the next event.
func (t *Telegram) connect() (*tgbotapi.BotAPI, error) {
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.cfg.Token, t.cfg.Endpoint, t.client)
	if err != nil {
		return nil, fmt.Errorf("telegram getMe: %w", err)
	}
	t.bot = bot
	return bot, nil
}

// Notify implements position.Notifier.
func (t *Telegram) Notify(ctx context.Context, ev position.Event) error {
	if !t.cfg.Enabled() {
		return nil
	}

	var free, equity float64
	if t.balances != nil {
		var err error
		if free, equity, err = t.balances.Balance(ctx); err != nil {
			return fmt.Errorf("telegram balance: %w", err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	change := t.history.record(ev.At, equity)
	text := t.format(ev, free, equity, change)

	bot, err := t.connect()
	if err != nil {
		return err
	}
	if _, err := bot.Send(tgbotapi.NewMessage(t.cfg.ChatID, text)); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}

// RecordEquity keeps a periodic equity snapshot so the 24h change has a base
// even when trades are sparse.
func (t *Telegram) RecordEquity(at time.Time, equity float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.history.last(); ok && at.Sub(last.at) < snapshotEvery {
		return
	}
	t.history.add(at, equity)
}

func (t *Telegram) format(ev position.Event, free, equity, change24h float64) string {
	pnl := ""
	if ev.PnLPct != nil {
		sign := ""
		if *ev.PnLPct >= 0 {
			sign = "+"
		}
		pnl = fmt.Sprintf(" %s%.2f%%", sign, *ev.PnLPct*100)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s / %s\n", t.mode, ev.Symbol)
	fmt.Fprintf(&b, "%s: %.8f\n", strings.ToUpper(string(ev.Action)), ev.Qty)
	fmt.Fprintf(&b, "PRICE: %.2f\n", ev.Price)
	fmt.Fprintf(&b, "BAL: %.2f %s%s\n", free, t.quote, pnl)
	b.WriteString("-----------------\n")
	b.WriteString(ev.At.In(msk).Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "\nTOTAL: %s $ / %+.0f%%", groupThousands(equity), change24h*100)
	return b.String()
}

// groupThousands formats v with two decimals and space separated thousands.
func groupThousands(v float64) string {
	s := fmt.Sprintf("%.2f", math.Abs(v))
	intPart, frac := s[:len(s)-3], s[len(s)-3:]

	var b strings.Builder
	if v < 0 && s != "0.00" {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	b.WriteString(frac)
	return b.String()
}

type equitySnapshot struct {
	at     time.Time
	equity float64
}

// equityHistory keeps 48h of equity snapshots to report the 24h change.
type equityHistory struct {
	snaps []equitySnapshot
}

// add appends a snapshot and drops the ones older than 48h.
func (h *equityHistory) add(at time.Time, equity float64) {
	h.snaps = append(h.snaps, equitySnapshot{at: at, equity: equity})

	kept := h.snaps[:0]
	for _, s := range h.snaps {
		if at.Sub(s.at) <= 48*time.Hour {
			kept = append(kept, s)
		}
	}
	h.snaps = kept
}

func (h *equityHistory) last() (equitySnapshot, bool) {
	if len(h.snaps) == 0 {
		return equitySnapshot{}, false
	}
	return h.snaps[len(h.snaps)-1], true
}

// record appends a snapshot and returns the fractional change against the
// snapshot closest to 24h ago (0 when there is no usable base).
func (h *equityHistory) record(at time.Time, equity float64) float64 {
	h.add(at, equity)

	target := at.Add(-24 * time.Hour)
	var (
		base *equitySnapshot
		best time.Duration
	)
	for i := range h.snaps {
		d := h.snaps[i].at.Sub(target)
		if d < 0 {
			d = -d
		}
		if base == nil || d < best {
			base, best = &h.snaps[i], d
		}
	}
	if base == nil || base.equity <= 0 {
		return 0
	}
	return (equity - base.equity) / base.equity
}
