// pkg/domain/signal/signal.go
package signal

import "fmt"

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Reason codes attached to every decision. Downstream consumers match on them verbatim.
const (
	ReasonInsufficientData = "insufficient_data"
	ReasonShortSequence    = "short_sequence"
	ReasonCrossDownLive    = "cross_down_live"
	ReasonCrossUpGap       = "cross_up+gap"
	ReasonNoEntry          = "no_entry"
)

// NoCross marks Metadata.CrossIndex when no upward cross was found in the scan.
const NoCross = -1

// Params is the immutable strategy snapshot for one evaluation.
type Params struct {
	EMAFast        int
	EMASlow        int
	EntryMinGapPct float64 // fraction of price, 0.0005 = 5 bps
	CrossGraceBars int
}

// DefaultParams matches the production defaults (EMA 9/20, 5 bps gap, 3 bar grace).
func DefaultParams() Params {
	return Params{EMAFast: 9, EMASlow: 20, EntryMinGapPct: 0.0005, CrossGraceBars: 3}
}

// Window is the number of trailing closes one evaluation needs.
func (p Params) Window() int {
	return max(p.EMAFast, p.EMASlow) * 3
}

// Signal is the detector output.
type Signal struct {
	Action Action
	Meta   Metadata
}

// Metadata carries the diagnostics of one evaluation. Fields that were not
// computed (e.g. on insufficient data) are left zero.
type Metadata struct {
	Reason     string  `json:"reason"`
	Fast       float64 `json:"ema_fast"`
	Slow       float64 `json:"ema_slow"`
	Gap        float64 `json:"gap"`
	CrossIndex int     `json:"cross_index"`
	LiveIndex  int     `json:"live_index"`
	Grace      int     `json:"grace"`
	Need       int     `json:"need,omitempty"`
	Have       int     `json:"have,omitempty"`
}

// HasCross reports whether the scan located an upward cross.
func (m Metadata) HasCross() bool { return m.CrossIndex != NoCross }

// Fields flattens the metadata for ledger records and notifications.
func (m Metadata) Fields() map[string]any {
	f := map[string]any{"reason": m.Reason}
	if m.Need > 0 {
		f["need"] = m.Need
		f["have"] = m.Have
		return f
	}
	f["ema_fast"] = m.Fast
	f["ema_slow"] = m.Slow
	f["gap"] = m.Gap
	if m.HasCross() {
		f["cross_index"] = m.CrossIndex
	}
	f["grace"] = m.Grace
	return f
}

func (s Signal) String() string {
	return fmt.Sprintf("%s(%s)", s.Action, s.Meta.Reason)
}
