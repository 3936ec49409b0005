// pkg/domain/signal/detector.go
package signal

// Compute turns a close-price history into a trade decision.
//
// closes is ascending by time and its last element is the live (still forming) bar.
// Only the trailing p.Window() closes are used. Compute has no side effects.
func Compute(closes []float64, priceNow float64, p Params) Signal {
	n := p.Window()
	if n <= 0 {
		return Signal{Action: ActionHold, Meta: Metadata{Reason: ReasonShortSequence, CrossIndex: NoCross}}
	}
	if len(closes) < n {
		return Signal{Action: ActionHold, Meta: Metadata{
			Reason:     ReasonInsufficientData,
			CrossIndex: NoCross,
			Need:       n,
			Have:       len(closes),
		}}
	}

	window := closes[len(closes)-n:]
	fast := EMA(window, p.EMAFast)
	slow := EMA(window, p.EMASlow)
	if m := min(len(fast), len(slow)); len(fast) != len(slow) {
		fast, slow = fast[len(fast)-m:], slow[len(slow)-m:]
	}

	k := len(fast) - 1
	if k < 2 {
		return Signal{Action: ActionHold, Meta: Metadata{Reason: ReasonShortSequence, CrossIndex: NoCross}}
	}

	crossAt := func(j int) bool {
		return fast[j-1] < slow[j-1] && fast[j] >= slow[j]
	}

	// most recent upward cross among the closed bars k-1 .. k-(grace+1)
	cross := NoCross
	for off := 1; off <= p.CrossGraceBars+1; off++ {
		j := k - off
		if j-1 < 0 {
			break
		}
		if crossAt(j) {
			cross = j
			break
		}
	}
	inWindow := cross != NoCross && k-cross <= p.CrossGraceBars

	denom := priceNow
	if denom == 0 {
		denom = 1
	}
	gap := (fast[k] - slow[k]) / denom

	meta := Metadata{
		Fast:       fast[k],
		Slow:       slow[k],
		Gap:        gap,
		CrossIndex: cross,
		LiveIndex:  k,
		Grace:      p.CrossGraceBars,
	}

	switch {
	case fast[k] <= slow[k]:
		meta.Reason = ReasonCrossDownLive
		return Signal{Action: ActionSell, Meta: meta}
	case inWindow && gap >= p.EntryMinGapPct:
		meta.Reason = ReasonCrossUpGap
		return Signal{Action: ActionBuy, Meta: meta}
	default:
		meta.Reason = ReasonNoEntry
		return Signal{Action: ActionHold, Meta: meta}
	}
}
