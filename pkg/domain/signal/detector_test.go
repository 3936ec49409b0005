package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fallThenRise builds 55 bars falling by 0.1 from 100 followed by rise bars
// climbing by step from the last falling value.
func fallThenRise(rise int, step float64) []float64 {
	closes := make([]float64, 0, 55+rise)
	for i := 0; i < 55; i++ {
		closes = append(closes, 100-0.1*float64(i))
	}
	last := closes[len(closes)-1]
	for i := 1; i <= rise; i++ {
		closes = append(closes, last+step*float64(i))
	}
	return closes
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestEMA(t *testing.T) {
	t.Run("seeded with first value", func(t *testing.T) {
		got := EMA([]float64{10, 20, 30}, 3)
		require.Len(t, got, 3)
		assert.Equal(t, 10.0, got[0])
		assert.InDelta(t, 15.0, got[1], 1e-12)
		assert.InDelta(t, 22.5, got[2], 1e-12)
	})

	t.Run("too few values", func(t *testing.T) {
		assert.Nil(t, EMA([]float64{1, 2}, 3))
	})

	t.Run("non-positive period", func(t *testing.T) {
		assert.Nil(t, EMA([]float64{1, 2, 3}, 0))
	})
}

func TestComputeInsufficientData(t *testing.T) {
	p := DefaultParams()
	for _, n := range []int{0, 1, 30, 59} {
		sig := Compute(constant(n, 100), 100, p)
		assert.Equal(t, ActionHold, sig.Action)
		assert.Equal(t, ReasonInsufficientData, sig.Meta.Reason)
		assert.Equal(t, 60, sig.Meta.Need)
		assert.Equal(t, n, sig.Meta.Have)
	}

	// other inputs do not matter
	sig := Compute(fallThenRise(4, 0.5), -1, Params{EMAFast: 9, EMASlow: 20, EntryMinGapPct: 0, CrossGraceBars: 100})
	assert.Equal(t, ActionHold, sig.Action)
	assert.Equal(t, ReasonInsufficientData, sig.Meta.Reason)
}

func TestComputeShortSequence(t *testing.T) {
	sig := Compute(constant(10, 1), 1, Params{EMAFast: 0, EMASlow: 3})
	assert.Equal(t, ActionHold, sig.Action)
	assert.Equal(t, ReasonShortSequence, sig.Meta.Reason)

	sig = Compute(constant(10, 1), 1, Params{})
	assert.Equal(t, ReasonShortSequence, sig.Meta.Reason)
}

func TestComputeFlatSeriesSells(t *testing.T) {
	sig := Compute(constant(60, 100), 100, DefaultParams())

	assert.Equal(t, ActionSell, sig.Action)
	assert.Equal(t, ReasonCrossDownLive, sig.Meta.Reason)
	assert.Equal(t, 100.0, sig.Meta.Fast)
	assert.Equal(t, 100.0, sig.Meta.Slow)
	assert.False(t, sig.Meta.HasCross())
}

func TestComputeRisingCrossBuysThenDeclineSells(t *testing.T) {
	closes := fallThenRise(8, 0.25)
	require.Len(t, closes, 63)

	sig := Compute(closes, closes[len(closes)-1], DefaultParams())
	require.Equal(t, ActionBuy, sig.Action, sig.Meta)
	assert.Equal(t, ReasonCrossUpGap, sig.Meta.Reason)
	assert.Equal(t, 59, sig.Meta.LiveIndex)
	assert.Equal(t, 58, sig.Meta.CrossIndex)
	assert.InDelta(t, 0.0012365, sig.Meta.Gap, 1e-6)
	assert.Greater(t, sig.Meta.Fast, sig.Meta.Slow)

	// two sharp down bars pull EMA9 under EMA20 on the live bar
	last := closes[len(closes)-1]
	declined := append(append([]float64{}, closes...), last-1, last-2)
	sig = Compute(declined, declined[len(declined)-1], DefaultParams())
	assert.Equal(t, ActionSell, sig.Action)
	assert.Equal(t, ReasonCrossDownLive, sig.Meta.Reason)
	assert.Less(t, sig.Meta.Fast, sig.Meta.Slow)
}

func TestComputeCrossOnLiveBarIsNotAnEntry(t *testing.T) {
	// the cross happens on the forming bar itself; only closed bars count
	closes := fallThenRise(5, 0.5)
	sig := Compute(closes, closes[len(closes)-1], DefaultParams())

	assert.Equal(t, ActionHold, sig.Action)
	assert.Equal(t, ReasonNoEntry, sig.Meta.Reason)
	assert.False(t, sig.Meta.HasCross())
	assert.Greater(t, sig.Meta.Gap, 0.0005)
}

func TestComputeGraceWindow(t *testing.T) {
	closes := fallThenRise(8, 0.25)
	price := closes[len(closes)-1]

	p := DefaultParams()
	p.CrossGraceBars = 0
	sig := Compute(closes, price, p)
	assert.Equal(t, ActionHold, sig.Action, "cross one bar back is outside a zero grace window")
	assert.Equal(t, ReasonNoEntry, sig.Meta.Reason)

	p.CrossGraceBars = 1
	sig = Compute(closes, price, p)
	assert.Equal(t, ActionBuy, sig.Action)

	// cross four bars back with grace 3 is located but outside the window
	old := fallThenRise(9, 0.5)
	sig = Compute(old, old[len(old)-1], DefaultParams())
	assert.Equal(t, ActionHold, sig.Action)
	assert.Equal(t, 55, sig.Meta.CrossIndex)
}

func TestComputeGapThreshold(t *testing.T) {
	closes := fallThenRise(8, 0.25)
	price := closes[len(closes)-1]

	first := Compute(closes, price, DefaultParams())
	require.Equal(t, ActionBuy, first.Action)

	p := DefaultParams()
	p.EntryMinGapPct = first.Meta.Gap
	sig := Compute(closes, price, p)
	assert.Equal(t, ActionBuy, sig.Action, "gap equal to the threshold satisfies it")

	p.EntryMinGapPct = first.Meta.Gap * 1.0001
	sig = Compute(closes, price, p)
	assert.Equal(t, ActionHold, sig.Action)
	assert.Equal(t, ReasonNoEntry, sig.Meta.Reason)
}

func TestComputeZeroPriceUsesUnitDenominator(t *testing.T) {
	closes := fallThenRise(8, 0.25)
	sig := Compute(closes, 0, DefaultParams())
	assert.InDelta(t, sig.Meta.Fast-sig.Meta.Slow, sig.Meta.Gap, 1e-12)
}

func TestComputeIsPure(t *testing.T) {
	closes := fallThenRise(8, 0.25)
	snapshot := append([]float64{}, closes...)

	a := Compute(closes, 95.8, DefaultParams())
	b := Compute(closes, 95.8, DefaultParams())

	assert.Equal(t, a, b)
	assert.Equal(t, snapshot, closes)
}

func TestMetadataFields(t *testing.T) {
	f := Compute(constant(3, 1), 1, DefaultParams()).Meta.Fields()
	assert.Equal(t, ReasonInsufficientData, f["reason"])
	assert.Equal(t, 60, f["need"])

	closes := fallThenRise(8, 0.25)
	f = Compute(closes, closes[len(closes)-1], DefaultParams()).Meta.Fields()
	assert.Equal(t, ReasonCrossUpGap, f["reason"])
	assert.Equal(t, 58, f["cross_index"])
	assert.Contains(t, f, "gap")
}
