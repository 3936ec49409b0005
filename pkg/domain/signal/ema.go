package signal

// EMA returns the exponential moving average of values with smoothing
// k = 2/(period+1), seeded with values[0]. The seed is not warmed up with an SMA,
// so the first few outputs lean towards the first value.
// It returns nil when period <= 0 or there are fewer than period values.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	k := 2.0 / (float64(period) + 1.0)
	out := make([]float64, len(values))
	ema := values[0]
	out[0] = ema
	for i := 1; i < len(values); i++ {
		ema = values[i]*k + ema*(1-k)
		out[i] = ema
	}
	return out
}
