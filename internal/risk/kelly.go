package risk

// KellyFraction turns empirical trade outcomes into the equity fraction risked
// on the next trade. Classic Kelly f = (b*p - q)/b with b = avgWin/avgLoss,
// scaled by an adaptive fractional multiplier that widens from 0.3 to 0.7 as
// the sample grows and returns stay consistent, then clamped to the configured
// floor/ceiling. Below the minimum sample size the fixed conservative default
// applies instead.
func (e *Engine) KellyFraction(st Stats) float64 {
	if st.Count < e.cfg.KellyMinTrades {
		return e.cfg.RiskPerTrade
	}
	if st.AvgLoss <= 0 || st.AvgWin <= 0 {
		return e.cfg.RiskPerTrade
	}

	b := st.AvgWin / st.AvgLoss
	p := st.WinRate
	q := 1 - p
	f := (b*p - q) / b
	if f <= 0 {
		return e.cfg.KellyFloor
	}

	f *= e.kellyMultiplier(st)
	return clamp(f, e.cfg.KellyFloor, e.cfg.KellyCeiling)
}

// kellyMultiplier grows with sample size and shrinks with return dispersion,
// staying within [0.3, 0.7].
func (e *Engine) kellyMultiplier(st Stats) float64 {
	sampleWeight := clamp(float64(st.Count)/50, 0, 1)

	// Dispersion above 10% per-trade counts as fully inconsistent.
	consistency := clamp(1-st.StdDev/0.10, 0, 1)

	return 0.3 + 0.4*sampleWeight*consistency
}
