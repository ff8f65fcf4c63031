package engine

import "math"

// Fee and slippage models. Both are stateless; the backtester owns the
// account and applies whatever these return.

type FeeModel interface {
	Commission(notional float64, maker bool) float64
}

type SlippageModel interface {
	FillPrice(reference, qty float64) float64
}

// FixedFeeModel charges a flat maker/taker rate on traded notional.
type FixedFeeModel struct {
	Maker float64
	Taker float64
}

func (m FixedFeeModel) Commission(notional float64, maker bool) float64 {
	rate := m.Taker
	if maker {
		rate = m.Maker
	}
	return math.Abs(notional) * rate
}

// BasisPointSlippage moves the reference price against the order by a
// fixed number of basis points: buys fill higher, sells fill lower.
// qty selects the direction and must be nonzero.
type BasisPointSlippage struct {
	Bps float64
}

func (s BasisPointSlippage) FillPrice(reference, qty float64) float64 {
	slip := reference * s.Bps / 10000
	if qty > 0 {
		return reference + slip
	}
	return reference - slip
}
