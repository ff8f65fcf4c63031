package engine

import "github.com/volatiletech/null"

// structuralBuffer is how far beyond a support/resistance level a
// structural stop sits, in ATR units.
const structuralBuffer = 0.5

// BracketConfig drives stop/take placement around an entry.
type BracketConfig struct {
	StopATRMultiple  float64
	TakeATRMultiple  float64
	TrailingEnabled  bool
	TrailStartATRMul float64
}

// Bracket is a pending stop/take pair attached to an open position.
// Entry is the price the bracket was originated at; it gates trailing
// activation. A nil *Bracket means no bracket is armed.
type Bracket struct {
	Stop  float64
	Take  float64
	Entry float64
}

// NewBracket computes the initial stop and take for a position entered
// at entry. The stop is ATR-distance based, widened to the far side of
// a structural level (plus buffer) when one exists on the stop's side.
// The take is always distance based. Returns nil when ATR is unknown
// or non-positive: no bracket can be armed without volatility.
func NewBracket(entry float64, atr null.Float64, side PositionSide, resistance, support null.Float64, cfg BracketConfig) *Bracket {
	if !atr.Valid || atr.Float64 <= 0 {
		return nil
	}
	a := atr.Float64

	if side == SideLong {
		stop := entry - cfg.StopATRMultiple*a
		if support.Valid {
			structural := support.Float64 - structuralBuffer*a
			if structural < stop {
				stop = structural
			}
		}
		return &Bracket{
			Stop:  stop,
			Take:  entry + cfg.TakeATRMultiple*a,
			Entry: entry,
		}
	}

	stop := entry + cfg.StopATRMultiple*a
	if resistance.Valid {
		structural := resistance.Float64 + structuralBuffer*a
		if structural > stop {
			stop = structural
		}
	}
	return &Bracket{
		Stop:  stop,
		Take:  entry - cfg.TakeATRMultiple*a,
		Entry: entry,
	}
}

// Trail moves the stop in the position's favor once price has run at
// least TrailStartATRMul ATRs past the entry. The candidate trail sits
// StopATRMultiple ATRs behind the close, bounded by any structural
// level (the trail never pulls in past the level's buffer), and the
// stop only ever tightens: max for longs, min for shorts. Take-profit
// is never trailed. Reports whether trailing is active for this bar.
func (b *Bracket) Trail(close float64, atr null.Float64, side PositionSide, resistance, support null.Float64, cfg BracketConfig) bool {
	if b == nil || !cfg.TrailingEnabled {
		return false
	}
	if !atr.Valid || atr.Float64 <= 0 {
		return false
	}
	a := atr.Float64

	var profit float64
	if side == SideLong {
		profit = close - b.Entry
	} else {
		profit = b.Entry - close
	}
	if profit < cfg.TrailStartATRMul*a {
		return false
	}

	if side == SideLong {
		candidate := close - cfg.StopATRMultiple*a
		if support.Valid {
			bound := support.Float64 - structuralBuffer*a
			if candidate > bound {
				candidate = bound
			}
		}
		if candidate > b.Stop {
			b.Stop = candidate
		}
	} else {
		candidate := close + cfg.StopATRMultiple*a
		if resistance.Valid {
			bound := resistance.Float64 + structuralBuffer*a
			if candidate < bound {
				candidate = bound
			}
		}
		if candidate < b.Stop {
			b.Stop = candidate
		}
	}
	return true
}
