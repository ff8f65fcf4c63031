package engine

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

// AccountConfig holds the leverage and fee parameters that make margin
// math meaningful. It is immutable for the life of a run.
type AccountConfig struct {
	Leverage        float64
	TakerFeeRate    float64
	MakerFeeRate    float64
	MaintMarginRate float64
}

func (c AccountConfig) Validate() error {
	if c.Leverage <= 0 || math.IsNaN(c.Leverage) || math.IsInf(c.Leverage, 0) {
		return fmt.Errorf("%w: leverage must be positive, got %v", ErrInvalidConfiguration, c.Leverage)
	}
	if c.TakerFeeRate < 0 || math.IsNaN(c.TakerFeeRate) {
		return fmt.Errorf("%w: taker fee rate must be non-negative, got %v", ErrInvalidConfiguration, c.TakerFeeRate)
	}
	if c.MakerFeeRate < 0 || math.IsNaN(c.MakerFeeRate) {
		return fmt.Errorf("%w: maker fee rate must be non-negative, got %v", ErrInvalidConfiguration, c.MakerFeeRate)
	}
	if c.MaintMarginRate < 0 || math.IsNaN(c.MaintMarginRate) {
		return fmt.Errorf("%w: maintenance margin rate must be non-negative, got %v", ErrInvalidConfiguration, c.MaintMarginRate)
	}
	return nil
}

// PerpAccount is the state of a single-instrument USDT-margined
// perpetual account. Position is the signed base quantity: positive
// long, negative short. AvgEntryPrice is zero iff Position is zero.
type PerpAccount struct {
	cfg AccountConfig

	Cash          float64
	Position      float64
	AvgEntryPrice float64
	RealizedPnl   float64

	fees FeeModel
}

func NewPerpAccount(initialCash float64, cfg AccountConfig) (*PerpAccount, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if initialCash <= 0 || math.IsNaN(initialCash) {
		return nil, fmt.Errorf("%w: initial cash must be positive, got %v", ErrInvalidConfiguration, initialCash)
	}
	return &PerpAccount{
		cfg:  cfg,
		Cash: initialCash,
		fees: FixedFeeModel{Maker: cfg.MakerFeeRate, Taker: cfg.TakerFeeRate},
	}, nil
}

func (a *PerpAccount) Side() PositionSide { return sideOf(a.Position) }

// UnrealizedPnl marks the open position to markPrice. The formula is
// sign-symmetric: a short position carries a negative quantity.
func (a *PerpAccount) UnrealizedPnl(markPrice float64) float64 {
	if a.Position == 0 {
		return 0
	}
	return (markPrice - a.AvgEntryPrice) * a.Position
}

func (a *PerpAccount) Equity(markPrice float64) float64 {
	return a.Cash + a.UnrealizedPnl(markPrice)
}

func (a *PerpAccount) MarginUsed(markPrice float64) float64 {
	return math.Abs(a.Position) * markPrice / a.cfg.Leverage
}

func (a *PerpAccount) FreeMargin(markPrice float64) float64 {
	return a.Equity(markPrice) - a.MarginUsed(markPrice)
}

// IsLiquidationRisk reports whether equity has fallen to or below the
// maintenance margin requirement at markPrice.
func (a *PerpAccount) IsLiquidationRisk(markPrice float64) bool {
	if a.Position == 0 {
		return false
	}
	maint := math.Abs(a.Position) * markPrice * a.cfg.MaintMarginRate
	return a.Equity(markPrice) <= maint
}

// MaxAbsQtyByMargin is the largest absolute position the account can
// carry at price under initial margin, ignoring maintenance margin.
func (a *PerpAccount) MaxAbsQtyByMargin(price float64) float64 {
	eq := a.Equity(price)
	if eq <= 0 {
		return 0
	}
	return eq * a.cfg.Leverage / price
}

// TargetDelta clamps targetQty to what margin allows at price and
// returns the signed order quantity needed to get there from the
// current position. An exhausted account (zero margin headroom) clamps
// the target all the way to flat rather than letting the raw target
// through, so a dead account can still be closed out but never opens
// new exposure.
func (a *PerpAccount) TargetDelta(targetQty, price float64) float64 {
	maxAbs := a.MaxAbsQtyByMargin(price)
	if targetQty > maxAbs {
		targetQty = maxAbs
	} else if targetQty < -maxAbs {
		targetQty = -maxAbs
	}
	return targetQty - a.Position
}

func (a *PerpAccount) Commission(notional float64, maker bool) float64 {
	return a.fees.Commission(notional, maker)
}

// ApplyFill books one executed trade: fee deduction, weighted-average
// entry accounting, realized pnl recognition on the closed portion, and
// the open/add/reduce/close/reverse position transitions. qty must be
// nonzero; a zero qty is a caller bug and is ignored.
func (a *PerpAccount) ApplyFill(fillPrice, qty float64, maker bool) {
	if qty == 0 {
		return
	}

	fee := a.Commission(fillPrice*qty, maker)
	a.Cash -= fee

	oldPos := a.Position
	oldAvg := a.AvgEntryPrice
	newPos := oldPos + qty

	// Opening from flat.
	if oldPos == 0 {
		a.Position = newPos
		a.AvgEntryPrice = fillPrice
		return
	}

	// Adding in the same direction: notional-weighted average entry.
	if (oldPos > 0) == (qty > 0) {
		totalCost := oldAvg*math.Abs(oldPos) + fillPrice*math.Abs(qty)
		a.Position = newPos
		a.AvgEntryPrice = totalCost / math.Abs(newPos)
		return
	}

	// Opposite direction: reduce, close, or reverse.
	closeQty := math.Min(math.Abs(qty), math.Abs(oldPos))
	var realized float64
	if oldPos > 0 {
		realized = (fillPrice - oldAvg) * closeQty
	} else {
		realized = (oldAvg - fillPrice) * closeQty
	}
	a.RealizedPnl += realized
	a.Cash += realized
	a.Position = newPos

	switch {
	case newPos == 0:
		a.AvgEntryPrice = 0
	case (oldPos > 0) != (newPos > 0):
		// Reversal: the residual is a fresh position at the fill price.
		a.AvgEntryPrice = fillPrice
	default:
		a.AvgEntryPrice = oldAvg
	}
}
