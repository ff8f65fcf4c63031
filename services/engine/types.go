package engine

import "github.com/volatiletech/null"

type PositionSide int

const (
	SideFlat PositionSide = iota
	SideLong
	SideShort
)

func (s PositionSide) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	}
	return "FLAT"
}

// Sign returns +1 for long, -1 for short, 0 for flat.
func (s PositionSide) Sign() float64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	}
	return 0
}

func sideOf(position float64) PositionSide {
	if position > 0 {
		return SideLong
	}
	if position < 0 {
		return SideShort
	}
	return SideFlat
}

type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitLiquidation
	ExitStop
	ExitTake
)

func (r ExitReason) String() string {
	switch r {
	case ExitLiquidation:
		return "LIQ"
	case ExitStop:
		return "STOP"
	case ExitTake:
		return "TAKE"
	}
	return "NONE"
}

// Bar is a single record of the feed: one OHLC timestep plus the
// pre-computed features the engine consumes. Timestamps are Unix
// milliseconds. ATR and the structural levels are optional; an invalid
// null.Float64 means "no value", never a zero sentinel.
type Bar struct {
	Timestamp   int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volatility  float64
	ATR         null.Float64
	Signal      int
	TradeSignal float64
	Resistance  null.Float64
	Support     null.Float64
}

// Snapshot is the end-of-bar account and bracket state. One is appended
// per input bar; the ordered series is the run's output artifact.
type Snapshot struct {
	Timestamp       int64
	Close           float64
	High            float64
	Low             float64
	ATR             null.Float64
	Cash            float64
	Position        float64
	AvgEntryPrice   float64
	RealizedPnl     float64
	UnrealizedPnl   float64
	Equity          float64
	MarginUsed      float64
	FreeMargin      float64
	StopPrice       null.Float64
	TakePrice       null.Float64
	Signal          int
	TradeSignal     float64
	ExitReason      ExitReason
	ExitPrice       null.Float64
	LiquidationRisk bool
	TrailingActive  bool
}

type FillReason int

const (
	FillSignal FillReason = iota
	FillStop
	FillTake
	FillLiquidation
)

func (r FillReason) String() string {
	switch r {
	case FillStop:
		return "STOP"
	case FillTake:
		return "TAKE"
	case FillLiquidation:
		return "LIQ"
	}
	return "SIGNAL"
}

// Fill is one executed trade, recorded in bar order.
type Fill struct {
	Timestamp int64
	Price     float64
	Quantity  float64
	Fee       float64
	Reason    FillReason
}
