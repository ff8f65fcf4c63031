// Package report derives per-bar return series and run-level summary
// statistics from a snapshot series. Ratio math is done in decimals so
// compounding over long runs stays exact to the reported precision.
package report

import (
	"github.com/shopspring/decimal"

	"perp-backtest/services/engine"
)

var one = decimal.NewFromInt(1)

// Returns is the per-bar simple return series, equity[t]/equity[t-1]-1
// with the first bar's return defined as zero.
func Returns(snaps []engine.Snapshot) []decimal.Decimal {
	out := make([]decimal.Decimal, len(snaps))
	for i := 1; i < len(snaps); i++ {
		prev := decimal.NewFromFloat(snaps[i-1].Equity)
		if prev.IsZero() {
			continue
		}
		cur := decimal.NewFromFloat(snaps[i].Equity)
		out[i] = cur.Div(prev).Sub(one)
	}
	return out
}

// CumulativeReturns compounds the per-bar returns: element t is
// prod(1+r[0..t]) - 1.
func CumulativeReturns(returns []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(returns))
	acc := one
	for i, r := range returns {
		acc = acc.Mul(one.Add(r))
		out[i] = acc.Sub(one)
	}
	return out
}

// Summary aggregates one run.
type Summary struct {
	Bars          int
	Fills         int
	InitialEquity decimal.Decimal
	FinalEquity   decimal.Decimal
	TotalReturn   decimal.Decimal
	MaxDrawdown   decimal.Decimal
	RealizedPnl   decimal.Decimal
	FeesPaid      decimal.Decimal
	StopExits     int
	TakeExits     int
	Liquidations  int
}

// Summarize computes the run summary from a backtest result. A nil or
// empty result yields a zero Summary.
func Summarize(res *engine.RunResult) Summary {
	var s Summary
	if res == nil || len(res.Snapshots) == 0 {
		return s
	}
	snaps := res.Snapshots
	s.Bars = len(snaps)
	s.Fills = len(res.Fills)

	s.InitialEquity = decimal.NewFromFloat(snaps[0].Equity)
	s.FinalEquity = decimal.NewFromFloat(snaps[len(snaps)-1].Equity)
	if !s.InitialEquity.IsZero() {
		s.TotalReturn = s.FinalEquity.Div(s.InitialEquity).Sub(one)
	}
	s.RealizedPnl = decimal.NewFromFloat(snaps[len(snaps)-1].RealizedPnl)

	// Max drawdown: most negative equity/peak - 1.
	peak := s.InitialEquity
	for _, snap := range snaps {
		eq := decimal.NewFromFloat(snap.Equity)
		if eq.GreaterThan(peak) {
			peak = eq
		}
		if !peak.IsZero() {
			dd := eq.Div(peak).Sub(one)
			if dd.LessThan(s.MaxDrawdown) {
				s.MaxDrawdown = dd
			}
		}

		switch snap.ExitReason {
		case engine.ExitStop:
			s.StopExits++
		case engine.ExitTake:
			s.TakeExits++
		case engine.ExitLiquidation:
			s.Liquidations++
		}
	}

	for _, f := range res.Fills {
		s.FeesPaid = s.FeesPaid.Add(decimal.NewFromFloat(f.Fee))
	}
	return s
}
