// Package signal turns raw candles into the feature/signal bars the
// backtest engine consumes: fast/slow moving-average trend direction,
// rolling-mean ATR, close-to-close volatility, and rolling pivot
// support/resistance levels.
package signal

import (
	"errors"
	"fmt"
	"math"

	"github.com/volatiletech/null"

	"perp-backtest/services/engine"
)

var ErrInsufficientData = errors.New("insufficient data")

// Candle is one raw OHLCV record, timestamp in Unix milliseconds.
type Candle struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

type Config struct {
	FastPeriod  int
	SlowPeriod  int
	ATRPeriod   int
	PivotLookup int // rolling window for support/resistance; 0 disables levels
}

func DefaultConfig() Config {
	return Config{FastPeriod: 20, SlowPeriod: 60, ATRPeriod: 14, PivotLookup: 20}
}

func (c Config) validate() error {
	if c.FastPeriod <= 0 || c.SlowPeriod <= 0 || c.ATRPeriod <= 0 {
		return fmt.Errorf("signal: periods must be positive, got fast=%d slow=%d atr=%d", c.FastPeriod, c.SlowPeriod, c.ATRPeriod)
	}
	if c.FastPeriod >= c.SlowPeriod {
		return fmt.Errorf("signal: fast period %d must be below slow period %d", c.FastPeriod, c.SlowPeriod)
	}
	if c.PivotLookup < 0 {
		return fmt.Errorf("signal: pivot lookup must be non-negative, got %d", c.PivotLookup)
	}
	return nil
}

// Generate computes per-candle features and emits engine bars starting
// from the first candle where both the slow moving average and the ATR
// are defined (warmup candles are dropped, matching the research
// pipeline this mirrors). The trade signal of an emitted bar is the
// signal delta against the previous candle, so the first emitted bar
// can itself carry a transition.
func Generate(candles []Candle, cfg Config) ([]engine.Bar, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	warmup := cfg.SlowPeriod
	if cfg.ATRPeriod+1 > warmup {
		warmup = cfg.ATRPeriod + 1
	}
	if len(candles) < warmup {
		return nil, fmt.Errorf("%w: need at least %d candles, got %d", ErrInsufficientData, warmup, len(candles))
	}

	n := len(candles)
	closes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
	}

	fast := rollingMean(closes, cfg.FastPeriod)
	slow := rollingMean(closes, cfg.SlowPeriod)
	atr := rollingATR(candles, cfg.ATRPeriod)
	vol := rollingReturnStd(closes, cfg.ATRPeriod)

	signals := make([]int, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(fast[i]) || math.IsNaN(slow[i]) {
			continue
		}
		if fast[i] > slow[i] {
			signals[i] = 1
		} else if fast[i] < slow[i] {
			signals[i] = -1
		}
	}

	var bars []engine.Bar
	for i := 0; i < n; i++ {
		if math.IsNaN(slow[i]) || math.IsNaN(atr[i]) {
			continue
		}
		c := candles[i]
		bar := engine.Bar{
			Timestamp:  c.Timestamp,
			Open:       c.Open,
			High:       c.High,
			Low:        c.Low,
			Close:      c.Close,
			Volatility: zeroIfNaN(vol[i]),
			ATR:        null.Float64{Float64: atr[i], Valid: true},
			Signal:     signals[i],
		}
		if i > 0 {
			bar.TradeSignal = float64(signals[i] - signals[i-1])
		}
		if cfg.PivotLookup > 0 && i >= cfg.PivotLookup {
			res, sup := pivotLevels(candles[i-cfg.PivotLookup : i])
			bar.Resistance = null.Float64{Float64: res, Valid: true}
			bar.Support = null.Float64{Float64: sup, Valid: true}
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// rollingMean returns the window-period simple moving average, NaN
// until the window is full.
func rollingMean(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	var sum float64
	for i := range values {
		sum += values[i]
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// rollingATR is the rolling mean of the true range. The first candle
// has no previous close, so the ATR needs period+1 candles.
func rollingATR(candles []Candle, period int) []float64 {
	n := len(candles)
	out := make([]float64, n)
	out[0] = math.NaN()

	var sum float64
	for i := 1; i < n; i++ {
		sum += trueRange(candles[i-1], candles[i])
		if i > period {
			sum -= trueRange(candles[i-period-1], candles[i-period])
		}
		if i >= period {
			out[i] = sum / float64(period)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

func trueRange(prev, cur Candle) float64 {
	tr := cur.High - cur.Low
	if d := math.Abs(cur.High - prev.Close); d > tr {
		tr = d
	}
	if d := math.Abs(cur.Low - prev.Close); d > tr {
		tr = d
	}
	return tr
}

// rollingReturnStd is the rolling standard deviation of close-to-close
// returns, informational only.
func rollingReturnStd(closes []float64, period int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	rets := make([]float64, n)
	out[0] = math.NaN()
	for i := 1; i < n; i++ {
		if closes[i-1] != 0 {
			rets[i] = closes[i]/closes[i-1] - 1
		}
		if i < period {
			out[i] = math.NaN()
			continue
		}
		var mean float64
		for j := i - period + 1; j <= i; j++ {
			mean += rets[j]
		}
		mean /= float64(period)
		var ss float64
		for j := i - period + 1; j <= i; j++ {
			d := rets[j] - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(period))
	}
	return out
}

// pivotLevels returns the extreme high and low over the window of
// candles strictly before the current one.
func pivotLevels(window []Candle) (resistance, support float64) {
	resistance = window[0].High
	support = window[0].Low
	for _, c := range window[1:] {
		if c.High > resistance {
			resistance = c.High
		}
		if c.Low < support {
			support = c.Low
		}
	}
	return resistance, support
}

func zeroIfNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
