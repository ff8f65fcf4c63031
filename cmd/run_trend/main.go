// Command run_trend backtests the MA-cross trend rule on a perpetual
// instrument from a local candle CSV and writes the per-bar snapshot
// series plus a run summary.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"perp-backtest/services/arrowpipeline"
	"perp-backtest/services/engine"
	"perp-backtest/services/report"
	"perp-backtest/services/signal"
)

func main() {
	var (
		csvFile     = flag.String("csv", "", "Path to CSV file with OHLCV data (timestamp,open,high,low,close,volume)")
		out         = flag.String("out", "snapshots.csv", "Output CSV file for per-bar snapshots")
		arrowOut    = flag.String("arrow-out", "", "Optional output path for Arrow IPC snapshot export")
		initialCash = flag.Float64("cash", 10000, "Initial account cash")
		maxPos      = flag.Float64("max-pos", 0.1, "Target absolute position size")
		leverage    = flag.Float64("leverage", 10, "Account leverage")
		takerFee    = flag.Float64("taker-fee", 0.0004, "Taker fee rate")
		makerFee    = flag.Float64("maker-fee", 0.0002, "Maker fee rate")
		maintMargin = flag.Float64("maint-margin", 0.005, "Maintenance margin rate")
		slippageBps = flag.Float64("slippage-bps", 1, "Slippage in basis points")
		stopATR     = flag.Float64("stop-atr", 2, "Stop distance in ATR multiples")
		takeATR     = flag.Float64("take-atr", 3, "Take-profit distance in ATR multiples")
		trailing    = flag.Bool("trailing", true, "Enable trailing stop")
		trailStart  = flag.Float64("trail-start-atr", 1.5, "Profit in ATR multiples before trailing activates")
		liqCheck    = flag.Bool("liq-check", true, "Enable liquidation check")
		fastPeriod  = flag.Int("fast", 20, "Fast moving-average period")
		slowPeriod  = flag.Int("slow", 60, "Slow moving-average period")
		atrPeriod   = flag.Int("atr-period", 14, "ATR period")
		pivotLookup = flag.Int("pivot-lookup", 20, "Support/resistance pivot window (0 disables)")
		verbose     = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	logger := buildLogger(*verbose)
	defer logger.Sync()

	if *csvFile == "" {
		logger.Fatal("missing required -csv flag")
	}

	candles, err := signal.LoadCSV(*csvFile)
	if err != nil {
		logger.Fatal("failed to load candles", zap.Error(err))
	}
	logger.Info("loaded candles", zap.String("path", *csvFile), zap.Int("count", len(candles)))

	bars, err := signal.Generate(candles, signal.Config{
		FastPeriod:  *fastPeriod,
		SlowPeriod:  *slowPeriod,
		ATRPeriod:   *atrPeriod,
		PivotLookup: *pivotLookup,
	})
	if err != nil {
		logger.Fatal("failed to generate signals", zap.Error(err))
	}

	bt, err := engine.New(engine.Config{
		InitialCash:             *initialCash,
		MaxPositionSize:         *maxPos,
		StopATRMultiple:         *stopATR,
		TakeATRMultiple:         *takeATR,
		TrailingEnabled:         *trailing,
		TrailStartATRMultiple:   *trailStart,
		LiquidationCheckEnabled: *liqCheck,
		Leverage:                *leverage,
		TakerFeeRate:            *takerFee,
		MakerFeeRate:            *makerFee,
		MaintenanceMarginRate:   *maintMargin,
		SlippageBps:             *slippageBps,
	}, logger)
	if err != nil {
		logger.Fatal("invalid backtest configuration", zap.Error(err))
	}

	res, err := bt.Run(bars)
	if err != nil {
		logger.Fatal("backtest failed", zap.Error(err))
	}

	if err := writeSnapshotsCSV(*out, res.Snapshots); err != nil {
		logger.Fatal("failed to write snapshots", zap.Error(err))
	}
	logger.Info("wrote snapshot series", zap.String("path", *out), zap.Int("rows", len(res.Snapshots)))

	if *arrowOut != "" {
		payload, err := arrowpipeline.NewPipeline(logger).SnapshotsToArrow(res.Snapshots)
		if err != nil {
			logger.Fatal("failed to convert snapshots to Arrow", zap.Error(err))
		}
		if err := os.WriteFile(*arrowOut, payload, 0o644); err != nil {
			logger.Fatal("failed to write Arrow export", zap.Error(err))
		}
		logger.Info("wrote Arrow export", zap.String("path", *arrowOut), zap.Int("bytes", len(payload)))
	}

	s := report.Summarize(res)
	logger.Info("run summary",
		zap.String("run_id", res.RunID),
		zap.Int("bars", s.Bars),
		zap.Int("fills", s.Fills),
		zap.String("total_return", s.TotalReturn.StringFixed(6)),
		zap.String("max_drawdown", s.MaxDrawdown.StringFixed(6)),
		zap.String("final_equity", s.FinalEquity.StringFixed(2)),
		zap.String("fees_paid", s.FeesPaid.StringFixed(4)),
		zap.Int("stop_exits", s.StopExits),
		zap.Int("take_exits", s.TakeExits),
		zap.Int("liquidations", s.Liquidations),
	)
}

func buildLogger(verbose bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func writeSnapshotsCSV(path string, snaps []engine.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"timestamp", "close", "high", "low", "atr",
		"cash", "position", "avg_entry_price", "realized_pnl", "unrealized_pnl",
		"equity", "margin_used", "free_margin",
		"stop_price", "take_price", "signal", "trade_signal",
		"exit_reason", "exit_price", "liquidation_risk", "trailing_active",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, s := range snaps {
		row := []string{
			strconv.FormatInt(s.Timestamp, 10),
			fmtF(s.Close), fmtF(s.High), fmtF(s.Low), fmtOpt(s.ATR.Float64, s.ATR.Valid),
			fmtF(s.Cash), fmtF(s.Position), fmtF(s.AvgEntryPrice), fmtF(s.RealizedPnl), fmtF(s.UnrealizedPnl),
			fmtF(s.Equity), fmtF(s.MarginUsed), fmtF(s.FreeMargin),
			fmtOpt(s.StopPrice.Float64, s.StopPrice.Valid), fmtOpt(s.TakePrice.Float64, s.TakePrice.Valid),
			strconv.Itoa(s.Signal), fmtF(s.TradeSignal),
			s.ExitReason.String(), fmtOpt(s.ExitPrice.Float64, s.ExitPrice.Valid),
			strconv.FormatBool(s.LiquidationRisk), strconv.FormatBool(s.TrailingActive),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func fmtF(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fmtOpt(v float64, valid bool) string {
	if !valid {
		return ""
	}
	return fmtF(v)
}
