package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/volatiletech/null"
	"go.uber.org/zap"
)

var ErrInvalidInput = errors.New("invalid input")

// Config is the full constructor-time surface of a run. Immutable once
// the Backtester is built.
type Config struct {
	InitialCash             float64
	MaxPositionSize         float64
	StopATRMultiple         float64
	TakeATRMultiple         float64
	TrailingEnabled         bool
	TrailStartATRMultiple   float64
	LiquidationCheckEnabled bool
	Leverage                float64
	TakerFeeRate            float64
	MakerFeeRate            float64
	MaintenanceMarginRate   float64
	SlippageBps             float64
}

func (c Config) Validate() error {
	acct := AccountConfig{
		Leverage:        c.Leverage,
		TakerFeeRate:    c.TakerFeeRate,
		MakerFeeRate:    c.MakerFeeRate,
		MaintMarginRate: c.MaintenanceMarginRate,
	}
	if err := acct.Validate(); err != nil {
		return err
	}
	if c.MaxPositionSize <= 0 || math.IsNaN(c.MaxPositionSize) {
		return fmt.Errorf("%w: max position size must be positive, got %v", ErrInvalidConfiguration, c.MaxPositionSize)
	}
	if c.StopATRMultiple <= 0 || c.TakeATRMultiple <= 0 {
		return fmt.Errorf("%w: stop/take ATR multiples must be positive, got %v/%v", ErrInvalidConfiguration, c.StopATRMultiple, c.TakeATRMultiple)
	}
	if c.TrailingEnabled && c.TrailStartATRMultiple <= 0 {
		return fmt.Errorf("%w: trail start ATR multiple must be positive, got %v", ErrInvalidConfiguration, c.TrailStartATRMultiple)
	}
	if c.SlippageBps < 0 || math.IsNaN(c.SlippageBps) {
		return fmt.Errorf("%w: slippage bps must be non-negative, got %v", ErrInvalidConfiguration, c.SlippageBps)
	}
	return nil
}

// RunResult is everything a run produces: the snapshot series (one per
// bar, in input order) and the fills that happened along the way.
type RunResult struct {
	RunID     string
	Snapshots []Snapshot
	Fills     []Fill
}

// Backtester drives the per-bar simulation. It exclusively owns the
// account and bracket state for its lifetime; the fee and slippage
// models are stateless collaborators it invokes. Instances are not
// safe for concurrent use; parameter sweeps get one Backtester each.
type Backtester struct {
	cfg      Config
	bcfg     BracketConfig
	acct     *PerpAccount
	slippage SlippageModel
	bracket  *Bracket
	fills    []Fill
	logger   *zap.Logger
}

// New builds a run-ready Backtester. A nil logger is replaced with a
// no-op logger.
func New(cfg Config, logger *zap.Logger) (*Backtester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	acct, err := NewPerpAccount(cfg.InitialCash, AccountConfig{
		Leverage:        cfg.Leverage,
		TakerFeeRate:    cfg.TakerFeeRate,
		MakerFeeRate:    cfg.MakerFeeRate,
		MaintMarginRate: cfg.MaintenanceMarginRate,
	})
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtester{
		cfg: cfg,
		bcfg: BracketConfig{
			StopATRMultiple:  cfg.StopATRMultiple,
			TakeATRMultiple:  cfg.TakeATRMultiple,
			TrailingEnabled:  cfg.TrailingEnabled,
			TrailStartATRMul: cfg.TrailStartATRMultiple,
		},
		acct:     acct,
		slippage: BasisPointSlippage{Bps: cfg.SlippageBps},
		logger:   logger,
	}, nil
}

// Account exposes the owned account state, read-only by convention.
func (b *Backtester) Account() *PerpAccount { return b.acct }

func validateBars(bars []Bar) error {
	if len(bars) == 0 {
		return fmt.Errorf("%w: empty bar series", ErrInvalidInput)
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp <= bars[i-1].Timestamp {
			return fmt.Errorf("%w: non-monotonic timestamp at index %d (%d after %d)",
				ErrInvalidInput, i, bars[i].Timestamp, bars[i-1].Timestamp)
		}
	}
	return nil
}

// Run processes the bar series start to finish and returns the
// snapshot series. Each bar goes through, in strict order: liquidation
// check, bracket exit check, signal-driven sizing, trailing update,
// snapshot. Exits observe intrabar extremes; entries fill at the close,
// so a bar that both exits and re-enters uses different reference
// prices.
func (b *Backtester) Run(bars []Bar) (*RunResult, error) {
	if err := validateBars(bars); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	b.logger.Info("starting backtest run",
		zap.String("run_id", runID),
		zap.Int("bars", len(bars)),
		zap.Float64("initial_cash", b.cfg.InitialCash),
		zap.Float64("leverage", b.cfg.Leverage),
	)

	snapshots := make([]Snapshot, 0, len(bars))
	for i := range bars {
		snapshots = append(snapshots, b.step(&bars[i]))
	}

	final := snapshots[len(snapshots)-1]
	b.logger.Info("backtest run complete",
		zap.String("run_id", runID),
		zap.Float64("final_equity", final.Equity),
		zap.Float64("realized_pnl", final.RealizedPnl),
		zap.Int("fills", len(b.fills)),
	)

	return &RunResult{RunID: runID, Snapshots: snapshots, Fills: b.fills}, nil
}

func (b *Backtester) step(bar *Bar) Snapshot {
	exitReason := ExitNone
	exitPrice := null.Float64{}

	// 1. Forced liquidation at the close.
	if b.cfg.LiquidationCheckEnabled && b.acct.IsLiquidationRisk(bar.Close) {
		price := b.execute(bar.Timestamp, bar.Close, -b.acct.Position, FillLiquidation)
		b.bracket = nil
		exitReason = ExitLiquidation
		exitPrice = null.Float64{Float64: price, Valid: true}
	}

	// 2. Stop/take exit against intrabar extremes. Stop wins ties.
	if exitReason == ExitNone && b.acct.Position != 0 && b.bracket != nil {
		var stopHit, takeHit bool
		if b.acct.Side() == SideLong {
			stopHit = bar.Low <= b.bracket.Stop
			takeHit = bar.High >= b.bracket.Take
		} else {
			stopHit = bar.High >= b.bracket.Stop
			takeHit = bar.Low <= b.bracket.Take
		}
		if stopHit || takeHit {
			level := b.bracket.Take
			reason := FillTake
			exitReason = ExitTake
			if stopHit {
				level = b.bracket.Stop
				reason = FillStop
				exitReason = ExitStop
			}
			price := b.execute(bar.Timestamp, level, -b.acct.Position, reason)
			b.bracket = nil
			exitPrice = null.Float64{Float64: price, Valid: true}
		}
	}

	// 3. Signal-driven sizing at the close.
	if bar.TradeSignal != 0 {
		var target float64
		switch bar.Signal {
		case 1:
			target = b.cfg.MaxPositionSize
		case -1:
			target = -b.cfg.MaxPositionSize
		}
		if delta := b.acct.TargetDelta(target, bar.Close); delta != 0 {
			price := b.execute(bar.Timestamp, bar.Close, delta, FillSignal)
			if b.acct.Position != 0 {
				b.bracket = NewBracket(price, bar.ATR, b.acct.Side(), bar.Resistance, bar.Support, b.bcfg)
			} else {
				b.bracket = nil
			}
		}
	}

	// 4. Trailing stop update at the close.
	trailingActive := false
	if b.acct.Position != 0 {
		trailingActive = b.bracket.Trail(bar.Close, bar.ATR, b.acct.Side(), bar.Resistance, bar.Support, b.bcfg)
	}

	// 5. End-of-bar snapshot.
	snap := Snapshot{
		Timestamp:       bar.Timestamp,
		Close:           bar.Close,
		High:            bar.High,
		Low:             bar.Low,
		ATR:             bar.ATR,
		Cash:            b.acct.Cash,
		Position:        b.acct.Position,
		AvgEntryPrice:   b.acct.AvgEntryPrice,
		RealizedPnl:     b.acct.RealizedPnl,
		UnrealizedPnl:   b.acct.UnrealizedPnl(bar.Close),
		Equity:          b.acct.Equity(bar.Close),
		MarginUsed:      b.acct.MarginUsed(bar.Close),
		FreeMargin:      b.acct.FreeMargin(bar.Close),
		Signal:          bar.Signal,
		TradeSignal:     bar.TradeSignal,
		ExitReason:      exitReason,
		ExitPrice:       exitPrice,
		LiquidationRisk: b.acct.IsLiquidationRisk(bar.Close),
		TrailingActive:  trailingActive,
	}
	if b.bracket != nil {
		snap.StopPrice = null.Float64{Float64: b.bracket.Stop, Valid: true}
		snap.TakePrice = null.Float64{Float64: b.bracket.Take, Valid: true}
	}
	return snap
}

// execute routes one order through the slippage model and books the
// resulting fill on the account. Returns the executed price. All
// simulated fills are aggressive (taker).
func (b *Backtester) execute(ts int64, reference, qty float64, reason FillReason) float64 {
	price := b.slippage.FillPrice(reference, qty)
	fee := b.acct.Commission(price*qty, false)
	b.acct.ApplyFill(price, qty, false)
	b.fills = append(b.fills, Fill{
		Timestamp: ts,
		Price:     price,
		Quantity:  qty,
		Fee:       fee,
		Reason:    reason,
	})
	b.logger.Debug("fill",
		zap.Int64("ts", ts),
		zap.String("reason", reason.String()),
		zap.Float64("price", price),
		zap.Float64("qty", qty),
		zap.Float64("fee", fee),
		zap.Float64("position", b.acct.Position),
	)
	return price
}
