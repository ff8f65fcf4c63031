// Package main serves backtest runs over HTTP: candles come from
// ClickHouse, signals and the simulation run in-process, and the
// response carries the run summary.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"perp-backtest/services/clickhouse"
	"perp-backtest/services/config"
	"perp-backtest/services/engine"
	"perp-backtest/services/report"
	signalgen "perp-backtest/services/signal"
)

// BacktestRequest is the POST /api/v1/backtest body.
type BacktestRequest struct {
	Symbol   string `json:"symbol" binding:"required"`
	Interval string `json:"interval" binding:"required"`
	StartMs  uint64 `json:"start_ms" binding:"required"`
	EndMs    uint64 `json:"end_ms" binding:"required"`

	InitialCash     float64 `json:"initial_cash"`
	MaxPositionSize float64 `json:"max_position_size"`
	Leverage        float64 `json:"leverage"`
	TakerFeeRate    float64 `json:"taker_fee_rate"`
	MakerFeeRate    float64 `json:"maker_fee_rate"`
	MaintMarginRate float64 `json:"maint_margin_rate"`
	SlippageBps     float64 `json:"slippage_bps"`
	StopATR         float64 `json:"stop_atr"`
	TakeATR         float64 `json:"take_atr"`
	Trailing        bool    `json:"trailing"`
	TrailStartATR   float64 `json:"trail_start_atr"`
	LiqCheck        bool    `json:"liq_check"`

	FastPeriod  int `json:"fast_period"`
	SlowPeriod  int `json:"slow_period"`
	ATRPeriod   int `json:"atr_period"`
	PivotLookup int `json:"pivot_lookup"`
}

func (r *BacktestRequest) applyDefaults() {
	if r.InitialCash == 0 {
		r.InitialCash = 10000
	}
	if r.MaxPositionSize == 0 {
		r.MaxPositionSize = 0.1
	}
	if r.Leverage == 0 {
		r.Leverage = 10
	}
	if r.TakerFeeRate == 0 {
		r.TakerFeeRate = 0.0004
	}
	if r.MakerFeeRate == 0 {
		r.MakerFeeRate = 0.0002
	}
	if r.MaintMarginRate == 0 {
		r.MaintMarginRate = 0.005
	}
	if r.StopATR == 0 {
		r.StopATR = 2
	}
	if r.TakeATR == 0 {
		r.TakeATR = 3
	}
	if r.TrailStartATR == 0 {
		r.TrailStartATR = 1.5
	}
	if r.FastPeriod == 0 {
		r.FastPeriod = 20
	}
	if r.SlowPeriod == 0 {
		r.SlowPeriod = 60
	}
	if r.ATRPeriod == 0 {
		r.ATRPeriod = 14
	}
	if r.PivotLookup == 0 {
		r.PivotLookup = 20
	}
}

// BacktestService wires the candle source and the engine behind the
// HTTP API.
type BacktestService struct {
	source *clickhouse.Source
	logger *zap.Logger
}

func (s *BacktestService) handleBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.applyDefaults()

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	candles, err := s.source.Candles(ctx, req.Symbol, req.Interval, req.StartMs, req.EndMs)
	if err != nil {
		s.logger.Error("candle load failed", zap.String("symbol", req.Symbol), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load candles"})
		return
	}

	bars, err := signalgen.Generate(candles, signalgen.Config{
		FastPeriod:  req.FastPeriod,
		SlowPeriod:  req.SlowPeriod,
		ATRPeriod:   req.ATRPeriod,
		PivotLookup: req.PivotLookup,
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	bt, err := engine.New(engine.Config{
		InitialCash:             req.InitialCash,
		MaxPositionSize:         req.MaxPositionSize,
		StopATRMultiple:         req.StopATR,
		TakeATRMultiple:         req.TakeATR,
		TrailingEnabled:         req.Trailing,
		TrailStartATRMultiple:   req.TrailStartATR,
		LiquidationCheckEnabled: req.LiqCheck,
		Leverage:                req.Leverage,
		TakerFeeRate:            req.TakerFeeRate,
		MakerFeeRate:            req.MakerFeeRate,
		MaintenanceMarginRate:   req.MaintMarginRate,
		SlippageBps:             req.SlippageBps,
	}, s.logger)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	started := time.Now()
	res, err := bt.Run(bars)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	summary := report.Summarize(res)

	s.logger.Info("backtest served",
		zap.String("run_id", res.RunID),
		zap.String("symbol", req.Symbol),
		zap.Int("bars", summary.Bars),
		zap.Duration("elapsed", time.Since(started)),
	)

	c.JSON(http.StatusOK, gin.H{
		"run_id":        res.RunID,
		"bars":          summary.Bars,
		"fills":         summary.Fills,
		"total_return":  summary.TotalReturn.String(),
		"max_drawdown":  summary.MaxDrawdown.String(),
		"final_equity":  summary.FinalEquity.String(),
		"realized_pnl":  summary.RealizedPnl.String(),
		"fees_paid":     summary.FeesPaid.String(),
		"stop_exits":    summary.StopExits,
		"take_exits":    summary.TakeExits,
		"liquidations":  summary.Liquidations,
	})
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	source, err := clickhouse.NewSource(clickhouse.Config{
		Addr:     cfg.ClickHouse.Addr,
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.Username,
		Password: cfg.ClickHouse.Password,
		Table:    cfg.ClickHouse.Table,
	})
	if err != nil {
		logger.Fatal("failed to connect to ClickHouse", zap.Error(err))
	}
	defer source.Close()

	svc := &BacktestService{source: source, logger: logger}

	if cfg.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/api/v1/backtest", svc.handleBacktest)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server listening", zap.Int("port", cfg.Server.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}
