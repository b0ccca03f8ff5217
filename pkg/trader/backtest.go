package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gregtusar/pairs/pkg/models"
	"github.com/gregtusar/pairs/pkg/report"
	"github.com/sirupsen/logrus"
)

// DefaultBacktestInterval is used when a backtest names no interval.
const DefaultBacktestInterval = "1h"

const progressEvery = 5

var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1M":  30 * 24 * time.Hour,
}

// ValidInterval reports whether interval is a supported kline interval.
func ValidInterval(interval string) bool {
	_, ok := intervalDurations[interval]
	return ok
}

// BarsForDays converts a day count to a bar count at interval. A
// non-positive day count falls back to window.
func BarsForDays(days int, interval string, window int) (int, error) {
	d, ok := intervalDurations[interval]
	if !ok {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	if days <= 0 {
		if window < 1 {
			return 1, nil
		}
		return window, nil
	}
	span := time.Duration(days) * 24 * time.Hour
	bars := int(math.Ceil(float64(span) / float64(d)))
	if bars < 1 {
		bars = 1
	}
	return bars, nil
}

// ClassifySignal is the threshold-only reading used for backtest results: no
// correlation gate and no position awareness.
func ClassifySignal(z, entry, exit float64) models.Signal {
	switch {
	case math.Abs(z) < exit:
		return models.SignalCloseAll
	case z > entry:
		return models.SignalShortALongB
	case z < -entry:
		return models.SignalLongAShortB
	default:
		return models.SignalNone
	}
}

// CountSuccessfulTrades walks the z-score history, entering on a threshold
// cross and exiting when |z| returns inside exit. A round trip counts when the
// exit z-score is closer to zero than the entry on the correct side.
func CountSuccessfulTrades(zscores []float64, entry, exit float64) int {
	const (
		flat = iota
		longA
		shortA
	)
	state := flat
	entryZ := 0.0
	count := 0

	for _, z := range zscores {
		switch state {
		case flat:
			if z < -entry {
				state, entryZ = longA, z
			} else if z > entry {
				state, entryZ = shortA, z
			}
		case longA:
			if math.Abs(z) < exit {
				state = flat
				if z > entryZ {
					count++
				}
			}
		case shortA:
			if math.Abs(z) < exit {
				state = flat
				if z < entryZ {
					count++
				}
			}
		}
	}
	return count
}

// CountLiquidations replays the z-score history against paired closes. With a
// maintenance margin rate of 0.8/leverage, an open simulated position whose
// net adverse move exceeds the rate counts as one liquidation and is closed.
// bars1 and bars2 must be aligned with zscores index by index.
func CountLiquidations(zscores []float64, bars1, bars2 []models.PriceBar, entry, exit float64, leverage int) int {
	if len(zscores) == 0 || leverage <= 1 {
		return 0
	}
	rate := 0.8 / float64(leverage)

	const (
		flat = iota
		longA
		shortA
	)
	state := flat
	var entry1, entry2 float64
	count := 0

	for i, z := range zscores {
		if i >= len(bars1) || i >= len(bars2) {
			break
		}
		p1 := bars1[i].Close.InexactFloat64()
		p2 := bars2[i].Close.InexactFloat64()

		if state == flat {
			switch {
			case z < -entry:
				state, entry1, entry2 = longA, p1, p2
			case z > entry:
				state, entry1, entry2 = shortA, p1, p2
			}
			continue
		}

		if entry1 == 0 || entry2 == 0 {
			state = flat
			continue
		}
		change1 := (p1 - entry1) / entry1
		change2 := (p2 - entry2) / entry2
		net := change1 - change2
		if state == shortA {
			net = -change1 + change2
		}

		if net < -rate {
			count++
			state = flat
		} else if math.Abs(z) < exit {
			state = flat
		}
	}
	return count
}

// Backtester replays the spread pipeline over historical bars. It never
// places orders.
type Backtester struct {
	exchange Exchange
	config   ConfigSource
	market   *MarketData
	pairs    *PairManager
	pool     *Pool
	metrics  Metrics
	logger   *logrus.Logger
	now      func() time.Time
}

func NewBacktester(exchange Exchange, config ConfigSource, market *MarketData, pairs *PairManager, pool *Pool, metrics Metrics, logger *logrus.Logger) *Backtester {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Backtester{
		exchange: exchange,
		config:   config,
		market:   market,
		pairs:    pairs,
		pool:     pool,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// BacktestPair runs a single-pair backtest. days <= 0 uses the window size.
func (b *Backtester) BacktestPair(ctx context.Context, asset1, asset2 string, days int, interval string) (result *models.BacktestResult, err error) {
	start := b.now()
	pair := asset1 + "," + asset2
	defer func() { b.metrics.ObserveBacktest(pair, err, time.Since(start)) }()

	if interval == "" {
		interval = DefaultBacktestInterval
	}
	cfg, err := b.config.PairConfig()
	if err != nil {
		return nil, err
	}
	bars, err := BarsForDays(days, interval, cfg.WindowSize)
	if err != nil {
		return nil, err
	}

	log := b.logger.WithFields(logrus.Fields{"pair": pair, "interval": interval, "bars": bars})
	log.Info("Backtest started")

	bars1, bars2, err := b.market.FetchBars(ctx, asset1, asset2, interval, bars, cfg.WindowSize)
	if err != nil {
		return nil, err
	}
	model, err := b.market.Build(asset1, asset2, bars1, bars2, cfg.WindowSize)
	if err != nil {
		return nil, err
	}

	tail1 := bars1[len(bars1)-cfg.WindowSize:]
	tail2 := bars2[len(bars2)-cfg.WindowSize:]

	in := report.SignalInput{
		Asset1:       asset1,
		Asset2:       asset2,
		ZScore:       model.ZScore,
		Entry:        cfg.EntryThreshold,
		Exit:         cfg.ExitThreshold,
		Correlation:  model.Correlation,
		Alpha:        model.Alpha,
		Beta:         model.Beta,
		IsStationary: model.IsStationary,
	}
	result = &models.BacktestResult{
		ID:             uuid.NewString(),
		Asset1:         asset1,
		Asset2:         asset2,
		Interval:       interval,
		Days:           days,
		Bars:           bars,
		Correlation:    model.Correlation,
		Alpha:          model.Alpha,
		Beta:           model.Beta,
		SpreadMean:     model.SpreadMean,
		SpreadStd:      model.SpreadStd,
		Spread:         model.Spread,
		ZScore:         model.ZScore,
		LastPrice1:     model.LastPrice1,
		LastPrice2:     model.LastPrice2,
		Signal:         ClassifySignal(model.ZScore, cfg.EntryThreshold, cfg.ExitThreshold),
		SignalStrength: report.Rating(model.ZScore),
		IsStationary:   model.IsStationary,
		Report:         report.SignalReport(in),
		ZScoreChart:    report.ZScoreChart(model.ZScoreHistory, cfg.EntryThreshold, cfg.ExitThreshold),
		SpreadChart:    report.SpreadChart(model.SpreadHistory, model.SpreadMean, model.SpreadStd),
		ArbitrageCount: CountSuccessfulTrades(model.ZScoreHistory, cfg.EntryThreshold, cfg.ExitThreshold),
		Liquidations:   CountLiquidations(model.ZScoreHistory, tail1, tail2, cfg.EntryThreshold, cfg.ExitThreshold, cfg.Leverage),
		CreatedAt:      b.now(),
	}

	log.WithFields(logrus.Fields{
		"correlation":  result.Correlation,
		"z_score":      result.ZScore,
		"arbitrage":    result.ArbitrageCount,
		"liquidations": result.Liquidations,
	}).Info("Backtest finished")
	return result, nil
}

// Batch backtests every combination on the shared worker pool. Invalid
// combinations and failed backtests are skipped; only a failure to list the
// tradable symbols fails the batch.
func (b *Backtester) Batch(ctx context.Context, combinations []string, days int, interval string) (map[string]*models.BacktestResult, error) {
	results := make(map[string]*models.BacktestResult)
	if len(combinations) == 0 {
		return results, nil
	}
	if interval == "" {
		interval = DefaultBacktestInterval
	}

	set, err := tradingSet(ctx, b.exchange)
	if err != nil {
		return nil, err
	}

	total := len(combinations)
	b.logger.WithFields(logrus.Fields{"combinations": total, "interval": interval, "days": days}).Info("Batch backtest started")

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		completed int
	)
	done := func() {
		mu.Lock()
		defer mu.Unlock()
		completed++
		if completed%progressEvery == 0 || completed == total {
			b.logger.WithFields(logrus.Fields{
				"completed": completed,
				"total":     total,
				"percent":   fmt.Sprintf("%.1f", float64(completed)/float64(total)*100),
			}).Info("Backtest progress")
		}
	}

	for _, combination := range combinations {
		combination := combination
		wg.Add(1)
		err := b.pool.Submit(func() {
			defer wg.Done()
			defer done()

			a1, a2, err := ValidateCombination(combination, set)
			if err != nil {
				b.logger.WithError(err).WithField("pair", combination).Warn("Skipping invalid pair combination")
				return
			}
			res, err := b.BacktestPair(ctx, a1, a2, days, interval)
			if err != nil {
				level := logrus.ErrorLevel
				if errors.Is(err, ErrInsufficientData) {
					level = logrus.WarnLevel
				}
				b.logger.WithError(err).WithField("pair", combination).Log(level, "Backtest failed")
				return
			}
			mu.Lock()
			results[combination] = res
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return results, err
		}
	}
	wg.Wait()

	b.logger.WithFields(logrus.Fields{"results": len(results), "interval": interval}).Info("Batch backtest finished")
	return results, nil
}

// BacktestAllSaved runs Batch over the saved combinations.
func (b *Backtester) BacktestAllSaved(ctx context.Context, days int, interval string) (map[string]*models.BacktestResult, error) {
	if b.pairs == nil {
		return map[string]*models.BacktestResult{}, nil
	}
	combinations, err := b.pairs.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(combinations) == 0 {
		b.logger.Warn("No saved pair combinations to backtest")
		return map[string]*models.BacktestResult{}, nil
	}
	return b.Batch(ctx, combinations, days, interval)
}

// ZScoreChart backtests the pair over the default window and returns its z-score chart.
func (b *Backtester) ZScoreChart(ctx context.Context, asset1, asset2 string) (string, error) {
	res, err := b.BacktestPair(ctx, asset1, asset2, 0, DefaultBacktestInterval)
	if err != nil {
		return "", err
	}
	return res.ZScoreChart, nil
}

func (b *Backtester) SpreadChart(ctx context.Context, asset1, asset2 string) (string, error) {
	res, err := b.BacktestPair(ctx, asset1, asset2, 0, DefaultBacktestInterval)
	if err != nil {
		return "", err
	}
	return res.SpreadChart, nil
}
