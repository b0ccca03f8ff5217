package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gregtusar/pairs/pkg/models"
	"github.com/gregtusar/pairs/pkg/stats"
	"github.com/sirupsen/logrus"
)

// ErrInsufficientData means fewer bars than the window were available.
var ErrInsufficientData = errors.New("insufficient data")

const (
	// LiveInterval is the bar interval used by the scheduled pipeline.
	LiveInterval = "1h"

	fallbackBarStep = 15 * time.Minute
)

// MarketData fetches bar windows for a pair and builds the spread model.
type MarketData struct {
	exchange Exchange
	logger   *logrus.Logger
	now      func() time.Time
}

func NewMarketData(exchange Exchange, logger *logrus.Logger) *MarketData {
	return &MarketData{exchange: exchange, logger: logger, now: time.Now}
}

// FetchBars loads limit bars for both legs and fails with ErrInsufficientData
// if either leg has fewer than window bars.
func (m *MarketData) FetchBars(ctx context.Context, asset1, asset2, interval string, limit, window int) ([]models.PriceBar, []models.PriceBar, error) {
	bars1, err := m.exchange.GetKlines(ctx, asset1, interval, limit)
	if err != nil {
		return nil, nil, err
	}
	bars2, err := m.exchange.GetKlines(ctx, asset2, interval, limit)
	if err != nil {
		return nil, nil, err
	}

	fields := logrus.Fields{
		"pair":     asset1 + "," + asset2,
		"interval": interval,
		"bars1":    len(bars1),
		"bars2":    len(bars2),
		"window":   window,
	}
	if len(bars1) < window || len(bars2) < window {
		m.logger.WithFields(fields).Warn("Not enough history for analysis")
		return nil, nil, fmt.Errorf("%w: need %d bars, got %d and %d", ErrInsufficientData, window, len(bars1), len(bars2))
	}
	m.logger.WithFields(fields).Debug("Fetched price history")
	return bars1, bars2, nil
}

// Snapshot runs the live fetch (2x window hourly bars) and builds the model.
// The configuration dump is logged on the session's first run only.
func (m *MarketData) Snapshot(ctx context.Context, session *Session, cfg models.PairConfig) (*models.SpreadModel, error) {
	if session != nil && session.TakeFirstRun() {
		m.logger.WithFields(logrus.Fields{
			"pair":           cfg.PairName(),
			"console_chart":  cfg.ConsoleChart,
			"console_signal": cfg.ConsoleSignal,
			"position_size":  cfg.PositionSize.String(),
			"amount_based":   cfg.AmountBased,
			"leverage":       cfg.Leverage,
			"window_size":    cfg.WindowSize,
			"trading":        cfg.Enabled,
		}).Info("Pipeline configuration")
	}

	bars1, bars2, err := m.FetchBars(ctx, cfg.Asset1, cfg.Asset2, LiveInterval, cfg.WindowSize*2, cfg.WindowSize)
	if err != nil {
		return nil, err
	}
	return m.Build(cfg.Asset1, cfg.Asset2, bars1, bars2, cfg.WindowSize)
}

// Build computes the spread model over the last window closes of each series.
// Asset1 is regressed on asset2; the time history follows asset1's close times.
func (m *MarketData) Build(asset1, asset2 string, bars1, bars2 []models.PriceBar, window int) (*models.SpreadModel, error) {
	if window < 2 {
		return nil, fmt.Errorf("%w: window size %d below 2", stats.ErrInvalidInput, window)
	}
	if len(bars1) < window || len(bars2) < window {
		return nil, fmt.Errorf("%w: need %d bars, got %d and %d", ErrInsufficientData, window, len(bars1), len(bars2))
	}

	tail1 := bars1[len(bars1)-window:]
	tail2 := bars2[len(bars2)-window:]
	closes1 := models.Closes(tail1)
	closes2 := models.Closes(tail2)

	corr, err := stats.Correlation(closes1, closes2)
	if err != nil {
		return nil, err
	}
	reg, err := stats.OrthogonalRegression(closes2, closes1)
	if err != nil {
		return nil, err
	}

	log := m.logger.WithField("pair", asset1+","+asset2)

	adf := stats.ADF(reg.Residuals, stats.DefaultSignificance)
	if !adf.Stationary {
		log.WithField("p_value", adf.PValue).Warn("Spread failed the stationarity test; continuing with flag set")
	}

	zscores, std, floored := stats.ZScores(reg.Residuals, reg.Mean, reg.Std)
	if floored {
		log.WithFields(logrus.Fields{"std": reg.Std, "floor": std}).Warn("Spread standard deviation floored")
	}
	if std == 0 {
		log.Warn("Spread standard deviation is zero; z-scores set to 0")
	}

	model := &models.SpreadModel{
		Asset1:        asset1,
		Asset2:        asset2,
		Correlation:   corr,
		Alpha:         reg.Alpha,
		Beta:          reg.Beta,
		SpreadMean:    reg.Mean,
		SpreadStd:     std,
		IsStationary:  adf.Stationary,
		SpreadHistory: reg.Residuals,
		ZScoreHistory: zscores,
		TimeHistory:   m.timeHistory(tail1, window),
		LastPrice1:    tail1[window-1].Close,
		LastPrice2:    tail2[window-1].Close,
	}
	model.Spread = model.SpreadHistory[window-1]
	model.ZScore = model.ZScoreHistory[window-1]

	log.WithFields(logrus.Fields{
		"correlation": corr,
		"alpha":       reg.Alpha,
		"beta":        reg.Beta,
		"spread":      model.Spread,
		"z_score":     model.ZScore,
		"stationary":  adf.Stationary,
	}).Info("Spread model updated")
	return model, nil
}

func (m *MarketData) timeHistory(bars []models.PriceBar, window int) []time.Time {
	out := make([]time.Time, window)
	hasMeta := true
	for _, b := range bars {
		if b.CloseTime.IsZero() {
			hasMeta = false
			break
		}
	}
	if hasMeta {
		for i, b := range bars {
			out[i] = b.CloseTime
		}
		return out
	}

	now := m.now()
	for i := range out {
		out[i] = now.Add(-time.Duration(window-1-i) * fallbackBarStep)
	}
	return out
}
