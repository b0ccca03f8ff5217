package trader

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gregtusar/pairs/pkg/models"
	"github.com/gregtusar/pairs/pkg/report"
	"github.com/sirupsen/logrus"
)

// MinCorrelation gates every signal on |correlation|.
const MinCorrelation = 0.7

// Decide applies the signal rules in priority order. State is never carried
// between calls; held direction comes from legs.
func Decide(model *models.SpreadModel, cfg models.PairConfig, legs models.LegState) (models.Signal, string) {
	if model.Len() < cfg.WindowSize {
		return models.SignalInsufficient, fmt.Sprintf("history has %d points, window is %d", model.Len(), cfg.WindowSize)
	}

	corr := model.Correlation
	if math.IsNaN(corr) || math.Abs(corr) < MinCorrelation {
		return models.SignalNone, fmt.Sprintf("correlation %.2f below %.2f", corr, MinCorrelation)
	}

	z := model.ZScore
	switch {
	case math.Abs(z) < cfg.ExitThreshold && legs.HasPosition():
		return models.SignalCloseAll, fmt.Sprintf("z-score %.2f within exit threshold %.2f", z, cfg.ExitThreshold)
	case z > cfg.EntryThreshold && !(legs.ShortA || legs.LongB):
		return models.SignalShortALongB, fmt.Sprintf("z-score %.2f above entry threshold %.2f", z, cfg.EntryThreshold)
	case z < -cfg.EntryThreshold && !(legs.LongA || legs.ShortB):
		return models.SignalLongAShortB, fmt.Sprintf("z-score %.2f below entry threshold -%.2f", z, cfg.EntryThreshold)
	}
	return models.SignalNone, "no signal"
}

// SignalEngine derives a Decision from a spread model and the exchange's
// current positions.
type SignalEngine struct {
	exchange Exchange
	config   ConfigSource
	metrics  Metrics
	logger   *logrus.Logger
	now      func() time.Time
}

func NewSignalEngine(exchange Exchange, config ConfigSource, metrics Metrics, logger *logrus.Logger) *SignalEngine {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &SignalEngine{exchange: exchange, config: config, metrics: metrics, logger: logger, now: time.Now}
}

// Legs reads the exchange positions for the pair.
func (e *SignalEngine) Legs(ctx context.Context, cfg models.PairConfig) (models.LegState, []models.Position, error) {
	positions, err := e.exchange.GetPositions(ctx, "")
	if err != nil {
		return models.LegState{}, nil, err
	}
	var pair []models.Position
	for _, p := range positions {
		if p.Symbol == cfg.Asset1 || p.Symbol == cfg.Asset2 {
			pair = append(pair, p)
		}
	}
	return models.LegStateFrom(cfg.Asset1, cfg.Asset2, pair), pair, nil
}

func (e *SignalEngine) Evaluate(ctx context.Context, cfg models.PairConfig, model *models.SpreadModel) (*models.Decision, error) {
	log := e.logger.WithField("pair", cfg.PairName())

	if model.Len() < cfg.WindowSize {
		log.WithField("points", model.Len()).Warn("Not enough history to compute a signal")
		return &models.Decision{Signal: models.SignalInsufficient, Model: model, Reason: "insufficient data", EvaluatedAt: e.now()}, nil
	}

	if cfg.ConsoleChart {
		log.Info("\n" + report.ZScoreChart(model.ZScoreHistory, cfg.EntryThreshold, cfg.ExitThreshold))
		log.Info("\n" + report.SpreadChart(model.SpreadHistory, model.SpreadMean, model.SpreadStd))
	}

	var (
		legs      models.LegState
		positions []models.Position
	)
	if math.Abs(model.Correlation) >= MinCorrelation {
		var err error
		legs, positions, err = e.Legs(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("read positions: %w", err)
		}
	}

	signal, reason := Decide(model, cfg, legs)
	decision := &models.Decision{
		Signal:      signal,
		Model:       model,
		Legs:        legs,
		Positions:   positions,
		Reason:      reason,
		EvaluatedAt: e.now(),
	}

	if cfg.ConsoleSignal {
		log.Info("\n" + e.Report(cfg, model, legs.HasPosition()))
	}
	log.WithFields(logrus.Fields{
		"signal":      signal,
		"z_score":     model.ZScore,
		"correlation": model.Correlation,
		"reason":      reason,
	}).Info("Signal evaluated")
	e.metrics.ObserveSignal(cfg.PairName(), signal, model.ZScore)
	return decision, nil
}

// Report renders the human-readable signal report. It is display only.
func (e *SignalEngine) Report(cfg models.PairConfig, model *models.SpreadModel, hasPositions bool) string {
	return report.SignalReport(report.SignalInput{
		Asset1:       cfg.Asset1,
		Asset2:       cfg.Asset2,
		ZScore:       model.ZScore,
		Entry:        cfg.EntryThreshold,
		Exit:         cfg.ExitThreshold,
		Correlation:  model.Correlation,
		Alpha:        model.Alpha,
		Beta:         model.Beta,
		HasPositions: hasPositions,
		IsStationary: model.IsStationary,
	})
}

// SetWindowSize asks the configuration store to resize the analysis window.
// The store clamps to its allowed range and returns the stored value.
func (e *SignalEngine) SetWindowSize(size int) (int, error) {
	applied, err := e.config.SetWindowSize(size)
	if err != nil {
		return 0, err
	}
	e.logger.WithFields(logrus.Fields{"requested": size, "window_size": applied}).Info("Window size updated")
	return applied, nil
}
