package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gregtusar/pairs/pkg/binance"
	"github.com/gregtusar/pairs/pkg/models"
	"github.com/sirupsen/logrus"
)

// DefaultScheduleInterval is how often the live pipeline runs.
const DefaultScheduleInterval = 10 * time.Minute

// ErrTraderStopped is returned by Start once Stop has run. Stop releases the
// backtest pool, so a stopped trader cannot be restarted.
var ErrTraderStopped = errors.New("pairs trader stopped")

type Options struct {
	Exchange Exchange
	Config   ConfigSource
	Audit    AuditSink
	Pairs    PairStore
	Prices   PriceSource
	Metrics  Metrics
	Logger   *logrus.Logger
	Interval time.Duration
	Workers  int
}

// PairsTrader composes market data, signal, execution and backtesting, and
// drives the live pipeline on a fixed schedule or on demand.
type PairsTrader struct {
	exchange   Exchange
	config     ConfigSource
	session    *Session
	market     *MarketData
	signals    *SignalEngine
	executor   *Executor
	backtester *Backtester
	pairs      *PairManager
	pool       *Pool
	metrics    Metrics
	logger     *logrus.Logger
	interval   time.Duration

	runMu   sync.Mutex
	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool
	last    *models.Decision
}

func NewPairsTrader(opts Options) *PairsTrader {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultScheduleInterval
	}

	session := NewSession()
	market := NewMarketData(opts.Exchange, logger)
	pool := NewPool(opts.Workers, logger)
	pairs := NewPairManager(opts.Exchange, opts.Pairs, logger)

	return &PairsTrader{
		exchange:   opts.Exchange,
		config:     opts.Config,
		session:    session,
		market:     market,
		signals:    NewSignalEngine(opts.Exchange, opts.Config, metrics, logger),
		executor:   NewExecutor(opts.Exchange, opts.Prices, opts.Audit, session, metrics, logger),
		backtester: NewBacktester(opts.Exchange, opts.Config, market, pairs, pool, metrics, logger),
		pairs:      pairs,
		pool:       pool,
		metrics:    metrics,
		logger:     logger,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

func (pt *PairsTrader) Start(ctx context.Context) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.stopped {
		return ErrTraderStopped
	}
	if pt.started {
		return errors.New("pairs trader already started")
	}
	pt.started = true

	pt.logger.WithField("interval", pt.interval.String()).Info("Starting pairs trader")

	pt.wg.Add(1)
	go pt.schedule(ctx)
	return nil
}

// Stop halts the scheduler, drains the backtest pool and flushes audit writes.
// It is terminal and safe to call more than once.
func (pt *PairsTrader) Stop() {
	pt.mu.Lock()
	if pt.started {
		close(pt.stopCh)
		pt.started = false
	}
	pt.stopped = true
	pt.mu.Unlock()

	pt.logger.Info("Stopping pairs trader")
	pt.wg.Wait()
	pt.pool.Shutdown()
	pt.executor.Flush()
}

func (pt *PairsTrader) schedule(ctx context.Context) {
	defer pt.wg.Done()

	ticker := time.NewTicker(pt.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pt.stopCh:
			return
		case <-ticker.C:
			if _, err := pt.RunOnce(ctx); err != nil {
				pt.logger.WithError(err).Error("Scheduled pipeline run failed")
			}
		}
	}
}

// RunOnce executes market data, signal and execution once. Runs are
// serialised so a manual trigger never races the scheduler.
func (pt *PairsTrader) RunOnce(ctx context.Context) (*models.Decision, error) {
	pt.runMu.Lock()
	defer pt.runMu.Unlock()

	start := time.Now()
	decision, err := pt.run(ctx)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrInsufficientData):
		outcome = "insufficient_data"
		err = nil
	case err != nil:
		outcome = "error"
	case decision != nil && decision.Signal != models.SignalNone && decision.Signal != models.SignalInsufficient:
		outcome = "signal"
	}
	pt.metrics.ObserveTick(outcome, time.Since(start))

	if decision != nil {
		pt.mu.Lock()
		pt.last = decision
		pt.mu.Unlock()
	}
	return decision, err
}

func (pt *PairsTrader) run(ctx context.Context) (*models.Decision, error) {
	if !pt.exchange.HasCredentials() {
		return nil, binance.ErrMissingCredentials
	}
	cfg, err := pt.config.PairConfig()
	if err != nil {
		return nil, err
	}
	log := pt.logger.WithField("pair", cfg.PairName())
	log.Info("Pipeline run started")

	model, err := pt.market.Snapshot(ctx, pt.session, cfg)
	if err != nil {
		if errors.Is(err, ErrInsufficientData) {
			return &models.Decision{Signal: models.SignalInsufficient, Reason: err.Error(), EvaluatedAt: time.Now()}, err
		}
		return nil, fmt.Errorf("market data: %w", err)
	}

	decision, err := pt.signals.Evaluate(ctx, cfg, model)
	if err != nil {
		return nil, err
	}

	if err := pt.executor.Execute(ctx, cfg, decision); err != nil {
		return decision, fmt.Errorf("execute %s: %w", decision.Signal, err)
	}
	return decision, nil
}

// LastDecision returns the most recent pipeline decision, if any.
func (pt *PairsTrader) LastDecision() *models.Decision {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.last
}

// Snapshot builds a fresh spread model for the configured pair, or for the
// given symbols when both are set.
func (pt *PairsTrader) Snapshot(ctx context.Context, asset1, asset2 string) (*models.SpreadModel, models.PairConfig, error) {
	cfg, err := pt.config.PairConfig()
	if err != nil {
		return nil, cfg, err
	}
	if asset1 != "" && asset2 != "" {
		cfg.Asset1, cfg.Asset2 = asset1, asset2
	}
	model, err := pt.market.Snapshot(ctx, nil, cfg)
	return model, cfg, err
}

// SignalReport renders the report for the configured pair from fresh data.
func (pt *PairsTrader) SignalReport(ctx context.Context) (string, error) {
	model, cfg, err := pt.Snapshot(ctx, "", "")
	if err != nil {
		return "", err
	}
	hasPositions := false
	if legs, _, err := pt.signals.Legs(ctx, cfg); err != nil {
		pt.logger.WithError(err).Warn("Could not read positions for report")
	} else {
		hasPositions = legs.HasPosition()
	}
	return pt.signals.Report(cfg, model, hasPositions), nil
}

func (pt *PairsTrader) SetWindowSize(size int) (int, error) {
	return pt.signals.SetWindowSize(size)
}

func (pt *PairsTrader) Backtester() *Backtester {
	return pt.backtester
}

func (pt *PairsTrader) Pairs() *PairManager {
	return pt.pairs
}

// ResetSession forgets applied leverage so it is re-sent on the next entry.
func (pt *PairsTrader) ResetSession() {
	pt.session.ResetLeverage()
}
