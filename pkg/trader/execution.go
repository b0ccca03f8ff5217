package trader

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gregtusar/pairs/pkg/binance"
	"github.com/gregtusar/pairs/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const auditTimeout = 5 * time.Second

// SizingFactor scales the configured size into [0.5, 1] by correlation
// strength and by how far |z| sits relative to the entry threshold.
func SizingFactor(correlation, zScore, entry float64) float64 {
	corrFactor := math.Min(1, math.Abs(correlation))
	zFactor := 0.5
	if entry > 0 {
		zFactor = 0.5 + math.Min(0.5, math.Abs(zScore)/entry*0.5)
	}
	return 0.5 + corrFactor*zFactor*0.5
}

// LegResult is the outcome of one leg of a paired order.
type LegResult struct {
	Symbol   string
	Side     models.OrderSide
	Quantity decimal.Decimal
	Order    *models.Order
	Err      error
}

// Executor sizes and places paired orders. Each leg succeeds or fails on its
// own; a failed leg is logged and the other leg is not rolled back.
type Executor struct {
	exchange Exchange
	prices   PriceSource
	audit    AuditSink
	session  *Session
	metrics  Metrics
	logger   *logrus.Logger
	auditWG  sync.WaitGroup
	now      func() time.Time
}

func NewExecutor(exchange Exchange, prices PriceSource, audit AuditSink, session *Session, metrics Metrics, logger *logrus.Logger) *Executor {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if session == nil {
		session = NewSession()
	}
	return &Executor{
		exchange: exchange,
		prices:   prices,
		audit:    audit,
		session:  session,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

func (x *Executor) price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if x.prices != nil {
		if p, ok := x.prices.Price(symbol); ok && p.IsPositive() {
			return p, nil
		}
	}
	return x.exchange.GetPrice(ctx, symbol)
}

// Quantity converts the configured position size into an order quantity for
// symbol, rounded up to the symbol's quantity precision.
func (x *Executor) Quantity(ctx context.Context, symbol string, cfg models.PairConfig, model *models.SpreadModel) (decimal.Decimal, error) {
	factor := SizingFactor(model.Correlation, model.ZScore, cfg.EntryThreshold)
	adjusted := cfg.PositionSize.Mul(decimal.NewFromFloat(factor))

	info, err := x.exchange.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}

	qty := adjusted
	if cfg.AmountBased {
		price, err := x.price(ctx, symbol)
		if err != nil {
			return decimal.Zero, fmt.Errorf("price for %s: %w", symbol, err)
		}
		if !price.IsPositive() {
			return decimal.Zero, fmt.Errorf("price for %s is %s", symbol, price)
		}
		qty = adjusted.Div(price).Truncate(8)
	}
	qty = binance.AdjustQuantity(qty, info.QuantityPrecision)

	x.logger.WithFields(logrus.Fields{
		"symbol":        symbol,
		"factor":        fmt.Sprintf("%.2f", factor),
		"position_size": cfg.PositionSize.String(),
		"adjusted_size": adjusted.String(),
		"amount_based":  cfg.AmountBased,
		"quantity":      qty.String(),
	}).Info("Position sized")
	return qty, nil
}

// ExecutePaired places one market order per leg. A context cancelled before
// the first leg places nothing; once started, both legs run to completion
// regardless of the caller's cancellation.
func (x *Executor) ExecutePaired(ctx context.Context, cfg models.PairConfig, model *models.SpreadModel, signal models.Signal, reason string) ([]LegResult, error) {
	sideA, sideB, err := signal.Sides()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("paired execution not started: %w", err)
	}
	ctx = context.WithoutCancel(ctx)

	legs := []LegResult{
		{Symbol: cfg.Asset1, Side: sideA},
		{Symbol: cfg.Asset2, Side: sideB},
	}
	for i := range legs {
		legs[i] = x.placeLeg(ctx, cfg, model, legs[i], reason)
	}
	return legs, nil
}

func (x *Executor) placeLeg(ctx context.Context, cfg models.PairConfig, model *models.SpreadModel, leg LegResult, reason string) LegResult {
	log := x.logger.WithFields(logrus.Fields{"symbol": leg.Symbol, "side": leg.Side})

	qty, err := x.Quantity(ctx, leg.Symbol, cfg, model)
	if err != nil {
		leg.Err = fmt.Errorf("size %s: %w", leg.Symbol, err)
		log.WithError(err).Error("Failed to size leg; skipping")
		x.metrics.ObserveOrder(leg.Symbol, leg.Side, leg.Err)
		return leg
	}
	leg.Quantity = qty

	order, err := x.exchange.PlaceOrder(ctx, &models.OrderRequest{
		Symbol:       leg.Symbol,
		Side:         leg.Side,
		PositionSide: models.PositionSideBoth,
		Type:         models.OrderTypeMarket,
		Quantity:     qty,
	})
	x.metrics.ObserveOrder(leg.Symbol, leg.Side, err)
	if err != nil {
		leg.Err = err
		log.WithError(err).Error("Leg order failed; other leg is not rolled back")
		return leg
	}
	leg.Order = order

	log.WithFields(logrus.Fields{"order_id": order.OrderID, "quantity": qty.String()}).Info("Leg order placed")
	x.record(models.AuditEvent{
		Action:    models.AuditOpen,
		Symbol:    leg.Symbol,
		Side:      leg.Side,
		Price:     order.FillPrice(),
		Quantity:  order.OrigQty,
		Reason:    reason,
		ZScore:    model.ZScore,
		Timestamp: x.now(),
	})
	return leg
}

// CloseAll records close events for the held positions and flattens both
// legs. Caller cancellation does not stop it halfway.
func (x *Executor) CloseAll(ctx context.Context, cfg models.PairConfig, model *models.SpreadModel, positions []models.Position, reason string) error {
	for _, p := range positions {
		side := models.OrderSideBuy
		if p.IsLong() {
			side = models.OrderSideSell
		}
		x.record(models.AuditEvent{
			Action:    models.AuditClose,
			Symbol:    p.Symbol,
			Side:      side,
			Price:     p.MarkPrice,
			Quantity:  p.AbsQuantity(),
			Reason:    reason,
			ZScore:    model.ZScore,
			Timestamp: x.now(),
		})
	}

	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, symbol := range []string{cfg.Asset1, cfg.Asset2} {
		if err := x.exchange.ClosePositions(ctx, symbol); err != nil {
			x.logger.WithError(err).WithField("symbol", symbol).Error("Failed to close positions")
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close all: %d of 2 legs failed: %w", len(errs), errs[0])
	}
	x.logger.WithField("pair", cfg.PairName()).Info("All positions closed")
	return nil
}

// ApplyLeverage sets leverage on both legs. Failures are logged, never returned.
func (x *Executor) ApplyLeverage(ctx context.Context, cfg models.PairConfig) {
	for _, symbol := range []string{cfg.Asset1, cfg.Asset2} {
		if x.session.LeverageApplied(symbol, cfg.Leverage) {
			continue
		}
		log := x.logger.WithFields(logrus.Fields{"symbol": symbol, "leverage": cfg.Leverage})
		ok, err := x.exchange.SetLeverage(ctx, symbol, cfg.Leverage)
		switch {
		case err != nil:
			log.WithError(err).Warn("Failed to set leverage")
		case !ok:
			log.Warn("Exchange did not confirm leverage")
		default:
			x.session.MarkLeverage(symbol, cfg.Leverage)
		}
	}
}

// Execute acts on a decision. With trading disabled it only logs what it
// would have done.
func (x *Executor) Execute(ctx context.Context, cfg models.PairConfig, decision *models.Decision) error {
	if decision == nil || decision.Model == nil {
		return nil
	}
	log := x.logger.WithFields(logrus.Fields{"pair": cfg.PairName(), "signal": decision.Signal})

	if decision.Signal == models.SignalNone || decision.Signal == models.SignalInsufficient {
		return nil
	}
	if !cfg.Enabled {
		log.Info("Trading disabled; simulated action only")
		return nil
	}

	reason := fmt.Sprintf("z-score %.2f: %s", decision.Model.ZScore, decision.Reason)
	switch decision.Signal {
	case models.SignalCloseAll:
		return x.CloseAll(ctx, cfg, decision.Model, decision.Positions, reason)
	case models.SignalShortALongB, models.SignalLongAShortB:
		x.ApplyLeverage(ctx, cfg)
		legs, err := x.ExecutePaired(ctx, cfg, decision.Model, decision.Signal, reason)
		if err != nil {
			return err
		}
		failed := 0
		for _, l := range legs {
			if l.Err != nil {
				failed++
			}
		}
		if failed > 0 {
			log.WithField("failed_legs", failed).Warn("Paired execution partially failed")
		}
		return nil
	}
	return fmt.Errorf("unknown signal %s", decision.Signal)
}

func (x *Executor) record(event models.AuditEvent) {
	if x.audit == nil {
		return
	}
	x.auditWG.Add(1)
	go func() {
		defer x.auditWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		if err := x.audit.Record(ctx, event); err != nil {
			x.logger.WithError(err).WithFields(logrus.Fields{
				"symbol": event.Symbol,
				"action": event.Action,
			}).Warn("Failed to record position history")
		}
	}()
}

// Flush waits for pending audit writes.
func (x *Executor) Flush() {
	x.auditWG.Wait()
}
