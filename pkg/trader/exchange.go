package trader

import (
	"context"
	"time"

	"github.com/gregtusar/pairs/pkg/models"
	"github.com/shopspring/decimal"
)

// Exchange is the subset of the venue client the pipeline depends on.
type Exchange interface {
	HasCredentials() bool
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.PriceBar, error)
	GetSymbolInfo(ctx context.Context, symbol string) (*models.SymbolInfo, error)
	TradingSymbols(ctx context.Context) ([]string, error)
	GetPositions(ctx context.Context, symbol string) ([]models.Position, error)
	PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.Order, error)
	ClosePositions(ctx context.Context, symbol string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) (bool, error)
}

// ConfigSource hands out an immutable PairConfig snapshot per call.
type ConfigSource interface {
	PairConfig() (models.PairConfig, error)
	SetWindowSize(size int) (int, error)
}

// AuditSink receives position open/close events. Failures never block trading.
type AuditSink interface {
	Record(ctx context.Context, event models.AuditEvent) error
}

// PriceSource serves cached prices, typically from a mark price stream.
type PriceSource interface {
	Price(symbol string) (decimal.Decimal, bool)
}

// PairStore persists saved "A,B" combinations.
type PairStore interface {
	List(ctx context.Context) ([]string, error)
	Save(ctx context.Context, combination string) error
	Delete(ctx context.Context, combination string) (bool, error)
}

// Metrics receives pipeline observations.
type Metrics interface {
	ObserveTick(outcome string, d time.Duration)
	ObserveSignal(pair string, signal models.Signal, zScore float64)
	ObserveOrder(symbol string, side models.OrderSide, err error)
	ObserveBacktest(pair string, err error, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTick(string, time.Duration) {}
func (nopMetrics) ObserveSignal(string, models.Signal, float64) {}
func (nopMetrics) ObserveOrder(string, models.OrderSide, error) {}
func (nopMetrics) ObserveBacktest(string, error, time.Duration) {}
