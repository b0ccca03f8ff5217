package trader

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/gregtusar/pairs/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var barEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// wavyBars returns n hourly bars whose closes follow base + amp*sin(i/5) plus
// a small deterministic wobble, so two series built this way are correlated.
func wavyBars(n int, base, amp, wobble float64) []models.PriceBar {
	bars := make([]models.PriceBar, n)
	for i := range bars {
		c := base + amp*math.Sin(float64(i)/5) + wobble*math.Cos(float64(i)*1.7)
		open := barEpoch.Add(time.Duration(i) * time.Hour)
		bars[i] = models.PriceBar{
			OpenTime:  open,
			Open:      decimal.NewFromFloat(c),
			High:      decimal.NewFromFloat(c + 1),
			Low:       decimal.NewFromFloat(c - 1),
			Close:     decimal.NewFromFloat(c),
			Volume:    decimal.NewFromInt(10),
			CloseTime: open.Add(time.Hour - time.Millisecond),
		}
	}
	return bars
}

func barsFromCloses(closes ...float64) []models.PriceBar {
	bars := make([]models.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = models.PriceBar{Close: decimal.NewFromFloat(c)}
	}
	return bars
}

type fakeExchange struct {
	mu sync.Mutex

	creds     bool
	klines    map[string][]models.PriceBar
	prices    map[string]decimal.Decimal
	info      map[string]*models.SymbolInfo
	symbols   []string
	symbolErr error
	positions []models.Position

	orderErr    map[string]error
	leverageErr error
	afterOrder  func()

	orders        []models.OrderRequest
	closed        []string
	leverageCalls []string
	klineCalls    int
	positionCalls int
	nextOrderID   int64
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		creds:    true,
		klines:   make(map[string][]models.PriceBar),
		prices:   make(map[string]decimal.Decimal),
		info:     make(map[string]*models.SymbolInfo),
		orderErr: make(map[string]error),
	}
}

func (f *fakeExchange) HasCredentials() bool { return f.creds }

func (f *fakeExchange) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, errors.New("no price for " + symbol)
	}
	return p, nil
}

func (f *fakeExchange) GetKlines(_ context.Context, symbol, _ string, limit int) ([]models.PriceBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.klineCalls++
	bars, ok := f.klines[symbol]
	if !ok {
		return nil, errors.New("unknown symbol " + symbol)
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func (f *fakeExchange) GetSymbolInfo(_ context.Context, symbol string) (*models.SymbolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.info[symbol]; ok {
		return info, nil
	}
	return &models.SymbolInfo{Symbol: symbol, Status: models.SymbolStatusTrading, QuantityPrecision: 3}, nil
}

func (f *fakeExchange) TradingSymbols(context.Context) ([]string, error) {
	if f.symbolErr != nil {
		return nil, f.symbolErr
	}
	return f.symbols, nil
}

func (f *fakeExchange) GetPositions(context.Context, string) ([]models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positionCalls++
	return f.positions, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, *req)
	if f.afterOrder != nil {
		defer f.afterOrder()
	}
	if err := f.orderErr[req.Symbol]; err != nil {
		return nil, err
	}
	f.nextOrderID++
	return &models.Order{
		OrderID:  f.nextOrderID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     req.Type,
		Status:   models.OrderStatusFilled,
		AvgPrice: f.prices[req.Symbol],
		OrigQty:  req.Quantity,
	}, nil
}

func (f *fakeExchange) ClosePositions(ctx context.Context, symbol string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, symbol)
	return nil
}

func (f *fakeExchange) SetLeverage(_ context.Context, symbol string, _ int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leverageCalls = append(f.leverageCalls, symbol)
	if f.leverageErr != nil {
		return false, f.leverageErr
	}
	return true, nil
}

type fakeConfig struct {
	mu  sync.Mutex
	cfg models.PairConfig
	err error
}

func (c *fakeConfig) PairConfig() (models.PairConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.err
}

func (c *fakeConfig) SetWindowSize(size int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if size < 10 {
		size = 10
	}
	if size > 1000 {
		size = 1000
	}
	c.cfg.WindowSize = size
	return size, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []models.AuditEvent
	err    error
}

func (a *fakeAudit) Record(_ context.Context, e models.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return a.err
}

func (a *fakeAudit) Events() []models.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.AuditEvent(nil), a.events...)
}

type fakePrices map[string]decimal.Decimal

func (p fakePrices) Price(symbol string) (decimal.Decimal, bool) {
	v, ok := p[symbol]
	return v, ok
}

type fakePairStore struct {
	mu    sync.Mutex
	pairs []string
}

func (s *fakePairStore) List(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pairs...), nil
}

func (s *fakePairStore) Save(_ context.Context, combination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pairs {
		if p == combination {
			return nil
		}
	}
	s.pairs = append(s.pairs, combination)
	return nil
}

func (s *fakePairStore) Delete(_ context.Context, combination string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pairs {
		if p == combination {
			s.pairs = append(s.pairs[:i], s.pairs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type recordingMetrics struct {
	nopMetrics
	mu       sync.Mutex
	outcomes []string
	signals  []models.Signal
}

func (m *recordingMetrics) ObserveTick(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) ObserveSignal(_ string, signal models.Signal, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, signal)
}

func testPairConfig() models.PairConfig {
	return models.PairConfig{
		Asset1:         "BTCUSDT",
		Asset2:         "ETHUSDT",
		WindowSize:     20,
		EntryThreshold: 2.0,
		ExitThreshold:  0.5,
		PositionSize:   decimal.NewFromInt(1000),
		AmountBased:    true,
		Leverage:       5,
		Enabled:        true,
	}
}

// modelWith builds a spread model of length n with the given correlation and
// final z-score.
func modelWith(n int, corr, z float64) *models.SpreadModel {
	zs := make([]float64, n)
	if n > 0 {
		zs[n-1] = z
	}
	return &models.SpreadModel{
		Asset1:        "BTCUSDT",
		Asset2:        "ETHUSDT",
		Correlation:   corr,
		ZScore:        z,
		SpreadStd:     1,
		SpreadHistory: make([]float64, n),
		ZScoreHistory: zs,
		TimeHistory:   make([]time.Time, n),
	}
}
