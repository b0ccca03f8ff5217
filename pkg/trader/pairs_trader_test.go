package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gregtusar/pairs/pkg/binance"
	"github.com/gregtusar/pairs/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (m *recordingMetrics) Outcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.outcomes...)
}

func newTestTrader(t *testing.T, ex *fakeExchange, cfg models.PairConfig, metrics *recordingMetrics) *PairsTrader {
	t.Helper()
	pt := NewPairsTrader(Options{
		Exchange: ex,
		Config:   &fakeConfig{cfg: cfg},
		Audit:    &fakeAudit{},
		Pairs:    &fakePairStore{},
		Metrics:  metrics,
		Logger:   quietLogger(),
		Interval: 10 * time.Millisecond,
		Workers:  2,
	})
	t.Cleanup(pt.Stop)
	return pt
}

func TestRunOnceRequiresCredentials(t *testing.T) {
	ex := newFakeExchange()
	ex.creds = false
	metrics := &recordingMetrics{}
	pt := newTestTrader(t, ex, testPairConfig(), metrics)

	_, err := pt.RunOnce(context.Background())
	assert.ErrorIs(t, err, binance.ErrMissingCredentials)
	assert.Zero(t, ex.klineCalls)
	assert.Equal(t, []string{"error"}, metrics.Outcomes())
}

func TestRunOnceConfigError(t *testing.T) {
	ex := newFakeExchange()
	pt := NewPairsTrader(Options{
		Exchange: ex,
		Config:   &fakeConfig{err: errors.New("exit threshold must be below entry")},
		Logger:   quietLogger(),
	})
	t.Cleanup(pt.Stop)

	_, err := pt.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Zero(t, ex.klineCalls)
}

func TestRunOnceInsufficientData(t *testing.T) {
	ex := newFakeExchange()
	ex.klines["BTCUSDT"] = wavyBars(10, 100, 10, 0.5)
	ex.klines["ETHUSDT"] = wavyBars(10, 50, 5, 0.2)
	metrics := &recordingMetrics{}
	pt := newTestTrader(t, ex, testPairConfig(), metrics)

	d, err := pt.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, models.SignalInsufficient, d.Signal)
	assert.Nil(t, d.Model)
	assert.Equal(t, []string{"insufficient_data"}, metrics.Outcomes())
	assert.Same(t, d, pt.LastDecision())
	assert.Empty(t, ex.orders)
}

func TestRunOnceSimulatesWhenTradingDisabled(t *testing.T) {
	ex := newFakeExchange()
	ex.klines["BTCUSDT"] = wavyBars(100, 100, 10, 0.5)
	ex.klines["ETHUSDT"] = wavyBars(100, 50, 5, 0.2)
	cfg := testPairConfig()
	cfg.Enabled = false
	cfg.ConsoleChart = true
	cfg.ConsoleSignal = true
	metrics := &recordingMetrics{}
	pt := newTestTrader(t, ex, cfg, metrics)

	d, err := pt.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, d.Model)
	assert.Equal(t, 20, d.Model.Len())
	assert.Empty(t, ex.orders)
	assert.Empty(t, ex.closed)
	require.Len(t, metrics.Outcomes(), 1)
	assert.Contains(t, []string{"ok", "signal"}, metrics.Outcomes()[0])
}

func TestStartStop(t *testing.T) {
	ex := newFakeExchange()
	ex.klines["BTCUSDT"] = wavyBars(100, 100, 10, 0.5)
	ex.klines["ETHUSDT"] = wavyBars(100, 50, 5, 0.2)
	cfg := testPairConfig()
	cfg.Enabled = false
	metrics := &recordingMetrics{}
	pt := newTestTrader(t, ex, cfg, metrics)

	require.NoError(t, pt.Start(context.Background()))
	assert.Error(t, pt.Start(context.Background()))

	assert.Eventually(t, func() bool { return len(metrics.Outcomes()) >= 2 }, time.Second, 5*time.Millisecond)
	pt.Stop()

	n := len(metrics.Outcomes())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(metrics.Outcomes()))
}

func TestStartAfterStopIsRejected(t *testing.T) {
	pt := newTestTrader(t, newFakeExchange(), testPairConfig(), &recordingMetrics{})

	require.NoError(t, pt.Start(context.Background()))
	pt.Stop()
	pt.Stop()

	assert.ErrorIs(t, pt.Start(context.Background()), ErrTraderStopped)

	neverStarted := newTestTrader(t, newFakeExchange(), testPairConfig(), &recordingMetrics{})
	neverStarted.Stop()
	assert.ErrorIs(t, neverStarted.Start(context.Background()), ErrTraderStopped)
}

func TestTraderSetWindowSize(t *testing.T) {
	pt := newTestTrader(t, newFakeExchange(), testPairConfig(), &recordingMetrics{})

	got, err := pt.SetWindowSize(5)
	require.NoError(t, err)
	assert.Equal(t, 10, got)
}

func TestTraderSnapshotOverridesPair(t *testing.T) {
	ex := newFakeExchange()
	ex.klines["SOLUSDT"] = wavyBars(100, 20, 3, 0.1)
	ex.klines["ETHUSDT"] = wavyBars(100, 50, 5, 0.2)
	pt := newTestTrader(t, ex, testPairConfig(), &recordingMetrics{})

	model, cfg, err := pt.Snapshot(context.Background(), "SOLUSDT", "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "SOLUSDT", cfg.Asset1)
	assert.Equal(t, "SOLUSDT", model.Asset1)
}

func TestTraderSignalReport(t *testing.T) {
	ex := newFakeExchange()
	ex.klines["BTCUSDT"] = wavyBars(100, 100, 10, 0.5)
	ex.klines["ETHUSDT"] = wavyBars(100, 50, 5, 0.2)
	pt := newTestTrader(t, ex, testPairConfig(), &recordingMetrics{})

	out, err := pt.SignalReport(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, "BTCUSDT")
}
