package trader

import (
	"context"
	"math"
	"testing"

	"github.com/gregtusar/pairs/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	cfg := testPairConfig()

	tests := []struct {
		name  string
		model *models.SpreadModel
		legs  models.LegState
		want  models.Signal
	}{
		{"short A long B on high z", modelWith(20, 0.95, 2.3), models.LegState{}, models.SignalShortALongB},
		{"long A short B on low z", modelWith(20, 0.95, -2.3), models.LegState{}, models.SignalLongAShortB},
		{"negative correlation passes gate", modelWith(20, -0.9, 2.3), models.LegState{}, models.SignalShortALongB},
		{"close inside exit band", modelWith(20, 0.95, 0.3), models.LegState{LongA: true, ShortB: true}, models.SignalCloseAll},
		{"inside exit band without position", modelWith(20, 0.95, 0.3), models.LegState{}, models.SignalNone},
		{"weak correlation", modelWith(20, 0.4, 3.0), models.LegState{}, models.SignalNone},
		{"weak correlation with position", modelWith(20, 0.4, 0.1), models.LegState{LongA: true}, models.SignalNone},
		{"nan correlation", modelWith(20, math.NaN(), 3.0), models.LegState{}, models.SignalNone},
		{"already short A", modelWith(20, 0.95, 2.3), models.LegState{ShortA: true, LongB: true}, models.SignalNone},
		{"already long A", modelWith(20, 0.95, -2.3), models.LegState{LongA: true, ShortB: true}, models.SignalNone},
		{"held opposite direction still enters", modelWith(20, 0.95, 2.3), models.LegState{LongA: true, ShortB: true}, models.SignalShortALongB},
		{"between bands", modelWith(20, 0.95, 1.2), models.LegState{}, models.SignalNone},
		{"short history", modelWith(19, 0.95, 2.3), models.LegState{}, models.SignalInsufficient},
		{"nil model", nil, models.LegState{}, models.SignalInsufficient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := Decide(tt.model, cfg, tt.legs)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, reason)
		})
	}
}

func TestDecideIsStateless(t *testing.T) {
	cfg := testPairConfig()
	model := modelWith(20, 0.95, 2.3)

	first, _ := Decide(model, cfg, models.LegState{})
	second, _ := Decide(model, cfg, models.LegState{})
	assert.Equal(t, first, second)
}

func TestEvaluateShortALongB(t *testing.T) {
	ex := newFakeExchange()
	metrics := &recordingMetrics{}
	engine := NewSignalEngine(ex, &fakeConfig{cfg: testPairConfig()}, metrics, quietLogger())

	d, err := engine.Evaluate(context.Background(), testPairConfig(), modelWith(20, 0.95, 2.3))
	require.NoError(t, err)
	assert.Equal(t, models.SignalShortALongB, d.Signal)
	assert.False(t, d.Legs.HasPosition())
	assert.Equal(t, 1, ex.positionCalls)
	assert.Equal(t, []models.Signal{models.SignalShortALongB}, metrics.signals)
}

func TestEvaluateCloseAllCarriesPairPositions(t *testing.T) {
	ex := newFakeExchange()
	ex.positions = []models.Position{
		{Symbol: "BTCUSDT", Quantity: decimal.NewFromFloat(0.5)},
		{Symbol: "ETHUSDT", Quantity: decimal.NewFromFloat(-4)},
		{Symbol: "SOLUSDT", Quantity: decimal.NewFromFloat(10)},
	}
	engine := NewSignalEngine(ex, &fakeConfig{}, nil, quietLogger())

	d, err := engine.Evaluate(context.Background(), testPairConfig(), modelWith(20, 0.95, 0.3))
	require.NoError(t, err)
	assert.Equal(t, models.SignalCloseAll, d.Signal)
	assert.Equal(t, models.LegState{LongA: true, ShortB: true}, d.Legs)
	assert.Len(t, d.Positions, 2)
}

func TestEvaluateSkipsPositionsBelowCorrelationGate(t *testing.T) {
	ex := newFakeExchange()
	engine := NewSignalEngine(ex, &fakeConfig{}, nil, quietLogger())

	d, err := engine.Evaluate(context.Background(), testPairConfig(), modelWith(20, 0.4, 3.0))
	require.NoError(t, err)
	assert.Equal(t, models.SignalNone, d.Signal)
	assert.Zero(t, ex.positionCalls)
}

func TestEvaluateInsufficientHistory(t *testing.T) {
	ex := newFakeExchange()
	engine := NewSignalEngine(ex, &fakeConfig{}, nil, quietLogger())

	d, err := engine.Evaluate(context.Background(), testPairConfig(), modelWith(5, 0.95, 2.3))
	require.NoError(t, err)
	assert.Equal(t, models.SignalInsufficient, d.Signal)
	assert.Zero(t, ex.positionCalls)
}

func TestSignalEngineSetWindowSizeClamps(t *testing.T) {
	cfg := &fakeConfig{cfg: testPairConfig()}
	engine := NewSignalEngine(newFakeExchange(), cfg, nil, quietLogger())

	got, err := engine.SetWindowSize(5000)
	require.NoError(t, err)
	assert.Equal(t, 1000, got)

	got, err = engine.SetWindowSize(3)
	require.NoError(t, err)
	assert.Equal(t, 10, got)
}

func TestReportMentionsPair(t *testing.T) {
	engine := NewSignalEngine(newFakeExchange(), &fakeConfig{}, nil, quietLogger())
	out := engine.Report(testPairConfig(), modelWith(20, 0.95, 2.3), false)
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "ETHUSDT")
}
