package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSample(t *testing.T) {
	assert.Nil(t, Sample(nil, 10))
	assert.Equal(t, []float64{1, 2, 2, 2}, Sample([]float64{1, 2}, 4))

	data := make([]float64, 120)
	for i := range data {
		data[i] = float64(i)
	}
	got := Sample(data, 60)
	require.Len(t, got, 60)
	assert.Equal(t, 0.0, got[0])
	assert.Equal(t, 118.0, got[59])
}

func TestZScoreChartShape(t *testing.T) {
	z := make([]float64, 200)
	for i := range z {
		z[i] = float64(i%20)/5 - 2
	}
	chart := ZScoreChart(z, 2, 0.5)
	lines := strings.Split(strings.TrimRight(chart, "\n"), "\n")
	// title, top axis, body rows, bottom axis, labels
	require.Len(t, lines, ChartHeight+4)
	assert.True(t, strings.HasPrefix(lines[0], "Z-score chart (latest:"))
	assert.Contains(t, chart, string(pointChar))
	assert.Contains(t, chart, string(thresholdChar))
	assert.Contains(t, lines[len(lines)-2], strings.Repeat("─", ChartWidth))
}

func TestChartsEmpty(t *testing.T) {
	assert.Equal(t, "no data to chart", ZScoreChart(nil, 2, 0.5))
	assert.Equal(t, "no data to chart", SpreadChart(nil, 0, 1))
}

func TestSpreadChartFlatSeries(t *testing.T) {
	chart := SpreadChart([]float64{1, 1, 1}, 1, 0)
	assert.Contains(t, chart, "Spread chart (latest: 1.00, mean: 1.00, std: 0.00)")
}

func TestRating(t *testing.T) {
	tests := []struct {
		z    float64
		want string
	}{
		{3.2, "extreme"},
		{-2.7, "very strong"},
		{2.1, "strong"},
		{1.6, "moderate"},
		{-1.2, "weak"},
		{0.4, "very weak"},
		{2.0, "moderate"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Rating(tt.z), "z=%v", tt.z)
	}
}

func TestRecommendation(t *testing.T) {
	base := SignalInput{Asset1: "BTCUSDT", Asset2: "ETHUSDT", Entry: 2, Exit: 0.5}

	in := base
	in.ZScore = 2.3
	assert.Equal(t, "Entry: short BTCUSDT, long ETHUSDT", Recommendation(in))

	in.ZScore = -2.3
	assert.Equal(t, "Entry: long BTCUSDT, short ETHUSDT", Recommendation(in))

	in.ZScore = 0.2
	assert.Equal(t, "No trading signal", Recommendation(in))
	in.HasPositions = true
	assert.Equal(t, "Exit: close all positions", Recommendation(in))
}

func TestSignalReportContents(t *testing.T) {
	out := SignalReport(SignalInput{
		Asset1: "BTCUSDT", Asset2: "ETHUSDT",
		ZScore: 3.1, Entry: 2, Exit: 0.5,
		Correlation: 0.95, Alpha: 1.5, Beta: 0.25,
	})
	assert.Contains(t, out, "Regression: BTCUSDT = 1.5000 + 0.2500 * ETHUSDT")
	assert.Contains(t, out, "Signal strength: strong")
	assert.Contains(t, out, "Correlation strength: very strong")
	assert.Contains(t, out, "Open positions: no")
}
