package binance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAdjustPrice(t *testing.T) {
	tests := []struct {
		name  string
		price string
		tick  string
		want  string
	}{
		{"aligned", "100.50", "0.10", "100.5"},
		{"round down", "100.57", "0.10", "100.5"},
		{"coarse tick", "1234.9", "5", "1230"},
		{"zero tick", "1.2345", "0", "1.2345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AdjustPrice(decimal.RequireFromString(tt.price), decimal.RequireFromString(tt.tick))
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestAdjustQuantityRoundsUp(t *testing.T) {
	tests := []struct {
		qty       string
		precision int32
		want      string
	}{
		{"0.0011", 3, "0.002"},
		{"0.001", 3, "0.001"},
		{"1.01", 0, "2"},
		{"5", 2, "5"},
	}
	for _, tt := range tests {
		got := AdjustQuantity(decimal.RequireFromString(tt.qty), tt.precision)
		assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "%s@%d got %s", tt.qty, tt.precision, got)
	}
}
