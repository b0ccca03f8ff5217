package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PairConfig is an immutable snapshot of the trading configuration for one pipeline run.
type PairConfig struct {
	Asset1         string          `mapstructure:"asset1" validate:"required,nefield=Asset2"`
	Asset2         string          `mapstructure:"asset2" validate:"required"`
	WindowSize     int             `mapstructure:"window_size" validate:"min=10,max=1000"`
	EntryThreshold float64         `mapstructure:"entry_threshold" validate:"gt=0,gtfield=ExitThreshold"`
	ExitThreshold  float64         `mapstructure:"exit_threshold" validate:"gte=0"`
	PositionSize   decimal.Decimal `mapstructure:"position_size"`
	AmountBased    bool            `mapstructure:"amount_based"`
	Leverage       int             `mapstructure:"leverage" validate:"min=1,max=125"`
	Enabled        bool            `mapstructure:"enabled"`
	ConsoleChart   bool            `mapstructure:"console_chart"`
	ConsoleSignal  bool            `mapstructure:"console_signal"`
}

// PairName renders the canonical "A,B" combination key.
func (c PairConfig) PairName() string {
	return c.Asset1 + "," + c.Asset2
}

type Signal string

const (
	SignalNone         Signal = "NONE"
	SignalCloseAll     Signal = "CLOSE_ALL"
	SignalShortALongB  Signal = "SHORT_A_LONG_B"
	SignalLongAShortB  Signal = "LONG_A_SHORT_B"
	SignalInsufficient Signal = "INSUFFICIENT_DATA"
)

// IsEntry reports whether the signal opens a paired position.
func (s Signal) IsEntry() bool {
	return s == SignalShortALongB || s == SignalLongAShortB
}

// Sides returns the order side for each leg when entering on s.
func (s Signal) Sides() (OrderSide, OrderSide, error) {
	switch s {
	case SignalShortALongB:
		return OrderSideSell, OrderSideBuy, nil
	case SignalLongAShortB:
		return OrderSideBuy, OrderSideSell, nil
	default:
		return "", "", fmt.Errorf("signal %s has no entry sides", s)
	}
}

// SpreadModel is recomputed on every evaluation and never shared between runs.
type SpreadModel struct {
	Asset1       string
	Asset2       string
	Correlation  float64
	Alpha        float64
	Beta         float64
	Spread       float64
	SpreadMean   float64
	SpreadStd    float64
	ZScore       float64
	IsStationary bool

	SpreadHistory []float64
	ZScoreHistory []float64
	TimeHistory   []time.Time

	LastPrice1 decimal.Decimal
	LastPrice2 decimal.Decimal
}

// Len is the common length of the three history slices.
func (m *SpreadModel) Len() int {
	if m == nil {
		return 0
	}
	return len(m.ZScoreHistory)
}

// LegState is the observed exchange position direction for both legs.
type LegState struct {
	LongA  bool `json:"long_a"`
	ShortA bool `json:"short_a"`
	LongB  bool `json:"long_b"`
	ShortB bool `json:"short_b"`
}

func (s LegState) HasPosition() bool {
	return s.LongA || s.ShortA || s.LongB || s.ShortB
}

// LegStateFrom derives leg directions from the exchange's nonzero positions.
func LegStateFrom(asset1, asset2 string, positions []Position) LegState {
	var st LegState
	for _, p := range positions {
		switch p.Symbol {
		case asset1:
			st.LongA = st.LongA || p.IsLong()
			st.ShortA = st.ShortA || p.IsShort()
		case asset2:
			st.LongB = st.LongB || p.IsLong()
			st.ShortB = st.ShortB || p.IsShort()
		}
	}
	return st
}

// Decision is the outcome of one Signal Engine evaluation.
type Decision struct {
	Signal      Signal
	Model       *SpreadModel
	Legs        LegState
	Positions   []Position
	Reason      string
	EvaluatedAt time.Time
}

type BacktestResult struct {
	ID             string
	Asset1         string
	Asset2         string
	Interval       string
	Days           int
	Bars           int
	Correlation    float64
	Alpha          float64
	Beta           float64
	SpreadMean     float64
	SpreadStd      float64
	Spread         float64
	ZScore         float64
	LastPrice1     decimal.Decimal
	LastPrice2     decimal.Decimal
	Signal         Signal
	SignalStrength string
	IsStationary   bool
	Report         string
	ZScoreChart    string
	SpreadChart    string
	ArbitrageCount int
	Liquidations   int
	CreatedAt      time.Time
}

type AuditAction string

const (
	AuditOpen  AuditAction = "open"
	AuditClose AuditAction = "close"
)

// AuditEvent records a position change for the external history collaborator.
type AuditEvent struct {
	Action    AuditAction     `json:"action"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Reason    string          `json:"reason"`
	ZScore    float64         `json:"z_score"`
	Timestamp time.Time       `json:"timestamp"`
}
