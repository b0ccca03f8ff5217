package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar is a single closed (or forming) kline. Bars are ordered by OpenTime ascending.
type PriceBar struct {
	OpenTime            time.Time
	Open                decimal.Decimal
	High                decimal.Decimal
	Low                 decimal.Decimal
	Close               decimal.Decimal
	Volume              decimal.Decimal
	CloseTime           time.Time
	QuoteVolume         decimal.Decimal
	Trades              int64
	TakerBuyBaseVolume  decimal.Decimal
	TakerBuyQuoteVolume decimal.Decimal
}

// Closes extracts close prices as float64 for the statistics routines.
func Closes(bars []PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close.InexactFloat64()
	}
	return out
}

type SymbolStatus string

const (
	SymbolStatusTrading SymbolStatus = "TRADING"
)

type PriceFilter struct {
	MinPrice decimal.Decimal
	MaxPrice decimal.Decimal
	TickSize decimal.Decimal
}

type SymbolInfo struct {
	Symbol                string
	Pair                  string
	ContractType          string
	Status                SymbolStatus
	BaseAsset             string
	QuoteAsset            string
	MarginAsset           string
	PricePrecision        int32
	QuantityPrecision     int32
	MaintMarginPercent    decimal.Decimal
	RequiredMarginPercent decimal.Decimal
	PriceFilter           PriceFilter
	DeliveryDate          time.Time
	OnboardDate           time.Time
}

type Balance struct {
	Asset            string
	Balance          decimal.Decimal
	AvailableBalance decimal.Decimal
}

type PositionSide string

const (
	PositionSideBoth  PositionSide = "BOTH"
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

type MarginMode string

const (
	MarginModeCross    MarginMode = "cross"
	MarginModeIsolated MarginMode = "isolated"
)

// Position is exchange-owned state. Quantity is signed: positive long, negative short.
type Position struct {
	Symbol           string
	PositionSide     PositionSide
	Quantity         decimal.Decimal
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	LiquidationPrice decimal.Decimal
	UnrealizedProfit decimal.Decimal
	Leverage         int
	MarginMode       MarginMode
	UpdatedAt        time.Time
}

func (p Position) IsLong() bool {
	return p.Quantity.IsPositive()
}

func (p Position) IsShort() bool {
	return p.Quantity.IsNegative()
}

// Side reports the direction derived from the signed quantity.
func (p Position) Side() string {
	switch {
	case p.IsLong():
		return "long"
	case p.IsShort():
		return "short"
	default:
		return "flat"
	}
}

func (p Position) AbsQuantity() decimal.Decimal {
	return p.Quantity.Abs()
}

// UnrealizedProfitPercent returns P/L relative to the initial margin, in percent.
func (p Position) UnrealizedProfitPercent() decimal.Decimal {
	if p.MarkPrice.IsZero() || p.Leverage == 0 {
		return decimal.Zero
	}
	notional := p.MarkPrice.Mul(p.Quantity.Abs())
	margin := notional.DivRound(decimal.NewFromInt(int64(p.Leverage)), 4)
	if margin.IsZero() {
		return decimal.Zero
	}
	return p.UnrealizedProfit.DivRound(margin, 4).Mul(decimal.NewFromInt(100))
}
