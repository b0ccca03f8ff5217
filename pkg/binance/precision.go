package binance

import (
	"context"

	"github.com/shopspring/decimal"
)

// AdjustPrice rounds price down to a multiple of tick. Aligned prices and a
// non-positive tick return price unchanged.
func AdjustPrice(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	q, r := price.QuoRem(tick, 0)
	if r.IsZero() {
		return price
	}
	return q.Mul(tick)
}

// AdjustQuantity rounds qty up to precision decimal places so a sized order
// never falls under the minimum notional because of truncation.
func AdjustQuantity(qty decimal.Decimal, precision int32) decimal.Decimal {
	return qty.RoundUp(precision)
}

func (c *Client) AdjustPrice(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	filter, err := c.GetPriceFilter(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return AdjustPrice(price, filter.TickSize), nil
}

func (c *Client) AdjustQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, error) {
	info, err := c.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return AdjustQuantity(qty, info.QuantityPrecision), nil
}
