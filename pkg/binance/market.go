package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gregtusar/pairs/pkg/models"
	"github.com/shopspring/decimal"
)

// MaxKlinesPerRequest is the exchange cap on a single klines page.
const MaxKlinesPerRequest = 1500

type tickerPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   int64           `json:"time"`
}

// GetPrice returns the latest traded price for symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var t tickerPrice
	params := NewParams().Set("symbol", symbol)
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/ticker/price", params, false, &t); err != nil {
		return decimal.Zero, fmt.Errorf("get price %s: %w", symbol, err)
	}
	return t.Price, nil
}

type kline struct {
	bar models.PriceBar
}

func (k *kline) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 11 {
		return fmt.Errorf("kline has %d fields", len(raw))
	}
	var openTime, closeTime int64
	if err := json.Unmarshal(raw[0], &openTime); err != nil {
		return fmt.Errorf("kline open time: %w", err)
	}
	if err := json.Unmarshal(raw[6], &closeTime); err != nil {
		return fmt.Errorf("kline close time: %w", err)
	}
	k.bar.OpenTime = time.UnixMilli(openTime)
	k.bar.CloseTime = time.UnixMilli(closeTime)
	if err := json.Unmarshal(raw[8], &k.bar.Trades); err != nil {
		return fmt.Errorf("kline trades: %w", err)
	}

	decimals := []struct {
		idx int
		dst *decimal.Decimal
	}{
		{1, &k.bar.Open},
		{2, &k.bar.High},
		{3, &k.bar.Low},
		{4, &k.bar.Close},
		{5, &k.bar.Volume},
		{7, &k.bar.QuoteVolume},
		{9, &k.bar.TakerBuyBaseVolume},
		{10, &k.bar.TakerBuyQuoteVolume},
	}
	for _, d := range decimals {
		if err := d.dst.UnmarshalJSON(raw[d.idx]); err != nil {
			return fmt.Errorf("kline field %d: %w", d.idx, err)
		}
	}
	return nil
}

// GetKlines returns up to limit most recent bars, oldest first. Requests
// above MaxKlinesPerRequest are paged backwards with endTime.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.PriceBar, error) {
	if limit <= 0 {
		limit = 500
	}

	var bars []models.PriceBar
	var endTime int64
	for remaining := limit; remaining > 0; {
		page := remaining
		if page > MaxKlinesPerRequest {
			page = MaxKlinesPerRequest
		}
		params := NewParams().
			Set("symbol", symbol).
			Set("interval", interval).
			Set("limit", page)
		if endTime > 0 {
			params.Set("endTime", endTime)
		}

		var klines []kline
		if err := c.call(ctx, http.MethodGet, "/fapi/v1/klines", params, false, &klines); err != nil {
			return nil, fmt.Errorf("get klines %s %s: %w", symbol, interval, err)
		}
		if len(klines) == 0 {
			break
		}

		chunk := make([]models.PriceBar, len(klines))
		for i, k := range klines {
			chunk[i] = k.bar
		}
		bars = append(chunk, bars...)
		remaining -= len(chunk)
		if len(chunk) < page {
			break
		}
		endTime = chunk[0].OpenTime.UnixMilli() - 1
	}
	return bars, nil
}

type exchangeFilter struct {
	FilterType string          `json:"filterType"`
	MinPrice   decimal.Decimal `json:"minPrice"`
	MaxPrice   decimal.Decimal `json:"maxPrice"`
	TickSize   decimal.Decimal `json:"tickSize"`
}

type exchangeSymbol struct {
	Symbol                string           `json:"symbol"`
	Pair                  string           `json:"pair"`
	ContractType          string           `json:"contractType"`
	Status                string           `json:"status"`
	BaseAsset             string           `json:"baseAsset"`
	QuoteAsset            string           `json:"quoteAsset"`
	MarginAsset           string           `json:"marginAsset"`
	PricePrecision        int32            `json:"pricePrecision"`
	QuantityPrecision     int32            `json:"quantityPrecision"`
	MaintMarginPercent    decimal.Decimal  `json:"maintMarginPercent"`
	RequiredMarginPercent decimal.Decimal  `json:"requiredMarginPercent"`
	DeliveryDate          int64            `json:"deliveryDate"`
	OnboardDate           int64            `json:"onboardDate"`
	Filters               []exchangeFilter `json:"filters"`
}

func (s exchangeSymbol) toModel() models.SymbolInfo {
	info := models.SymbolInfo{
		Symbol:                s.Symbol,
		Pair:                  s.Pair,
		ContractType:          s.ContractType,
		Status:                models.SymbolStatus(s.Status),
		BaseAsset:             s.BaseAsset,
		QuoteAsset:            s.QuoteAsset,
		MarginAsset:           s.MarginAsset,
		PricePrecision:        s.PricePrecision,
		QuantityPrecision:     s.QuantityPrecision,
		MaintMarginPercent:    s.MaintMarginPercent,
		RequiredMarginPercent: s.RequiredMarginPercent,
	}
	if s.DeliveryDate > 0 {
		info.DeliveryDate = time.UnixMilli(s.DeliveryDate)
	}
	if s.OnboardDate > 0 {
		info.OnboardDate = time.UnixMilli(s.OnboardDate)
	}
	for _, f := range s.Filters {
		if f.FilterType == "PRICE_FILTER" {
			info.PriceFilter = models.PriceFilter{MinPrice: f.MinPrice, MaxPrice: f.MaxPrice, TickSize: f.TickSize}
		}
	}
	return info
}

type exchangeInfo struct {
	Symbols []exchangeSymbol `json:"symbols"`
}

// GetExchangeInfo returns metadata for every listed symbol.
func (c *Client) GetExchangeInfo(ctx context.Context) ([]models.SymbolInfo, error) {
	var info exchangeInfo
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &info); err != nil {
		return nil, fmt.Errorf("get exchange info: %w", err)
	}
	out := make([]models.SymbolInfo, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		out = append(out, s.toModel())
	}
	return out, nil
}

func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (*models.SymbolInfo, error) {
	infos, err := c.GetExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		if infos[i].Symbol == symbol {
			return &infos[i], nil
		}
	}
	return nil, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

func (c *Client) GetPriceFilter(ctx context.Context, symbol string) (models.PriceFilter, error) {
	info, err := c.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return models.PriceFilter{}, err
	}
	return info.PriceFilter, nil
}

// TradingSymbols lists symbols currently in TRADING status, sorted.
func (c *Client) TradingSymbols(ctx context.Context) ([]string, error) {
	infos, err := c.GetExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, info := range infos {
		if info.Status == models.SymbolStatusTrading {
			out = append(out, info.Symbol)
		}
	}
	sort.Strings(out)
	return out, nil
}
