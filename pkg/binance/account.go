package binance

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gregtusar/pairs/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type balanceEntry struct {
	Asset            string          `json:"asset"`
	Balance          decimal.Decimal `json:"balance"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
}

// GetBalances returns wallet balances keyed by asset.
func (c *Client) GetBalances(ctx context.Context) (map[string]models.Balance, error) {
	var entries []balanceEntry
	if err := c.call(ctx, http.MethodGet, "/fapi/v2/balance", nil, true, &entries); err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	out := make(map[string]models.Balance, len(entries))
	for _, e := range entries {
		out[e.Asset] = models.Balance{Asset: e.Asset, Balance: e.Balance, AvailableBalance: e.AvailableBalance}
	}
	return out, nil
}

type positionRisk struct {
	Symbol           string          `json:"symbol"`
	PositionSide     string          `json:"positionSide"`
	PositionAmt      decimal.Decimal `json:"positionAmt"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	MarkPrice        decimal.Decimal `json:"markPrice"`
	UnRealizedProfit decimal.Decimal `json:"unRealizedProfit"`
	LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
	Leverage         decimal.Decimal `json:"leverage"`
	MarginType       string          `json:"marginType"`
	UpdateTime       int64           `json:"updateTime"`
}

// GetPositions returns nonzero positions, optionally for a single symbol.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]models.Position, error) {
	params := NewParams()
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var risks []positionRisk
	if err := c.call(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, true, &risks); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	var out []models.Position
	for _, r := range risks {
		if r.PositionAmt.IsZero() {
			continue
		}
		mode := models.MarginModeCross
		if strings.EqualFold(r.MarginType, "isolated") {
			mode = models.MarginModeIsolated
		}
		out = append(out, models.Position{
			Symbol:           r.Symbol,
			PositionSide:     models.PositionSide(r.PositionSide),
			Quantity:         r.PositionAmt,
			EntryPrice:       r.EntryPrice,
			MarkPrice:        r.MarkPrice,
			LiquidationPrice: r.LiquidationPrice,
			UnrealizedProfit: r.UnRealizedProfit,
			Leverage:         int(r.Leverage.IntPart()),
			MarginMode:       mode,
			UpdatedAt:        time.UnixMilli(r.UpdateTime),
		})
	}
	return out, nil
}

type orderResponse struct {
	OrderID       int64           `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	PositionSide  string          `json:"positionSide"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Price         decimal.Decimal `json:"price"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	UpdateTime    int64           `json:"updateTime"`
}

func (o orderResponse) toModel() models.Order {
	return models.Order{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          models.OrderSide(o.Side),
		PositionSide:  models.PositionSide(o.PositionSide),
		Type:          models.OrderType(o.Type),
		Status:        models.OrderStatus(o.Status),
		Price:         o.Price,
		AvgPrice:      o.AvgPrice,
		OrigQty:       o.OrigQty,
		ExecutedQty:   o.ExecutedQty,
		UpdatedAt:     time.UnixMilli(o.UpdateTime),
	}
}

func newClientOrderID() string {
	return "pairs_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// PlaceOrder submits a new order. Limit orders carry price and GTC.
func (c *Client) PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.Order, error) {
	if req == nil {
		return nil, fmt.Errorf("place order: nil request")
	}
	params := NewParams().
		Set("symbol", req.Symbol).
		Set("side", string(req.Side))
	if req.PositionSide != "" {
		params.Set("positionSide", string(req.PositionSide))
	}
	orderType := req.Type
	if orderType == "" {
		orderType = models.OrderTypeMarket
	}
	params.Set("type", string(orderType))
	params.Set("quantity", req.Quantity.String())
	if req.Price != nil && orderType != models.OrderTypeMarket {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	}
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = newClientOrderID()
	}
	params.Set("newClientOrderId", clientID)

	var resp orderResponse
	if err := c.call(ctx, http.MethodPost, "/fapi/v1/order", params, true, &resp); err != nil {
		return nil, fmt.Errorf("place order %s %s: %w", req.Side, req.Symbol, err)
	}
	order := resp.toModel()

	c.logger.WithFields(logrus.Fields{
		"symbol":   req.Symbol,
		"side":     req.Side,
		"quantity": req.Quantity.String(),
		"order_id": order.OrderID,
		"status":   order.Status,
	}).Info("Order placed")
	return &order, nil
}

// GetOpenOrders lists open orders, optionally for a single symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	params := NewParams()
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var resp []orderResponse
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/openOrders", params, true, &resp); err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	out := make([]models.Order, 0, len(resp))
	for _, o := range resp {
		out = append(out, o.toModel())
	}
	return out, nil
}

// CancelOrder cancels orderID if it is still open. It returns false without
// calling the cancel endpoint when the order is not among the open orders.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (bool, error) {
	open, err := c.GetOpenOrders(ctx, symbol)
	if err != nil {
		return false, err
	}
	found := false
	for _, o := range open {
		if o.OrderID == orderID {
			found = true
			break
		}
	}
	if !found {
		c.logger.WithFields(logrus.Fields{"symbol": symbol, "order_id": orderID}).Warn("Order to cancel not found")
		return false, nil
	}

	params := NewParams().Set("symbol", symbol).Set("orderId", orderID)
	var resp orderResponse
	if err := c.call(ctx, http.MethodDelete, "/fapi/v1/order", params, true, &resp); err != nil {
		return false, fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	return resp.OrderID != 0, nil
}

// ClosePositions flattens every open position on symbol with opposite market orders.
func (c *Client) ClosePositions(ctx context.Context, symbol string) error {
	positions, err := c.GetPositions(ctx, symbol)
	if err != nil {
		return err
	}
	for _, p := range positions {
		side := models.OrderSideBuy
		if p.IsLong() {
			side = models.OrderSideSell
		}
		_, err := c.PlaceOrder(ctx, &models.OrderRequest{
			Symbol:       p.Symbol,
			Side:         side,
			PositionSide: p.PositionSide,
			Type:         models.OrderTypeMarket,
			Quantity:     p.AbsQuantity(),
		})
		if err != nil {
			return fmt.Errorf("close position %s: %w", p.Symbol, err)
		}
	}
	return nil
}

// SetLeverage succeeds only when the exchange echoes the requested leverage.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) (bool, error) {
	params := NewParams().Set("symbol", symbol).Set("leverage", leverage)
	var resp struct {
		Symbol   string `json:"symbol"`
		Leverage int    `json:"leverage"`
	}
	if err := c.call(ctx, http.MethodPost, "/fapi/v1/leverage", params, true, &resp); err != nil {
		return false, fmt.Errorf("set leverage %s: %w", symbol, err)
	}
	c.logger.WithFields(logrus.Fields{"symbol": symbol, "leverage": resp.Leverage}).Info("Leverage set")
	return resp.Leverage == leverage, nil
}
