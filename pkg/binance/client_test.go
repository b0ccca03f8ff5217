package binance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gregtusar/pairs/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, key, secret string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewClient(Config{APIKey: key, SecretKey: secret, BaseURL: srv.URL}, logger)
}

func TestSignedQueryOrdering(t *testing.T) {
	s := NewSigner("key", "secret")
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }

	q, err := s.SignedQuery(NewParams().Set("symbol", "BTCUSDT").Set("leverage", 5))
	require.NoError(t, err)

	payload := "symbol=BTCUSDT&leverage=5&timestamp=1700000000000"
	assert.Equal(t, payload+"&signature="+computeHMAC(payload, "secret"), q)
}

func TestParamsEncodeValueTypes(t *testing.T) {
	p := NewParams().
		Set("reduceOnly", true).
		Set("closePosition", false).
		Set("recvWindow", int64(5000)).
		Set("quantity", decimal.RequireFromString("0.01")).
		Set("limit", uint(3))

	assert.Equal(t, "reduceOnly=true&closePosition=false&recvWindow=5000&quantity=0.01&limit=3", p.Encode())
}

func TestSignedQueryWithoutParams(t *testing.T) {
	s := NewSigner("key", "secret")
	s.now = func() time.Time { return time.UnixMilli(42) }

	q, err := s.SignedQuery(nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(q, "timestamp=42&signature="))
}

func TestComputeHMACKnownVector(t *testing.T) {
	// Vector from the exchange's signing documentation.
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", computeHMAC(payload, secret))
}

func TestSignedCallRequiresCredentials(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}, "", "")

	_, err := c.GetPositions(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingCredentials))
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestReloadCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "new-key", r.Header.Get(apiKeyHeader))
		fmt.Fprint(w, `[]`)
	}, "", "")

	c.ReloadCredentials("new-key", "new-secret")
	_, err := c.GetPositions(context.Background(), "")
	require.NoError(t, err)
}

func TestAPIErrorCarriesStatusAndBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}, "key", "secret")

	_, err := c.GetPrice(context.Background(), "NOPE")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, -1121, apiErr.Code)
	assert.Equal(t, "Invalid symbol.", apiErr.Message)
	assert.Contains(t, apiErr.Body, "Invalid symbol")
}

func TestMalformedPayloadIsAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	}, "", "")

	_, err := c.GetPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.True(t, IsAPIError(err))
}

func TestGetPriceSendsKeyHeader(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/ticker/price", r.URL.Path)
		assert.Equal(t, "symbol=ETHUSDT", r.URL.RawQuery)
		assert.Equal(t, "key", r.Header.Get(apiKeyHeader))
		fmt.Fprint(w, `{"symbol":"ETHUSDT","price":"3012.45","time":1}`)
	}, "key", "secret")

	price, err := c.GetPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("3012.45").Equal(price))
}

func klineJSON(openMs int64, close string) string {
	return fmt.Sprintf(`[%d,"1.0","2.0","0.5","%s","100",%d,"150",12,"40","60","0"]`, openMs, close, openMs+3599999)
}

func TestGetKlinesParsesBars(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		fmt.Fprintf(w, "[%s,%s]", klineJSON(1000, "1.5"), klineJSON(3601000, "1.7"))
	}, "", "")

	bars, err := c.GetKlines(context.Background(), "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.UnixMilli(1000), bars[0].OpenTime)
	assert.True(t, decimal.RequireFromString("1.7").Equal(bars[1].Close))
	assert.Equal(t, int64(12), bars[0].Trades)
	assert.True(t, decimal.RequireFromString("60").Equal(bars[0].TakerBuyQuoteVolume))
}

func TestGetKlinesPaginates(t *testing.T) {
	const total = 1600
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end := int64(total)
		if e := r.URL.Query().Get("endTime"); e != "" {
			end, _ = strconv.ParseInt(e, 10, 64)
			end++
		}
		start := end - int64(limit)
		if start < 0 {
			start = 0
		}
		parts := make([]string, 0, limit)
		for i := start; i < end; i++ {
			parts = append(parts, klineJSON(i, strconv.FormatInt(i, 10)))
		}
		fmt.Fprintf(w, "[%s]", strings.Join(parts, ","))
	}, "", "")

	bars, err := c.GetKlines(context.Background(), "BTCUSDT", "1m", total)
	require.NoError(t, err)
	require.Len(t, bars, total)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	for i := 1; i < len(bars); i++ {
		require.True(t, bars[i].OpenTime.After(bars[i-1].OpenTime))
	}
}

func TestGetPositionsFiltersZero(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v2/positionRisk", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		fmt.Fprint(w, `[
			{"symbol":"BTCUSDT","positionSide":"BOTH","positionAmt":"0.010","entryPrice":"60000","markPrice":"61000","unRealizedProfit":"10","liquidationPrice":"50000","leverage":"5","marginType":"cross","updateTime":1},
			{"symbol":"ETHUSDT","positionSide":"BOTH","positionAmt":"0","entryPrice":"0","markPrice":"3000","unRealizedProfit":"0","liquidationPrice":"0","leverage":"5","marginType":"cross","updateTime":1},
			{"symbol":"SOLUSDT","positionSide":"BOTH","positionAmt":"-2","entryPrice":"150","markPrice":"140","unRealizedProfit":"20","liquidationPrice":"200","leverage":"10","marginType":"isolated","updateTime":1}
		]`)
	}, "key", "secret")

	positions, err := c.GetPositions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.True(t, positions[0].IsLong())
	assert.True(t, positions[1].IsShort())
	assert.Equal(t, models.MarginModeIsolated, positions[1].MarginMode)
	assert.Equal(t, 10, positions[1].Leverage)
}

func TestPlaceOrderPostsFormBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Empty(t, r.URL.RawQuery)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		s := string(body)
		assert.True(t, strings.HasPrefix(s, "symbol=BTCUSDT&side=BUY&positionSide=BOTH&type=MARKET&quantity=0.012&newClientOrderId=abc&timestamp="))
		assert.Contains(t, s, "&signature=")
		assert.NotContains(t, s, "price=")
		fmt.Fprint(w, `{"orderId":77,"clientOrderId":"abc","symbol":"BTCUSDT","side":"BUY","status":"NEW","avgPrice":"0","origQty":"0.012"}`)
	}, "key", "secret")

	order, err := c.PlaceOrder(context.Background(), &models.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          models.OrderSideBuy,
		PositionSide:  models.PositionSideBoth,
		Type:          models.OrderTypeMarket,
		Quantity:      decimal.RequireFromString("0.012"),
		ClientOrderID: "abc",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(77), order.OrderID)
	assert.Equal(t, models.OrderStatusNew, order.Status)
}

func TestCancelOrderNotOpen(t *testing.T) {
	var deletes int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			atomic.AddInt32(&deletes, 1)
		}
		fmt.Fprint(w, `[{"orderId":1,"symbol":"BTCUSDT","status":"NEW"}]`)
	}, "key", "secret")

	ok, err := c.CancelOrder(context.Background(), "BTCUSDT", 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(0), atomic.LoadInt32(&deletes))
}

func TestCancelOrderOpen(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, `[{"orderId":5,"symbol":"BTCUSDT","status":"NEW"}]`)
		case http.MethodDelete:
			assert.Equal(t, "5", r.URL.Query().Get("orderId"))
			fmt.Fprint(w, `{"orderId":5,"symbol":"BTCUSDT","status":"CANCELED"}`)
		}
	}, "key", "secret")

	ok, err := c.CancelOrder(context.Background(), "BTCUSDT", 5)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetLeverageEcho(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"BTCUSDT","leverage":3,"maxNotionalValue":"1000000"}`)
	}, "key", "secret")

	ok, err := c.SetLeverage(context.Background(), "BTCUSDT", 5)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.SetLeverage(context.Background(), "BTCUSDT", 3)
	require.NoError(t, err)
	assert.True(t, ok)
}

const exchangeInfoBody = `{"symbols":[
	{"symbol":"ETHUSDT","status":"TRADING","quantityPrecision":3,"pricePrecision":2,"filters":[{"filterType":"PRICE_FILTER","minPrice":"0.01","maxPrice":"100000","tickSize":"0.01"}]},
	{"symbol":"BTCUSDT","status":"TRADING","quantityPrecision":3,"pricePrecision":1,"filters":[{"filterType":"PRICE_FILTER","minPrice":"0.1","maxPrice":"1000000","tickSize":"0.10"}]},
	{"symbol":"OLDUSDT","status":"SETTLING","quantityPrecision":0,"filters":[]}
]}`

func TestTradingSymbolsSortedAndFiltered(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, exchangeInfoBody)
	}, "", "")

	symbols, err := c.TradingSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, symbols)
}

func TestClientAdjustHelpers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, exchangeInfoBody)
	}, "", "")
	ctx := context.Background()

	price, err := c.AdjustPrice(ctx, "BTCUSDT", decimal.RequireFromString("60123.47"))
	require.NoError(t, err)
	assert.Equal(t, "60123.4", price.String())

	qty, err := c.AdjustQuantity(ctx, "ETHUSDT", decimal.RequireFromString("0.12301"))
	require.NoError(t, err)
	assert.Equal(t, "0.124", qty.String())

	_, err = c.GetSymbolInfo(ctx, "MISSING")
	assert.Error(t, err)
}
